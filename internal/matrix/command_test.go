package matrix

import (
	"errors"
	"testing"
)

func TestCodecEncoding(t *testing.T) {
	c := NewCodec(8, 8)

	tests := []struct {
		name     string
		build    func() (Command, error)
		wantWire string
		wantOp   Op
	}{
		{
			name:     "route one",
			build:    func() (Command, error) { return c.RouteOne(1, 2) },
			wantWire: "01V02.",
			wantOp:   OpRouteOne,
		},
		{
			name:     "route one high channels",
			build:    func() (Command, error) { return c.RouteOne(8, 8) },
			wantWire: "08V08.",
			wantOp:   OpRouteOne,
		},
		{
			name:     "route multi",
			build:    func() (Command, error) { return c.RouteMulti(1, []int{2, 5, 7}) },
			wantWire: "01V02,05,07.",
			wantOp:   OpRouteMulti,
		},
		{
			name:     "route all",
			build:    func() (Command, error) { return c.RouteAll(3) },
			wantWire: "03All.",
			wantOp:   OpRouteAll,
		},
		{
			name:     "route through",
			build:    func() (Command, error) { return c.RouteThrough(), nil },
			wantWire: "All#.",
			wantOp:   OpRouteThrough,
		},
		{
			name:     "output through",
			build:    func() (Command, error) { return c.OutputThrough(5) },
			wantWire: "05#.",
			wantOp:   OpOutputThrough,
		},
		{
			name:     "output on",
			build:    func() (Command, error) { return c.OutputOn(5) },
			wantWire: "05@.",
			wantOp:   OpOutputOn,
		},
		{
			name:     "output off",
			build:    func() (Command, error) { return c.OutputOff(5) },
			wantWire: "05$.",
			wantOp:   OpOutputOff,
		},
		{
			name:     "all on",
			build:    func() (Command, error) { return c.AllOn(), nil },
			wantWire: "All@.",
			wantOp:   OpAllOn,
		},
		{
			name:     "all off",
			build:    func() (Command, error) { return c.AllOff(), nil },
			wantWire: "All$.",
			wantOp:   OpAllOff,
		},
		{
			name:     "save preset",
			build:    func() (Command, error) { return c.SavePreset(5) },
			wantWire: "Save5.",
			wantOp:   OpSavePreset,
		},
		{
			name:     "recall preset slot zero",
			build:    func() (Command, error) { return c.RecallPreset(0) },
			wantWire: "Recall0.",
			wantOp:   OpRecallPreset,
		},
		{
			name:     "clear preset",
			build:    func() (Command, error) { return c.ClearPreset(9) },
			wantWire: "Clear9.",
			wantOp:   OpClearPreset,
		},
		{
			name:     "power on",
			build:    func() (Command, error) { return c.SetPower(PowerOn) },
			wantWire: "PWON.",
			wantOp:   OpPowerOn,
		},
		{
			name:     "power standby",
			build:    func() (Command, error) { return c.SetPower(PowerStandby) },
			wantWire: "STANDBY.",
			wantOp:   OpPowerStandby,
		},
		{
			name:     "power off",
			build:    func() (Command, error) { return c.SetPower(PowerOff) },
			wantWire: "PWOFF.",
			wantOp:   OpPowerOff,
		},
		{
			name:     "lock output",
			build:    func() (Command, error) { return c.SetLock(1, true) },
			wantWire: "I-Lock01.",
			wantOp:   OpLockOutput,
		},
		{
			name:     "unlock output",
			build:    func() (Command, error) { return c.SetLock(1, false) },
			wantWire: "I-UnLock01.",
			wantOp:   OpUnlockOutput,
		},
		{
			name:     "lock all",
			build:    func() (Command, error) { return c.SetLockAll(true), nil },
			wantWire: "A-Lock.",
			wantOp:   OpLockAll,
		},
		{
			name:     "unlock all",
			build:    func() (Command, error) { return c.SetLockAll(false), nil },
			wantWire: "A-UnLock.",
			wantOp:   OpUnlockAll,
		},
		{
			name:     "query status",
			build:    func() (Command, error) { return c.QueryStatus(), nil },
			wantWire: "Status.",
			wantOp:   OpQueryStatus,
		},
		{
			name:     "query output status",
			build:    func() (Command, error) { return c.QueryOutputStatus(3) },
			wantWire: "Status03.",
			wantOp:   OpQueryOutput,
		},
		{
			name:     "query lock status",
			build:    func() (Command, error) { return c.QueryLockStatus(), nil },
			wantWire: "Lock-Sta.",
			wantOp:   OpQueryLock,
		},
		{
			name:     "query power",
			build:    func() (Command, error) { return c.QueryPower(), nil },
			wantWire: "%9962.",
			wantOp:   OpQueryPower,
		},
		{
			name:     "query model",
			build:    func() (Command, error) { return c.QueryModel(), nil },
			wantWire: "/*Type;",
			wantOp:   OpQueryModel,
		},
		{
			name:     "query version",
			build:    func() (Command, error) { return c.QueryVersion(), nil },
			wantWire: "/^Version;",
			wantOp:   OpQueryVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := tt.build()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Wire != tt.wantWire {
				t.Errorf("Wire = %q, want %q", cmd.Wire, tt.wantWire)
			}
			if cmd.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", cmd.Op, tt.wantOp)
			}
		})
	}
}

func TestCodecValidation(t *testing.T) {
	c := NewCodec(8, 8)

	tests := []struct {
		name  string
		build func() (Command, error)
	}{
		{"input zero", func() (Command, error) { return c.RouteOne(0, 1) }},
		{"input too high", func() (Command, error) { return c.RouteOne(9, 1) }},
		{"output zero", func() (Command, error) { return c.RouteOne(1, 0) }},
		{"output too high", func() (Command, error) { return c.RouteOne(1, 9) }},
		{"negative input", func() (Command, error) { return c.RouteAll(-1) }},
		{"multi empty outputs", func() (Command, error) { return c.RouteMulti(1, nil) }},
		{"multi bad output", func() (Command, error) { return c.RouteMulti(1, []int{2, 12}) }},
		{"preset slot negative", func() (Command, error) { return c.SavePreset(-1) }},
		{"preset slot too high", func() (Command, error) { return c.RecallPreset(10) }},
		{"clear slot too high", func() (Command, error) { return c.ClearPreset(11) }},
		{"lock output out of range", func() (Command, error) { return c.SetLock(9, true) }},
		{"query output out of range", func() (Command, error) { return c.QueryOutputStatus(0) }},
		{"unknown power state", func() (Command, error) { return c.SetPower(PowerUnknown) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestCodecValidationBeforeEncoding(t *testing.T) {
	c := NewCodec(8, 8)
	cmd, err := c.RouteOne(1, 99)
	if err == nil {
		t.Fatal("expected error for out-of-range output")
	}
	if cmd.Wire != "" {
		t.Errorf("Wire = %q, want empty on validation failure", cmd.Wire)
	}
}

func TestQueryCommandsRequireResponse(t *testing.T) {
	c := NewCodec(8, 8)
	for _, cmd := range []Command{
		c.QueryStatus(), c.QueryLockStatus(), c.QueryPower(),
		c.QueryModel(), c.QueryVersion(),
	} {
		if cmd.SilentOK {
			t.Errorf("%s: queries must not settle on silence", cmd.Op)
		}
	}
}

func TestMutationsSettleOnSilence(t *testing.T) {
	c := NewCodec(8, 8)
	route, _ := c.RouteOne(1, 2)
	save, _ := c.SavePreset(3)
	power, _ := c.SetPower(PowerOn)
	for _, cmd := range []Command{route, save, power, c.RouteThrough(), c.AllOff()} {
		if !cmd.SilentOK {
			t.Errorf("%s: mutation should settle on silence", cmd.Op)
		}
	}
}
