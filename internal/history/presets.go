package history

import (
	"context"
	"fmt"
	"time"
)

// SavePresetName upserts a host-assigned preset display name.
// An empty name deletes the entry.
func (j *Journal) SavePresetName(ctx context.Context, deviceID string, slot int, name string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}

	if name == "" {
		_, err := j.db.ExecContext(ctx,
			"DELETE FROM preset_names WHERE device_id = ? AND slot = ?",
			deviceID, slot,
		)
		if err != nil {
			return fmt.Errorf("deleting preset name: %w", err)
		}
		return nil
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO preset_names (device_id, slot, name, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (device_id, slot) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		deviceID, slot, name,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving preset name: %w", err)
	}
	return nil
}

// LoadPresetNames returns all stored names for a device, keyed by slot.
func (j *Journal) LoadPresetNames(ctx context.Context, deviceID string) (map[int]string, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	rows, err := j.db.QueryContext(ctx,
		"SELECT slot, name FROM preset_names WHERE device_id = ?",
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying preset names: %w", err)
	}
	defer rows.Close()

	names := make(map[int]string)
	for rows.Next() {
		var slot int
		var name string
		if err := rows.Scan(&slot, &name); err != nil {
			return nil, fmt.Errorf("scanning preset name row: %w", err)
		}
		names[slot] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating preset name rows: %w", err)
	}
	return names, nil
}
