// Package config loads and validates the bridge configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file, then
// AVMATRIX_* environment variable overrides. Validation runs last so the
// merged result is checked, not the individual layers.
package config
