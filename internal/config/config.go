// Package config adds an optional YAML file overlay on top of the
// programmatic kv.Options, so a host can check a tuned options.yaml
// into its repo instead of hard-coding every tuning knob at the call
// site.
//
// Grounded on dd0wney-graphdb/cmd/graphdb-upgrade's cluster.yaml loader
// (gopkg.in/yaml.v3, plain Unmarshal into a tagged struct, no schema
// validation library); kv.Open keeps working with a zero-value File,
// this package is purely additive.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// File mirrors the subset of kv.Options a host typically wants to tune
// from a checked-in file rather than a call site: engine choice, sizing
// knobs, durability defaults, and logging. kv.Open applies EngineName,
// CreateIfMissing, ErrorIfExists, WriteBufferSize and MaxL0Files, each
// only where the caller's Options field was left at its zero value;
// Sync, VerifyChecksums, FillCache and Logging are parsed but not
// applied.
type File struct {
	EngineName      string `yaml:"engine_name"`
	CreateIfMissing *bool  `yaml:"create_if_missing"`
	ErrorIfExists   *bool  `yaml:"error_if_exists"`

	WriteBufferSize int `yaml:"write_buffer_size"`
	MaxL0Files      int `yaml:"max_l0_files"`

	Sync            *bool `yaml:"sync"`
	VerifyChecksums *bool `yaml:"verify_checksums"`
	FillCache       *bool `yaml:"fill_cache"`

	Logging LoggingFile `yaml:"logging"`
}

// LoggingFile configures internal/logger from the same file.
type LoggingFile struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads and parses a YAML options file. A missing file is not an
// error: it returns a zero File so Open's overlay is a no-op.
func Load(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, err
	}
	return f, nil
}

// BoolOr returns the overlay value if set, else the fallback. Exported
// for kv.Open's File-over-Options merge, where an unset *bool means
// "let the programmatic Options decide."
func BoolOr(overlay *bool, fallback bool) bool {
	if overlay == nil {
		return fallback
	}
	return *overlay
}

// IntOr returns the overlay value if it's non-zero, else the fallback.
func IntOr(overlay, fallback int) int {
	if overlay == 0 {
		return fallback
	}
	return overlay
}

// StringOr returns the overlay value if it's non-empty, else the fallback.
func StringOr(overlay, fallback string) string {
	if overlay == "" {
		return fallback
	}
	return overlay
}
