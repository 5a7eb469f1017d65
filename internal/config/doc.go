// Package config defines the monitor settings and provides helpers to load,
// validate and save them in YAML format.
//
// Validate fills every tuning constant that was left unset with the value
// the detector was calibrated with, so an empty file is a working setup.
package config
