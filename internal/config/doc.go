// Package config loads, normalizes, and validates deepscan configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// DEEPSCAN_STORE_DSN. The Config type enumerates every knob the daemon, the
// worker pool, and the CLI recognise so nothing is read from loosely typed
// maps at first use.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
