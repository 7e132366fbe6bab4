// Package config loads, normalizes, and validates livecheck configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// LIVECHECK_SUBMIT_ENDPOINT. The Config type centralizes every knob the daemon
// and CLI need, so the camera device, submission endpoint, and control API
// address are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
