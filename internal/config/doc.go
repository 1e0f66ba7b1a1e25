// Package config defines the YAML configuration for both ROV link roles.
//
// Each binary loads one config file: VehicleConfig for the vehicle-side
// agent and ShoreConfig for the shore station. Every field has a working
// default, so both binaries run with no config file at all; a file only
// needs to name the fields it overrides. CLI flags override file values.
//
// Durations are YAML integers in nanoseconds or omitted to keep the
// default; timing fields exist so bench testing can compress the protocol
// timers, not because deployments are expected to tune them.
package config
