// Package config loads the toolflight service configuration.
//
// Configuration is a single YAML document. `${VAR}` references are expanded
// strictly before parsing, unknown keys are rejected, and a small set of
// TOOLFLIGHT_* environment variables override the cache settings last.
package config
