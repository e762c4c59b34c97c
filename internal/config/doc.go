// Package config provides configuration loading and validation for the
// collector. It layers an optional YAML file over built-in defaults, clamps
// the bounded integer options into their supported ranges, and validates
// everything else with per-section checks.
package config
