// Package config loads and validates the gateway's YAML configuration.
//
// Values of the form ${VAR_NAME} are expanded from the environment before
// parsing, duration fields are parsed from their string form, and Validate
// rejects configurations missing required fields.
package config
