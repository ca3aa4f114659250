// Package config loads and validates the OpenMesa configuration from a
// YAML file with environment variable overrides.
package config
