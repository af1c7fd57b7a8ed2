// Package config provides configuration loading and validation for the
// companion daemon. It handles YAML-based configuration with per-section
// struct validation.
package config
