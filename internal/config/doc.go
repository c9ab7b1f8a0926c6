// Package config provides configuration loading and validation for the voice reminder service.
// It handles YAML-based configuration with per-section validation, fills defaults for
// missing keys, and overlays secrets from the environment or a dotenv file.
package config
