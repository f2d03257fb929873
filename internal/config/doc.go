// Package config provides configuration loading and validation for the voice quiz client.
// It handles YAML-based configuration layered over reference defaults and exposes
// duration helpers for the supervisor timers and HTTP transport.
package config
