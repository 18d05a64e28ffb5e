// Package config loads service configuration from PHAROS_* environment
// variables and validates it at startup.
package config
