// Package config loads process configuration from the environment.
//
// Values come from environment variables, optionally seeded from .env files
// (github.com/joho/godotenv), and are parsed into tagged structs with
// github.com/caarlos0/env/v11. Every package that needs settings declares its
// own Config struct; the entry point loads them once at startup:
//
//	var db storage.Config
//	if err := config.Load(&db); err != nil {
//		return err
//	}
//
// Each configuration type is parsed once and cached for the lifetime of the
// process; there is no hot reload. ResetCache and ForceReloadConfig exist for
// tests that change the environment.
//
// Errors match ErrParsingConfig, ErrLoadingEnvFile or ErrNilPointer with
// errors.Is.
package config
