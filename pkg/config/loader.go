package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// cache keeps one parsed value per configuration type.
type cache struct {
	mu     sync.Mutex
	values map[reflect.Type]any
}

var (
	loaded = &cache{values: make(map[reflect.Type]any)}

	dotenvMu     sync.Mutex
	dotenvLoaded bool
)

// LoadEnv reads .env files into the process environment. Without arguments it
// reads ./.env and keeps variables that are already set. Explicit paths are
// applied in order and override the environment, so later files win.
func LoadEnv(paths ...string) error {
	dotenvMu.Lock()
	defer dotenvMu.Unlock()
	dotenvLoaded = true

	if len(paths) == 0 {
		if err := godotenv.Load(); err != nil {
			return errors.Join(ErrLoadingEnvFile, err)
		}
		return nil
	}
	if err := godotenv.Overload(paths...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// MustLoadEnv is LoadEnv that panics on failure.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(err)
	}
}

// Load parses the environment into v. Each configuration type is parsed once;
// later calls return the cached value. The default .env file is read on the
// first call unless LoadEnv ran before; a missing file is not an error.
//
//	var cfg storage.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	loadDefaultEnv()

	key := typeKey[T]()

	loaded.mu.Lock()
	defer loaded.mu.Unlock()

	if cached, ok := loaded.values[key]; ok {
		*v = cached.(T)
		return nil
	}

	var parsed T
	if err := env.Parse(&parsed); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	loaded.values[key] = parsed
	*v = parsed
	return nil
}

// MustLoad is Load that panics on failure. Meant for configuration without
// which the process cannot start.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// ForceReloadConfig drops the cached value of T and parses it again.
func ForceReloadConfig[T any](v *T) error {
	loaded.mu.Lock()
	delete(loaded.values, typeKey[T]())
	loaded.mu.Unlock()
	return Load(v)
}

// ResetCache forgets every parsed configuration. Tests use it between cases.
func ResetCache() {
	loaded.mu.Lock()
	loaded.values = make(map[reflect.Type]any)
	loaded.mu.Unlock()
}

func loadDefaultEnv() {
	dotenvMu.Lock()
	defer dotenvMu.Unlock()
	if dotenvLoaded {
		return
	}
	dotenvLoaded = true
	_ = godotenv.Load()
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}
