package config

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type options struct {
	files       []string
	prefix      string
	environment map[string]string
}

// Option configures Load.
type Option func(*options)

// WithEnvFiles loads the given dotenv files before parsing. Missing files are
// skipped; variables already set in the process environment win.
func WithEnvFiles(files ...string) Option {
	return func(o *options) {
		o.files = append(o.files, files...)
	}
}

// WithPrefix prepends prefix to every env tag, e.g. "ENTITLEMENTS_".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithEnvironment parses from the given map instead of the process
// environment. Env files are ignored.
func WithEnvironment(environment map[string]string) Option {
	return func(o *options) {
		o.environment = environment
	}
}

// Load parses environment variables into a new T using `env` and
// `envDefault` struct tags. Without options it reads ./.env first, if present.
//
//	type Settings struct {
//		Sweep entitlement.Config
//		PG    pg.Config
//	}
//	cfg, err := config.Load[Settings]()
func Load[T any](opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.files) == 0 {
		o.files = []string{".env"}
	}

	var zero T
	if o.environment == nil {
		for _, file := range o.files {
			if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return zero, errors.Join(ErrLoadingEnvFile, err)
			}
		}
	}

	cfg, err := env.ParseAsWithOptions[T](env.Options{
		Prefix:      o.prefix,
		Environment: o.environment,
	})
	if err != nil {
		return zero, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad is Load that panics on error. Meant for main.
func MustLoad[T any](opts ...Option) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(err)
	}
	return cfg
}
