// Package config loads env-tagged configuration structs.
//
// It combines github.com/joho/godotenv for optional dotenv files with
// github.com/caarlos0/env/v11 for struct parsing. Every package that needs
// configuration declares its own struct with `env` tags (pg.Config,
// billing.Config, entitlement.Config); the binary nests them and loads the
// result once:
//
//	type settings struct {
//		Log         logger.Config
//		PG          pg.Config
//		Entitlement entitlement.Config
//	}
//	cfg := config.MustLoad[settings]()
//
// Tests pass values explicitly with WithEnvironment so they never depend on
// the process environment.
package config
