// Package config provides type-safe environment variable loading with caching
// using Go generics. Each configuration type is loaded once and cached for
// subsequent calls.
//
// The package loads a .env file from the working directory on first use and
// uses the caarlos0/env library for parsing environment variables into struct
// fields.
//
// Basic usage:
//
//	import "github.com/dmitrymomot/appserver/core/config"
//
//	type SessionConfig struct {
//		SavePath string        `env:"SESSION_SAVE_PATH" envDefault:"/var/lib/appserver/sessions"`
//		Timeout  time.Duration `env:"SESSION_INACTIVITY_TIMEOUT" envDefault:"24m"`
//	}
//
//	func main() {
//		var cfg SessionConfig
//
//		// Load with error handling
//		if err := config.Load(&cfg); err != nil {
//			log.Fatal(err)
//		}
//
//		// Or panic on failure (useful for startup)
//		config.MustLoad(&cfg)
//	}
//
// # Caching Behavior
//
// Each configuration type is loaded only once per process:
//
//	var a SessionConfig
//	config.Load(&a) // parses the environment
//
//	var b SessionConfig
//	config.Load(&b) // returns the cached value, a == b
//
// Call Reset to drop the cache, typically from tests.
package config
