package engine

import (
	"time"

	"github.com/dmitrymomot/appserver/core/worker"
)

// Variant selects the request handler lifetime policy.
type Variant string

const (
	// Dynamic handlers are reused until their randomized TTL or budget ends.
	Dynamic Variant = "dynamic"
	// Static handlers serve exactly one request each.
	Static Variant = "static"
)

// Config holds engine settings.
type Config struct {
	Variant        Variant       `env:"ENGINE_VARIANT" envDefault:"dynamic"`
	AcquireTimeout time.Duration `env:"ENGINE_ACQUIRE_TIMEOUT" envDefault:"5s"`
	MaxBodySize    int64         `env:"ENGINE_MAX_BODY_SIZE" envDefault:"33554432"` // 32 MiB, 0 = unlimited

	Worker worker.Config
}

// DefaultConfig returns the same values as the envDefault tags.
func DefaultConfig() Config {
	return Config{
		Variant:        Dynamic,
		AcquireTimeout: 5 * time.Second,
		MaxBodySize:    32 << 20,
		Worker:         worker.DefaultConfig(),
	}
}
