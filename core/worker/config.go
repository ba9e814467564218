package worker

import (
	"math/rand/v2"
	"time"
)

// Config holds pool sizing and worker lifetime settings shared by every
// application pool.
type Config struct {
	PoolSize        int           `env:"WORKER_POOL_SIZE" envDefault:"8"`
	SpareMin        int           `env:"WORKER_SPARE_MIN" envDefault:"2"`
	PoolMax         int           `env:"WORKER_POOL_MAX" envDefault:"64"` // 0 = unbounded
	ManagerInterval time.Duration `env:"WORKER_MANAGER_INTERVAL" envDefault:"1s"`
	ShutdownTimeout time.Duration `env:"WORKER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Worker lifetime. A zero TTL or request budget means unlimited.
	TTLMin         time.Duration `env:"WORKER_TTL_MIN" envDefault:"5m"`
	TTLMax         time.Duration `env:"WORKER_TTL_MAX" envDefault:"10m"`
	MaxRequestsMin int           `env:"WORKER_MAX_REQUESTS_MIN" envDefault:"0"`
	MaxRequestsMax int           `env:"WORKER_MAX_REQUESTS_MAX" envDefault:"0"`
}

// DefaultConfig returns the same values as the envDefault tags.
func DefaultConfig() Config {
	return Config{
		PoolSize:        8,
		SpareMin:        2,
		PoolMax:         64,
		ManagerInterval: time.Second,
		ShutdownTimeout: 30 * time.Second,
		TTLMin:          5 * time.Minute,
		TTLMax:          10 * time.Minute,
	}
}

// Policy bounds the lifetime of individual workers. Each worker draws its
// own TTL and request budget so a pool generation does not retire at once.
type Policy struct {
	TTLMin         time.Duration
	TTLMax         time.Duration
	MaxRequestsMin int
	MaxRequestsMax int
}

// PolicyFromConfig extracts the lifetime settings.
func PolicyFromConfig(cfg Config) Policy {
	return Policy{
		TTLMin:         cfg.TTLMin,
		TTLMax:         cfg.TTLMax,
		MaxRequestsMin: cfg.MaxRequestsMin,
		MaxRequestsMax: cfg.MaxRequestsMax,
	}
}

// SingleShot returns p with a budget of exactly one request.
func (p Policy) SingleShot() Policy {
	p.MaxRequestsMin, p.MaxRequestsMax = 1, 1
	return p
}

// draw picks a TTL and request budget for one worker.
func (p Policy) draw() (time.Duration, int) {
	return randomBetween(p.TTLMin, p.TTLMax), randomBetween(p.MaxRequestsMin, p.MaxRequestsMax)
}

func randomBetween[T ~int | ~int64](lo, hi T) T {
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
