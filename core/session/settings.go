package session

import (
	"time"
)

// Settings are the process-wide session defaults.
type Settings struct {
	// Cookie defaults
	Name       string        `env:"SESSION_NAME" envDefault:"SESSID"`
	Lifetime   time.Duration `env:"SESSION_LIFETIME" envDefault:"0s"` // 0 = no absolute expiry
	MaximumAge int           `env:"SESSION_MAXIMUM_AGE" envDefault:"0"`
	Domain     string        `env:"SESSION_DOMAIN" envDefault:""`
	Path       string        `env:"SESSION_PATH" envDefault:"/"`
	Secure     bool          `env:"SESSION_SECURE" envDefault:"false"`
	HTTPOnly   bool          `env:"SESSION_HTTP_ONLY" envDefault:"true"`

	// Persistence and expiry
	InactivityTimeout time.Duration `env:"SESSION_INACTIVITY_TIMEOUT" envDefault:"24m"` // 0 disables inactivity expiry
	PersistInterval   time.Duration `env:"SESSION_PERSIST_INTERVAL" envDefault:"10s"`
	GCInterval        time.Duration `env:"SESSION_GC_INTERVAL" envDefault:"1m"`
	GCProbability     float64       `env:"SESSION_GC_PROBABILITY" envDefault:"0.1"`
	SavePath          string        `env:"SESSION_SAVE_PATH" envDefault:"/tmp/appserver/sessions"`
	FilePrefix        string        `env:"SESSION_FILE_PREFIX" envDefault:"sess_"`
	FactorySize       int           `env:"SESSION_FACTORY_SIZE" envDefault:"16"`
	ShutdownTimeout   time.Duration `env:"SESSION_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultSettings returns the same values as the envDefault tags.
func DefaultSettings() Settings {
	return Settings{
		Name:              "SESSID",
		Path:              "/",
		HTTPOnly:          true,
		InactivityTimeout: 24 * time.Minute,
		PersistInterval:   10 * time.Second,
		GCInterval:        time.Minute,
		GCProbability:     0.1,
		SavePath:          "/tmp/appserver/sessions",
		FilePrefix:        "sess_",
		FactorySize:       16,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Overrides are application-declared session parameters. Nil fields keep the
// process-wide default. Inactivity timeout and GC probability drive the shared
// persistence and GC daemons, so they are process-wide only.
type Overrides struct {
	Name       *string
	Lifetime   *time.Duration
	MaximumAge *int
	Domain     *string
	Path       *string
	Secure     *bool
	HTTPOnly   *bool
}

// Merge returns a copy of s with every field set in o applied.
func (s Settings) Merge(o Overrides) Settings {
	if o.Name != nil {
		s.Name = *o.Name
	}
	if o.Lifetime != nil {
		s.Lifetime = *o.Lifetime
	}
	if o.MaximumAge != nil {
		s.MaximumAge = *o.MaximumAge
	}
	if o.Domain != nil {
		s.Domain = *o.Domain
	}
	if o.Path != nil {
		s.Path = *o.Path
	}
	if o.Secure != nil {
		s.Secure = *o.Secure
	}
	if o.HTTPOnly != nil {
		s.HTTPOnly = *o.HTTPOnly
	}
	return s
}

// attributes derives cookie attributes for a session created at now.
func (s Settings) attributes(now time.Time) Attributes {
	attrs := Attributes{
		MaximumAge: s.MaximumAge,
		Domain:     s.Domain,
		Path:       s.Path,
		Secure:     s.Secure,
		HTTPOnly:   s.HTTPOnly,
	}
	if s.Lifetime > 0 {
		attrs.Lifetime = now.Add(s.Lifetime)
	}
	return attrs
}

// CreateOption overrides a single attribute in Manager.Create.
type CreateOption func(*Attributes)

// WithLifetime sets the absolute expiry instant.
func WithLifetime(t time.Time) CreateOption {
	return func(a *Attributes) {
		a.Lifetime = t
	}
}

// WithMaximumAge sets the maximum idle age in seconds.
func WithMaximumAge(seconds int) CreateOption {
	return func(a *Attributes) {
		a.MaximumAge = seconds
	}
}

// WithDomain sets the cookie domain.
func WithDomain(domain string) CreateOption {
	return func(a *Attributes) {
		a.Domain = domain
	}
}

// WithPath sets the cookie path.
func WithPath(path string) CreateOption {
	return func(a *Attributes) {
		a.Path = path
	}
}

// WithSecure sets the cookie secure flag.
func WithSecure(secure bool) CreateOption {
	return func(a *Attributes) {
		a.Secure = secure
	}
}

// WithHTTPOnly sets the cookie httpOnly flag.
func WithHTTPOnly(httpOnly bool) CreateOption {
	return func(a *Attributes) {
		a.HTTPOnly = httpOnly
	}
}
