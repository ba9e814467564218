package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Session holds the identity, cookie attributes and payload of one client
// session. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id           string
	name         string
	lifetime     time.Time
	maximumAge   int
	domain       string
	path         string
	secure       bool
	httpOnly     bool
	lastActivity time.Time

	keys []string
	data map[string]json.RawMessage

	// slot is the factory pool slot this session was handed out from.
	slot string
}

// Attributes carries the cookie attributes bound to a session on creation.
type Attributes struct {
	Lifetime   time.Time // absolute expiry, zero means no absolute expiry
	MaximumAge int       // seconds since last activity, 0 means unset
	Domain     string
	Path       string
	Secure     bool
	HTTPOnly   bool
}

// newEmpty returns an unbound session with an initialized payload bag.
func newEmpty() *Session {
	return &Session{
		data: make(map[string]json.RawMessage),
	}
}

// New creates a session bound to id with the given attributes.
func New(id, name string, attrs Attributes) *Session {
	s := newEmpty()
	s.bind(id, name, attrs, time.Now())
	return s
}

func (s *Session) bind(id, name string, attrs Attributes, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = id
	s.name = name
	s.lifetime = utc(attrs.Lifetime)
	s.maximumAge = attrs.MaximumAge
	s.domain = attrs.Domain
	s.path = attrs.Path
	s.secure = attrs.Secure
	s.httpOnly = attrs.HTTPOnly
	s.lastActivity = utc(now)
}

// utc strips the monotonic reading and normalizes the location so that times
// compare equal after a persistence round trip.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

// ID returns the session id. An empty id means the session was destroyed.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Name returns the cookie name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Attributes returns the cookie attributes.
func (s *Session) Attributes() Attributes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Attributes{
		Lifetime:   s.lifetime,
		MaximumAge: s.maximumAge,
		Domain:     s.domain,
		Path:       s.path,
		Secure:     s.secure,
		HTTPOnly:   s.httpOnly,
	}
}

// LastActivity returns the time of the last Touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Slot returns the factory pool slot id, if the session came from a factory.
func (s *Session) Slot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

// Touch records activity at the current time.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = utc(time.Now())
	s.mu.Unlock()
}

// Set serializes v and stores it under key. New keys are appended to the
// payload order; existing keys keep their position.
func (s *Session) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode session value %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.data[key] = raw
	return nil
}

// Get decodes the value stored under key into dst.
func (s *Session) Get(key string, dst any) error {
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()

	if !ok {
		return ErrKeyNotFound
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode session value %q: %w", key, err)
	}
	return nil
}

// Raw returns the serialized value stored under key.
func (s *Session) Raw(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	return slices.Clone(raw), ok
}

// Has reports whether key is present.
func (s *Session) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

// Delete removes key from the payload.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return
	}
	delete(s.data, key)
	s.keys = slices.DeleteFunc(s.keys, func(k string) bool { return k == key })
}

// Keys returns payload keys in insertion order.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.keys)
}

// Len returns the number of payload entries.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Destroy invalidates the session: the id and payload are cleared. The
// persistence manager removes the durable copy on its next pass.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = ""
	s.keys = nil
	s.data = make(map[string]json.RawMessage)
}

// Checksum returns a digest of the serialized payload.
func (s *Session) Checksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checksumLocked()
}

func (s *Session) checksumLocked() string {
	d := xxhash.New()
	for _, k := range s.keys {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
		_, _ = d.Write(s.data[k])
		_, _ = d.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Resumable reports whether the session may still be used at now: its
// lifetime has not elapsed and it has not been idle for longer than its
// maximum age.
func (s *Session) Resumable(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumableLocked(now)
}

func (s *Session) resumableLocked(now time.Time) bool {
	if s.id == "" {
		return false
	}
	if !s.lifetime.IsZero() && !now.Before(s.lifetime) {
		return false
	}
	if s.maximumAge > 0 && now.Sub(s.lastActivity) > time.Duration(s.maximumAge)*time.Second {
		return false
	}
	return true
}

// ExpiresAt returns the earliest time the session stops being resumable,
// also counting an inactivity timeout from the last activity. It returns the
// zero time when nothing bounds the session.
func (s *Session) ExpiresAt(inactivity time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var at time.Time
	earlier := func(t time.Time) {
		if at.IsZero() || t.Before(at) {
			at = t
		}
	}
	if !s.lifetime.IsZero() {
		earlier(s.lifetime)
	}
	if s.maximumAge > 0 {
		earlier(s.lastActivity.Add(time.Duration(s.maximumAge) * time.Second))
	}
	if inactivity > 0 {
		earlier(s.lastActivity.Add(inactivity))
	}
	return at
}

// RetainUntil returns how long a copy written at savedAt should be kept: the
// earliest of ExpiresAt(0) and savedAt plus the inactivity timeout. Counting
// inactivity from the write keeps a detached copy loadable for a full
// timeout, the same window the file handler gets from its modification time.
// It returns the zero time when nothing bounds the copy.
func (s *Session) RetainUntil(savedAt time.Time, inactivity time.Duration) time.Time {
	at := s.ExpiresAt(0)
	if inactivity > 0 {
		if idle := savedAt.Add(inactivity); at.IsZero() || idle.Before(at) {
			at = idle
		}
	}
	return at
}

// Cookie renders the session cookie for a response.
func (s *Session) Cookie() *http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &http.Cookie{
		Name:     s.name,
		Value:    s.id,
		Domain:   s.domain,
		Path:     s.path,
		Secure:   s.secure,
		HttpOnly: s.httpOnly,
		MaxAge:   s.maximumAge,
	}
	if !s.lifetime.IsZero() {
		c.Expires = s.lifetime
	}
	if s.id == "" {
		c.MaxAge = -1
	}
	return c
}

// cloneLocked copies the session. The caller must hold s.mu.
func (s *Session) cloneLocked() *Session {
	c := &Session{
		id:           s.id,
		name:         s.name,
		lifetime:     s.lifetime,
		maximumAge:   s.maximumAge,
		domain:       s.domain,
		path:         s.path,
		secure:       s.secure,
		httpOnly:     s.httpOnly,
		lastActivity: s.lastActivity,
		keys:         slices.Clone(s.keys),
		data:         make(map[string]json.RawMessage, len(s.data)),
		slot:         s.slot,
	}
	for k, v := range s.data {
		c.data[k] = slices.Clone(v)
	}
	return c
}

// NewID generates a random session id: 32 bytes encoded as unpadded
// base64url.
func NewID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidID reports whether id is safe to use as a storage key.
func ValidID(id string) bool {
	if id == "" || len(id) > 256 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == ',':
		default:
			return false
		}
	}
	return true
}
