package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// record is the durable representation of a session.
type record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Lifetime     time.Time `json:"lifetime"`
	MaximumAge   int       `json:"maximum_age"`
	Domain       string    `json:"domain"`
	Path         string    `json:"path"`
	Secure       bool      `json:"secure"`
	HTTPOnly     bool      `json:"http_only"`
	LastActivity time.Time `json:"last_activity"`
	Data         []entry   `json:"data"`
}

// entry keeps each payload value in its own serialized form so values of
// different types round-trip unchanged.
type entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Marshal converts a session to its durable string form.
func Marshal(s *Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marshalLocked()
}

func (s *Session) marshalLocked() (string, error) {
	rec := record{
		ID:           s.id,
		Name:         s.name,
		Lifetime:     s.lifetime,
		MaximumAge:   s.maximumAge,
		Domain:       s.domain,
		Path:         s.path,
		Secure:       s.secure,
		HTTPOnly:     s.httpOnly,
		LastActivity: s.lastActivity,
		Data:         make([]entry, 0, len(s.keys)),
	}
	for _, k := range s.keys {
		rec.Data = append(rec.Data, entry{Key: k, Value: s.data[k]})
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	return string(b), nil
}

// Unmarshal restores a session from its durable string form. Any decoding
// failure is reported as ErrCorrupt.
func Unmarshal(data string) (*Session, error) {
	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	if !ValidID(rec.ID) {
		return nil, errors.Join(ErrCorrupt, ErrInvalidID)
	}

	s := newEmpty()
	s.id = rec.ID
	s.name = rec.Name
	s.lifetime = utc(rec.Lifetime)
	s.maximumAge = rec.MaximumAge
	s.domain = rec.Domain
	s.path = rec.Path
	s.secure = rec.Secure
	s.httpOnly = rec.HTTPOnly
	s.lastActivity = utc(rec.LastActivity)

	for _, e := range rec.Data {
		if !json.Valid(e.Value) {
			return nil, fmt.Errorf("%w: invalid value for key %q", ErrCorrupt, e.Key)
		}
		if _, dup := s.data[e.Key]; !dup {
			s.keys = append(s.keys, e.Key)
		}
		s.data[e.Key] = e.Value
	}

	return s, nil
}
