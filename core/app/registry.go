package app

import "sync"

// Registry keeps applications in registration order. Order decides routing
// precedence.
type Registry struct {
	mu    sync.RWMutex
	apps  []*Application
	index map[string]*Application
}

// NewRegistry returns a registry holding apps in the given order.
func NewRegistry(apps ...*Application) (*Registry, error) {
	r := &Registry{index: make(map[string]*Application)}
	for _, a := range apps {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a.
func (r *Registry) Register(a *Application) error {
	if a == nil || a.Name() == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[a.Name()]; ok {
		return ErrDuplicateName
	}
	r.apps = append(r.apps, a)
	r.index[a.Name()] = a
	return nil
}

// Get returns the application named name.
func (r *Registry) Get(name string) (*Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.index[name]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// All returns applications in registration order.
func (r *Registry) All() []*Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Application(nil), r.apps...)
}

// Len returns the number of applications.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apps)
}
