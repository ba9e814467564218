package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/appserver/core/session"
)

// MockHandler is a mock implementation of session.Handler.
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Load(ctx context.Context, id string) (*session.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

func (m *MockHandler) Save(ctx context.Context, s *session.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockHandler) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockHandler) Expire(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func fixedRandom(v float64) func() float64 {
	return func() float64 { return v }
}

func TestGarbageCollector_Pass(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("hit sweeps every handler", func(t *testing.T) {
		t.Parallel()

		h1, h2 := new(MockHandler), new(MockHandler)
		h1.On("Expire", mock.Anything).Return(3, nil).Once()
		h2.On("Expire", mock.Anything).Return(2, nil).Once()
		defer h1.AssertExpectations(t)
		defer h2.AssertExpectations(t)

		m := session.NewManager(session.DefaultSettings(), session.WithHandlers(h1, h2))
		g := session.NewGarbageCollector(m,
			session.WithGCProbability(0.5),
			session.WithGCRandom(fixedRandom(0.1)),
		)

		n, err := g.Pass(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		stats := g.Stats()
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(5), stats.Expired)
	})

	t.Run("miss does nothing", func(t *testing.T) {
		t.Parallel()

		h := new(MockHandler)
		defer h.AssertExpectations(t)

		m := session.NewManager(session.DefaultSettings(), session.WithHandlers(h))
		g := session.NewGarbageCollector(m,
			session.WithGCProbability(0.5),
			session.WithGCRandom(fixedRandom(0.5)),
		)

		n, err := g.Pass(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		h.AssertNotCalled(t, "Expire", mock.Anything)
		assert.Equal(t, int64(1), g.Stats().Passes)
	})

	t.Run("handler errors are joined", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		h1, h2 := new(MockHandler), new(MockHandler)
		h1.On("Expire", mock.Anything).Return(0, boom).Once()
		h2.On("Expire", mock.Anything).Return(4, nil).Once()

		m := session.NewManager(session.DefaultSettings(), session.WithHandlers(h1, h2))
		g := session.NewGarbageCollector(m, session.WithGCProbability(1))

		n, err := g.Pass(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 4, n)
	})

	t.Run("zero inactivity timeout disables collection", func(t *testing.T) {
		t.Parallel()

		h := new(MockHandler)
		settings := session.DefaultSettings()
		settings.InactivityTimeout = 0

		m := session.NewManager(settings, session.WithHandlers(h))
		g := session.NewGarbageCollector(m, session.WithGCProbability(1))

		assert.False(t, g.Enabled())
		_, err := g.Pass(ctx)
		assert.ErrorIs(t, err, session.ErrGCDisabled)
		assert.NoError(t, g.Start(ctx), "start returns immediately")
		assert.NoError(t, g.Healthcheck(ctx))
		h.AssertNotCalled(t, "Expire", mock.Anything)
	})
}

func TestGarbageCollector_Run(t *testing.T) {
	t.Parallel()

	h, _ := newFileHandler(t, session.WithFileInactivityTimeout(time.Minute))
	expired := session.New("gc-expired", "SESSID", session.Attributes{Lifetime: time.Now().Add(-time.Second)})
	require.NoError(t, h.Save(context.Background(), expired))

	m := session.NewManager(session.DefaultSettings(), session.WithHandlers(h))
	g := session.NewGarbageCollector(m,
		session.WithGCInterval(5*time.Millisecond),
		session.WithGCProbability(1),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx)() }()

	require.Eventually(t, func() bool { return g.Stats().Expired == 1 }, time.Second, 5*time.Millisecond)
	assert.NoFileExists(t, h.Path("gc-expired"))

	cancel()
	require.NoError(t, <-done)
}
