// Package session provides server-side sessions for hosted applications.
//
// A Session carries an id, cookie attributes and an ordered payload whose
// values are serialized independently, so heterogeneous values round-trip
// through storage unchanged. Sessions live in a shared Table while in use and
// are made durable by pluggable Handler implementations. FileHandler stores
// one file per session; Redis, PostgreSQL and S3 handlers live under
// integration/session.
//
// # Components
//
//   - Manager creates, finds, attaches, destroys and flushes sessions.
//   - Factory keeps empty sessions pre-allocated off the request path.
//   - PersistenceManager writes dirty sessions back, detaches idle ones and
//     deletes invalidated ones, driven by the Decide table.
//   - GarbageCollector sweeps expired sessions with a configured probability.
//
// # Usage
//
//	settings := session.DefaultSettings()
//	files, err := session.NewFileHandlerFromSettings(settings)
//	if err != nil {
//		return err
//	}
//
//	factory := session.NewFactory(session.WithFactorySize(settings.FactorySize))
//	manager := session.NewManager(settings,
//		session.WithFactory(factory),
//		session.WithHandlers(files),
//	)
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(factory.Run(ctx))
//	g.Go(session.NewPersistenceManager(manager).Run(ctx))
//	g.Go(session.NewGarbageCollector(manager).Run(ctx))
//
// Inside a request:
//
//	s, err := manager.Find(ctx, id)
//	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
//		id, _ = session.NewID()
//		s, err = manager.Create(ctx, id, "")
//	}
//	_ = s.Set("cart", cart)
//	s.Touch()
//
// # Persistence decisions
//
// Each persistence pass evaluates every live session under its lock:
//
//	invalidated (empty id)             -> ActionDestroy
//	never persisted or checksum changed -> ActionWriteBack
//	unchanged, idle >= timeout          -> ActionDetach
//	otherwise                           -> ActionNone
//
// A zero inactivity timeout disables both detaching and garbage collection.
package session
