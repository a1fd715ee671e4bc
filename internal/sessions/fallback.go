package sessions

import (
	"context"
	"sync"

	"github.com/haasonsaas/servicedesk/internal/infra"
	"github.com/haasonsaas/servicedesk/internal/observability"
)

type lookup struct {
	profile *Profile
	found   bool
}

// FallbackStore fronts a durable primary store with an in-process mirror.
//
// Reads go to the primary first; when it fails and the mirror holds the key,
// the mirrored profile is served. A primary failure with nothing mirrored is
// returned as an error, never as "absent". Writes land in the mirror and the
// primary; a failing primary degrades the write to the mirror only and marks
// the key pending. Pending keys are read from the mirror and written back to
// the primary on the next access that finds it healthy.
type FallbackStore struct {
	primary Store
	mirror  *MemoryStore
	logger  *observability.Logger

	// writeMu orders primary writes so a write-back never lands after a
	// newer Put.
	writeMu sync.Mutex
	pending map[Key]struct{}
}

// NewFallbackStore wraps primary. logger may be nil.
func NewFallbackStore(primary Store, logger *observability.Logger) *FallbackStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FallbackStore{
		primary: primary,
		mirror:  NewMemoryStore(),
		logger:  logger.WithFields("component", "sessions"),
		pending: map[Key]struct{}{},
	}
}

func (s *FallbackStore) onDegraded(ctx context.Context, op string, key Key) func(string, error) {
	return func(fallback string, primaryErr error) {
		s.logger.Warn(ctx, "session store degraded",
			"op", op,
			"key", key.String(),
			"fallback", fallback,
			"error", primaryErr,
		)
	}
}

func (s *FallbackStore) Get(ctx context.Context, key Key) (*Profile, bool, error) {
	if p, ok, handled := s.getPending(ctx, key); handled {
		return p, ok, nil
	}

	mgr := infra.NewDegradationManager[lookup](infra.FallbackFunc[lookup]{
		FallbackName: "memory-mirror",
		IsAvailable:  func() bool { return s.mirror.Has(key) },
		Fn: func(ctx context.Context) (lookup, error) {
			p, ok, err := s.mirror.Get(ctx, key)
			return lookup{profile: p, found: ok}, err
		},
	})
	mgr.OnDegraded = s.onDegraded(ctx, "get", key)

	res, err := mgr.Run(ctx, func(ctx context.Context) (lookup, error) {
		p, ok, err := s.primary.Get(ctx, key)
		if err != nil {
			return lookup{}, err
		}
		if ok {
			_ = s.mirror.Put(ctx, key, p)
		} else {
			_ = s.mirror.Clear(ctx, key)
		}
		return lookup{profile: p, found: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.profile, res.found, nil
}

// getPending serves a key whose latest write only reached the mirror,
// writing it back to the primary first when possible.
func (s *FallbackStore) getPending(ctx context.Context, key Key) (*Profile, bool, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, ok := s.pending[key]; !ok {
		return nil, false, false
	}
	p, ok, err := s.mirror.Get(ctx, key)
	if err != nil || !ok {
		delete(s.pending, key)
		return nil, false, false
	}
	if err := s.primary.Put(ctx, key, p); err != nil {
		s.onDegraded(ctx, "get", key)("memory-mirror", err)
	} else {
		delete(s.pending, key)
		s.logger.Info(ctx, "session write-back complete", "key", key.String())
	}
	return p, true, true
}

func (s *FallbackStore) Put(ctx context.Context, key Key, profile *Profile) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.mirror.Put(ctx, key, profile); err != nil {
		return err
	}

	mgr := infra.NewDegradationManager[struct{}](infra.FallbackFunc[struct{}]{
		FallbackName: "memory-mirror",
		Fn: func(ctx context.Context) (struct{}, error) {
			s.pending[key] = struct{}{}
			return struct{}{}, nil
		},
	})
	mgr.OnDegraded = s.onDegraded(ctx, "put", key)

	_, err := mgr.Run(ctx, func(ctx context.Context) (struct{}, error) {
		if err := s.primary.Put(ctx, key, profile); err != nil {
			return struct{}{}, err
		}
		delete(s.pending, key)
		return struct{}{}, nil
	})
	return err
}

func (s *FallbackStore) Clear(ctx context.Context, key Key) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.mirror.Clear(ctx, key); err != nil {
		return err
	}
	delete(s.pending, key)
	return s.primary.Clear(ctx, key)
}
