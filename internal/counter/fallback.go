package counter

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// defaultCallTimeout bounds how long one distributed increment may hold up
// the request path before the local approximation takes over.
const defaultCallTimeout = 500 * time.Millisecond

// FallbackStore tries the distributed store on every call and degrades to
// a local in-process approximation for calls that fail. There is no sticky
// fallback mode: the very next call retries the distributed path.
type FallbackStore struct {
	primary Store
	local   Store
	timeout time.Duration
	onError func(err error)
}

// NewFallbackStore wraps primary with local fallback. timeout <= 0 uses the
// default per-call bound. onError, when set, observes each degradation (the
// monitor's health signal hooks in here).
func NewFallbackStore(primary, local Store, timeout time.Duration, onError func(err error)) *FallbackStore {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &FallbackStore{primary: primary, local: local, timeout: timeout, onError: onError}
}

// Increment counts one request, preferring the distributed store.
func (s *FallbackStore) Increment(ctx context.Context, key string, window time.Duration) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	res, errPrimary := s.primary.Increment(callCtx, key, window)
	cancel()
	if errPrimary == nil {
		return res, nil
	}

	log.WithError(errPrimary).WithField("key", key).
		Warn("counter: distributed store unavailable, using local approximation for this call")
	if s.onError != nil {
		s.onError(errPrimary)
	}
	return s.local.Increment(ctx, key, window)
}

// Close closes both underlying stores.
func (s *FallbackStore) Close() error {
	errPrimary := s.primary.Close()
	if errLocal := s.local.Close(); errLocal != nil {
		return errLocal
	}
	return errPrimary
}
