package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/liamhowell4/budget-master-sub003/internal/metrics"
)

// ErrNoCredential is returned when the pairing channel is unreachable or the
// primary device did not reply in time. Callers surface this as a
// "pair / sign in on the primary device" state; the relay never retries on
// its own.
var ErrNoCredential = errors.New("no credential available: sign in on the primary device")

// DefaultRequestTimeout bounds how long Get waits for a relay reply.
const DefaultRequestTimeout = 10 * time.Second

// Channel sends token requests to the primary device. Replies and pushes
// arrive asynchronously through HandleTokenPayload.
type Channel interface {
	RequestToken(ctx context.Context) error
}

// Persistence stores the credential across relaunches. *store.Store
// satisfies this interface.
type Persistence interface {
	SaveCredential(token string, issuedAt time.Time) error
	LoadCredential() (token string, issuedAt time.Time, ok bool, err error)
}

// pendingRequest is a single-resolution future for one outstanding token
// request. Concurrent Get callers share it; the first token payload to
// arrive resolves it exactly once.
type pendingRequest struct {
	done chan struct{}
	cred Credential
}

// Relay owns the cached credential. All mutation is serialized through the
// relay's mutex; other components only ever see credentials through Get.
type Relay struct {
	channel Channel
	store   Persistence
	logger  *slog.Logger
	metrics *metrics.Metrics

	requestTimeout time.Duration
	now            func() time.Time

	cached  Credential
	pending *pendingRequest
	mu      sync.Mutex
}

// Config contains relay configuration.
type Config struct {
	RequestTimeout time.Duration
}

// NewRelay creates a credential relay and warms the cache from persistence,
// so an app relaunch within the TTL needs no re-solicitation.
func NewRelay(cfg Config, channel Channel, persistence Persistence, logger *slog.Logger, m *metrics.Metrics) *Relay {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	r := &Relay{
		channel:        channel,
		store:          persistence,
		logger:         logger,
		metrics:        m,
		requestTimeout: cfg.RequestTimeout,
		now:            time.Now,
	}

	if persistence != nil {
		token, issuedAt, ok, err := persistence.LoadCredential()
		if err != nil {
			logger.Warn("Failed to load persisted credential", slog.String("error", err.Error()))
		} else if ok {
			cred := Credential{Token: token, IssuedAt: issuedAt}
			if cred.Valid(r.now()) {
				r.cached = cred
				logger.Info("Restored persisted credential",
					slog.Duration("age", cred.Age(r.now())),
				)
			} else {
				logger.Info("Persisted credential expired, will re-solicit",
					slog.Duration("age", cred.Age(r.now())),
				)
			}
		}
	}

	return r
}

// SetChannel binds the pairing channel after construction. The pairing
// listener delivers payloads to the relay while the relay sends requests
// through the listener, so one side of the cycle is wired late.
func (r *Relay) SetChannel(channel Channel) {
	r.mu.Lock()
	r.channel = channel
	r.mu.Unlock()
}

// Get returns a valid credential, serving the cache when possible and
// otherwise soliciting the primary device over the pairing channel. The
// caller blocks (context-aware) until a reply arrives or the request times
// out; the device's event loop is never blocked.
func (r *Relay) Get(ctx context.Context) (Credential, error) {
	r.mu.Lock()

	if r.cached.Valid(r.now()) {
		cred := r.cached
		r.mu.Unlock()
		r.metrics.RecordCredentialCacheHit()
		return cred, nil
	}

	channel := r.channel
	if channel == nil {
		r.mu.Unlock()
		return Credential{}, fmt.Errorf("%w: pairing channel not configured", ErrNoCredential)
	}

	// Join an in-flight request if one exists; otherwise start one.
	pending := r.pending
	if pending == nil {
		pending = &pendingRequest{done: make(chan struct{})}
		r.pending = pending
		r.mu.Unlock()

		r.metrics.RecordCredentialRequest()
		if err := channel.RequestToken(ctx); err != nil {
			r.mu.Lock()
			if r.pending == pending {
				r.pending = nil
			}
			r.mu.Unlock()

			r.logger.Warn("Token request failed", slog.String("error", err.Error()))
			return Credential{}, fmt.Errorf("%w: %v", ErrNoCredential, err)
		}
	} else {
		r.mu.Unlock()
	}

	timer := time.NewTimer(r.requestTimeout)
	defer timer.Stop()

	select {
	case <-pending.done:
		return pending.cred, nil

	case <-ctx.Done():
		r.abandon(pending)
		return Credential{}, fmt.Errorf("%w: %v", ErrNoCredential, ctx.Err())

	case <-timer.C:
		r.abandon(pending)

		// A reply that landed after the originating caller abandoned the
		// request was applied as a push; serve it rather than failing a
		// caller whose cache is now valid.
		if cred, ok := r.Cached(); ok {
			return cred, nil
		}

		r.logger.Warn("Token request timed out",
			slog.Duration("timeout", r.requestTimeout),
		)
		return Credential{}, fmt.Errorf("%w: request timed out", ErrNoCredential)
	}
}

// abandon clears the pending request if it is still the outstanding one, so a
// late reply is treated as a push rather than resolving a dead future.
func (r *Relay) abandon(pending *pendingRequest) {
	r.mu.Lock()
	if r.pending == pending {
		r.pending = nil
	}
	r.mu.Unlock()
}

// HandleTokenPayload dispatches a token payload from the pairing link: a
// direct reply when a request is outstanding, an unsolicited push otherwise.
// Implements pairing.Sink.
func (r *Relay) HandleTokenPayload(token string, issuedAt time.Time) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	if pending != nil {
		r.handleReply(pending, token, issuedAt)
	} else {
		r.HandlePush(token, issuedAt)
	}
}

// handleReply completes exactly one pending Get request with the relayed
// credential and persists it.
func (r *Relay) handleReply(pending *pendingRequest, token string, issuedAt time.Time) {
	cred := Credential{Token: token, IssuedAt: issuedAt}

	r.mu.Lock()
	r.cached = cred
	r.mu.Unlock()

	r.persist(cred)

	pending.cred = cred
	close(pending.done)

	r.logger.Info("Credential received from primary device",
		slog.Duration("age", cred.Age(r.now())),
	)
}

// HandlePush applies an unsolicited credential update from the primary
// device (sent proactively on sign-in or token refresh). A push that is
// already stale is discarded rather than overwriting the cache.
func (r *Relay) HandlePush(token string, issuedAt time.Time) {
	cred := Credential{Token: token, IssuedAt: issuedAt}

	if !cred.Valid(r.now()) {
		r.logger.Warn("Discarding stale credential push",
			slog.Duration("age", cred.Age(r.now())),
			slog.Duration("ttl", TTL),
		)
		return
	}

	r.mu.Lock()
	r.cached = cred
	r.mu.Unlock()

	r.persist(cred)
	r.metrics.RecordCredentialPush()

	r.logger.Info("Credential updated by push",
		slog.Duration("age", cred.Age(r.now())),
	)
}

// persist writes the credential to durable storage. Persistence failures are
// absorbed: the in-memory cache still serves until relaunch.
func (r *Relay) persist(cred Credential) {
	if r.store == nil {
		return
	}

	if err := r.store.SaveCredential(cred.Token, cred.IssuedAt); err != nil {
		r.logger.Warn("Failed to persist credential", slog.String("error", err.Error()))
	}
}

// Cached returns the current cache contents without soliciting, for
// monitoring surfaces.
func (r *Relay) Cached() (Credential, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cached, r.cached.Valid(r.now())
}
