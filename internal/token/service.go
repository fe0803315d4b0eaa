package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"postpilot/internal/eventbus"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

// DefaultRefreshWindow is how close to expiry a token may get before an
// AccessToken call refreshes it.
const DefaultRefreshWindow = 60 * time.Second

// Service owns the credential lifecycle for all platforms.
//
// Reads go through AccessToken, which transparently refreshes expiring
// tokens. Refresh failures never propagate to callers: the stale token is
// returned and the failure is logged, so a flaky provider degrades delivery
// instead of breaking it.
type Service struct {
	st     store.Store
	log    logx.Logger
	bus    eventbus.Bus
	window time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	issuers map[string]Issuer

	sf singleflight.Group
}

type Option func(*Service)

func WithRefreshWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, log logx.Logger, opts ...Option) *Service {
	s := &Service{
		st:      st,
		log:     log,
		window:  DefaultRefreshWindow,
		now:     time.Now,
		issuers: map[string]Issuer{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterIssuer binds a platform to its token endpoint.
func (s *Service) RegisterIssuer(platform string, iss Issuer) {
	s.mu.Lock()
	s.issuers[platform] = iss
	s.mu.Unlock()
}

func (s *Service) issuer(platform string) (Issuer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iss, ok := s.issuers[platform]
	return iss, ok
}

// AccessToken returns the current access token for platform.
//
// The second return is false when no credential exists at all; the caller
// decides whether that is fatal. A token inside the refresh window is
// refreshed first when a refresh token is available; concurrent callers for
// the same platform share a single in-flight refresh.
func (s *Service) AccessToken(ctx context.Context, platform string) (string, bool, error) {
	rec, ok, err := s.st.GetToken(ctx, platform)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	if !s.needsRefresh(rec) {
		return rec.AccessToken, true, nil
	}
	if rec.RefreshToken == "" {
		// Nothing to refresh with. Hand out what we have and let the
		// platform reject it if it is truly dead.
		return rec.AccessToken, true, nil
	}

	v, err, _ := s.sf.Do(platform, func() (any, error) {
		// Re-read under the flight: another caller may have refreshed while
		// this one waited for the singleflight slot.
		cur, ok2, err2 := s.st.GetToken(ctx, platform)
		if err2 != nil {
			return "", err2
		}
		if ok2 && !s.needsRefresh(cur) {
			return cur.AccessToken, nil
		}
		refreshed, err2 := s.Refresh(ctx, platform, cur.RefreshToken)
		if err2 != nil {
			s.log.Warn("token refresh failed, using stale token",
				logx.String("platform", platform), logx.Err(err2))
			return cur.AccessToken, nil
		}
		return refreshed.AccessToken, nil
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), true, nil
}

func (s *Service) needsRefresh(t store.Token) bool {
	if t.ExpiresAt == 0 {
		return false
	}
	return t.ExpiresAt <= s.now().Add(s.window).UnixMilli()
}

// Refresh exchanges a refresh token for a new credential and persists it,
// replacing the platform's single token record in place.
func (s *Service) Refresh(ctx context.Context, platform, refreshToken string) (store.Token, error) {
	iss, ok := s.issuer(platform)
	if !ok {
		return store.Token{}, fmt.Errorf("no token endpoint for platform %q", platform)
	}
	cred, err := iss.Refresh(ctx, refreshToken)
	if err != nil {
		return store.Token{}, err
	}
	return s.persist(ctx, platform, cred, "refresh")
}

// ExchangeCode turns an authorization code into a persisted credential.
func (s *Service) ExchangeCode(ctx context.Context, platform, code, verifier string) (store.Token, error) {
	iss, ok := s.issuer(platform)
	if !ok {
		return store.Token{}, fmt.Errorf("no token endpoint for platform %q", platform)
	}
	cred, err := iss.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return store.Token{}, err
	}
	return s.persist(ctx, platform, cred, "exchange")
}

// Upsert stores an externally obtained credential (manual provisioning).
func (s *Service) Upsert(ctx context.Context, platform string, cred Credential) (store.Token, error) {
	return s.persist(ctx, platform, cred, "upsert")
}

func (s *Service) persist(ctx context.Context, platform string, cred Credential, source string) (store.Token, error) {
	rec, err := s.st.UpsertToken(ctx, platform, func(t *store.Token) error {
		t.AccessToken = cred.AccessToken
		if cred.RefreshToken != "" {
			t.RefreshToken = cred.RefreshToken
		}
		t.ExpiresAt = cred.ExpiresAt
		return nil
	})
	if err != nil {
		return store.Token{}, err
	}
	s.log.Info("token stored",
		logx.String("platform", platform),
		logx.String("source", source),
		logx.Int64("expires_at", rec.ExpiresAt))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeTokenRefresh,
			Data: map[string]any{"platform": platform, "source": source},
		})
	}
	return rec, nil
}
