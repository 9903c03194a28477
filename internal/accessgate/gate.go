package accessgate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
	"github.com/ArielSulton/tunarasa-sub001/internal/reconciler"
	"github.com/ArielSulton/tunarasa-sub001/pkg/auth"
	apperrors "github.com/ArielSulton/tunarasa-sub001/pkg/errors"
)

// StateHeader tags responses so callers can distinguish "allowed while
// syncing" from "fully authorized".
const StateHeader = "X-Access-State"

// State is the terminal state of one gate evaluation.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateGrace           State = "grace"
	StateAuthorized      State = "authorized"
	StateDenied          State = "denied"
)

// Policy describes the protection of one route class. TTLs differ per class:
// the dashboard gets a shorter one because staleness matters most there. The
// grace window is an independent constant, never derived from a TTL.
type Policy struct {
	Name       string
	TTL        time.Duration
	Roles      []int
	AllowGrace bool
}

// IdentityReader is the store read the gate performs on cache miss.
type IdentityReader interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Identity, error)
}

// SyncTrigger fires the background reconciliation during grace.
type SyncTrigger interface {
	Reconcile(ctx context.Context, in reconciler.Input) reconciler.Result
}

// Config bounds the gate's store access and grace behavior.
type Config struct {
	GraceWindow     time.Duration
	StoreTimeout    time.Duration
	SignInURL       string
	UnauthorizedURL string
}

// Gate evaluates access on every request to a protected route. It never
// blocks on the event ingestor or the reconciler; it reads current local
// state and applies the grace fallback when state is missing.
type Gate struct {
	verifier   auth.Verifier
	identities IdentityReader
	codec      *CookieCodec
	sync       SyncTrigger
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an access gate.
func New(verifier auth.Verifier, identities IdentityReader, codec *CookieCodec, sync SyncTrigger, cfg Config, logger *slog.Logger) *Gate {
	return &Gate{
		verifier:   verifier,
		identities: identities,
		codec:      codec,
		sync:       sync,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

type ctxKey string

const resolutionCtxKey ctxKey = "tunarasa:access"

// Resolution is what the gate resolved for the current request.
type Resolution struct {
	Session auth.Session
	State   State
	RoleID  int
}

// ResolutionFromContext extracts the gate resolution from the request context.
func ResolutionFromContext(ctx context.Context) (Resolution, bool) {
	value, ok := ctx.Value(resolutionCtxKey).(Resolution)
	return value, ok
}

// Protect wraps a handler with the gate's state machine for one route class.
func (g *Gate) Protect(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := g.authenticate(r)
			if !ok {
				g.reject(w, StateUnauthenticated, apperrors.CodeUnauthenticated, g.cfg.SignInURL)
				return
			}

			resolution := g.resolve(r, w, session, policy)
			switch resolution.State {
			case StateAuthorized, StateGrace:
				w.Header().Set(StateHeader, string(resolution.State))
				ctx := context.WithValue(r.Context(), resolutionCtxKey, resolution)
				ctx = auth.ContextWithSession(ctx, session)
				next.ServeHTTP(w, r.WithContext(ctx))
			default:
				g.codec.Clear(w)
				g.reject(w, StateDenied, apperrors.CodeForbidden, g.cfg.UnauthorizedURL)
			}
		})
	}
}

func (g *Gate) authenticate(r *http.Request) (auth.Session, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return auth.Session{}, false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return auth.Session{}, false
	}
	session, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		return auth.Session{}, false
	}
	return session, true
}

func (g *Gate) resolve(r *http.Request, w http.ResponseWriter, session auth.Session, policy Policy) Resolution {
	now := g.now().UTC()

	// Fresh cache entry for this subject short-circuits the store read.
	if entry, ok := g.codec.Read(r); ok && entry.Subject == session.SubjectID && entry.Fresh(now, policy.TTL) {
		return g.evaluate(session, entry.RoleID, entry.Active, policy)
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.StoreTimeout)
	defer cancel()

	record, err := g.identities.GetByExternalID(ctx, session.SubjectID)
	if err != nil {
		// Store failure, timeout, or no record: same fallback. Grace is
		// one-directional and time-bounded; it can turn an absent record
		// into a pass, never a denial into a longer denial.
		if policy.AllowGrace && g.withinGraceWindow(session, now) {
			g.triggerBackgroundSync(session)
			return Resolution{Session: session, State: StateGrace}
		}
		return Resolution{Session: session, State: StateDenied}
	}

	g.codec.Write(w, Entry{
		Subject:  session.SubjectID,
		RoleID:   record.RoleID,
		Active:   record.IsActive,
		CachedAt: now,
	})
	return g.evaluate(session, record.RoleID, record.IsActive, policy)
}

func (g *Gate) evaluate(session auth.Session, roleID int, active bool, policy Policy) Resolution {
	if !active {
		return Resolution{Session: session, State: StateDenied}
	}
	for _, allowed := range policy.Roles {
		if roleID == allowed {
			return Resolution{Session: session, State: StateAuthorized, RoleID: roleID}
		}
	}
	return Resolution{Session: session, State: StateDenied}
}

// withinGraceWindow is a strict bound: exactly at the boundary counts as
// outside. A session without a creation claim gets no grace.
func (g *Gate) withinGraceWindow(session auth.Session, now time.Time) bool {
	if session.AccountCreatedAt.IsZero() {
		return false
	}
	return now.Sub(session.AccountCreatedAt) < g.cfg.GraceWindow
}

func (g *Gate) triggerBackgroundSync(session auth.Session) {
	if g.sync == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		result := g.sync.Reconcile(ctx, reconciler.Input{
			SubjectID:    session.SubjectID,
			Email:        session.Email,
			IsNewUser:    true,
			SessionToken: session.Token,
		})
		if result.Status == reconciler.StatusFailed && g.logger != nil {
			g.logger.Error("grace-period background sync failed",
				slog.String("subjectId", session.SubjectID),
				slog.Any("error", result.Err))
		}
	}()
}

func (g *Gate) reject(w http.ResponseWriter, state State, code string, location string) {
	w.Header().Set(StateHeader, string(state))
	if location != "" {
		w.Header().Set("Location", location)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.ToStatusCode(code))
	_ = json.NewEncoder(w).Encode(apperrors.ErrorResponse{Code: code, Message: http.StatusText(apperrors.ToStatusCode(code))})
}
