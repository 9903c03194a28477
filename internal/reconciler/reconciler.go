package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
)

// ErrInvalidInput marks a sync request rejected before any network call.
var ErrInvalidInput = errors.New("sync requires subject id and email")

const cooldownCacheSize = 4096

// Status classifies one reconciliation run.
type Status string

const (
	StatusSynced  Status = "synced"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Input carries the local identity snapshot that triggered the sync.
type Input struct {
	SubjectID    string
	Email        string
	FirstName    string
	LastName     string
	ImageURL     string
	IsNewUser    bool
	SessionToken string
}

// Result is the structured outcome; callers make policy decisions from it
// instead of handling exceptions.
type Result struct {
	Status Status
	RoleID int
	Err    error
}

// Config bounds the reconciler's retry and cooldown behavior.
type Config struct {
	Cooldown       time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PendingMaxAge  time.Duration
}

// DefaultConfig mirrors the production constants.
func DefaultConfig() Config {
	return Config{
		Cooldown:       time.Minute,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		PendingMaxAge:  time.Hour,
	}
}

// Reconciler runs client-triggered syncs with cooldown suppression, bounded
// retry, and durable pending persistence for offline recovery.
type Reconciler struct {
	caller   SyncCaller
	pending  PendingStore
	cooldown *expirable.LRU[string, time.Time]
	cfg      Config
	logger   *slog.Logger
}

// New creates a reconciler.
func New(caller SyncCaller, pending PendingStore, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.PendingMaxAge <= 0 {
		cfg.PendingMaxAge = DefaultConfig().PendingMaxAge
	}
	return &Reconciler{
		caller:  caller,
		pending: pending,
		// Entry presence means "synced within the cooldown window"; the LRU
		// evicts on its own, so a lookup hit is sufficient.
		cooldown: expirable.NewLRU[string, time.Time](cooldownCacheSize, nil, cfg.Cooldown),
		cfg:      cfg,
		logger:   logger,
	}
}

// Reconcile runs one sync for the given identity snapshot.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) Result {
	if strings.TrimSpace(in.SubjectID) == "" || strings.TrimSpace(in.Email) == "" {
		return Result{Status: StatusFailed, Err: ErrInvalidInput}
	}

	if _, withinCooldown := r.cooldown.Get(in.SubjectID); withinCooldown {
		return Result{Status: StatusSkipped}
	}

	roleID, err := r.attemptWithRetry(ctx, in)
	if err != nil {
		r.logError("sync failed after retries", in.SubjectID, err)
		r.persistPending(ctx, in)
		return Result{Status: StatusFailed, Err: err}
	}

	r.cooldown.Add(in.SubjectID, time.Now())
	if delErr := r.pending.Delete(ctx, in.SubjectID); delErr != nil {
		r.logError("failed to drop pending sync", in.SubjectID, delErr)
	}
	return Result{Status: StatusSynced, RoleID: roleID}
}

// FlushPending retries durable pending records. Records older than the
// staleness bound are dropped unconditionally, even if never retried.
func (r *Reconciler) FlushPending(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.cfg.PendingMaxAge)
	if pruned, err := r.pending.DeleteOlderThan(ctx, cutoff); err != nil {
		return err
	} else if pruned > 0 && r.logger != nil {
		r.logger.Info("pruned stale pending syncs", slog.Int("count", pruned))
	}

	records, err := r.pending.List(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		result := r.Reconcile(ctx, Input{
			SubjectID: rec.ExternalID,
			Email:     rec.Email,
			IsNewUser: rec.IsNewUser,
		})
		if result.Status == StatusFailed {
			r.logError("pending sync retry failed", rec.ExternalID, result.Err)
		}
	}
	return nil
}

// PersistPending exposes durable queueing for callers that already know the
// sync cannot run now (e.g. offline bootstrap).
func (r *Reconciler) PersistPending(ctx context.Context, in Input) error {
	return r.pending.Upsert(ctx, &models.PendingSync{
		ExternalID: in.SubjectID,
		Email:      in.Email,
		IsNewUser:  in.IsNewUser,
	})
}

func (r *Reconciler) attemptWithRetry(ctx context.Context, in Input) (int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialBackoff
	policy.MaxInterval = r.cfg.MaxBackoff

	var roleID int
	operation := func() error {
		var retryable bool
		var err error
		roleID, retryable, err = r.caller.Sync(ctx, in)
		if err == nil {
			return nil
		}
		if !retryable {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(r.cfg.MaxRetries)), ctx))
	if err != nil {
		return 0, err
	}
	return roleID, nil
}

func (r *Reconciler) persistPending(ctx context.Context, in Input) {
	if err := r.PersistPending(ctx, in); err != nil {
		r.logError("failed to persist pending sync", in.SubjectID, err)
	}
}

func (r *Reconciler) logError(msg, subjectID string, err error) {
	if r.logger == nil || err == nil {
		return
	}
	r.logger.Error(msg, slog.String("subjectId", subjectID), slog.Any("error", err))
}
