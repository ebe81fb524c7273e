package appointment

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/calsync/calsync/internal/domain/credential"
	"github.com/calsync/calsync/internal/platform/provider"
)

// CredentialStore resolves the provider token for an account. Returns
// credential.ErrNotConnected when the account never linked the provider.
type CredentialStore interface {
	GetToken(ctx context.Context, accountID string) (*credential.Token, error)
}

// ProviderClient is the slice of the provider API a synchronization
// pass consumes.
type ProviderClient interface {
	Me(ctx context.Context, accessToken string) (*provider.Identity, error)
	ListActiveEvents(ctx context.Context, accessToken, userURI string, pageSize int) ([]provider.Event, error)
	ListInvitees(ctx context.Context, accessToken, eventURI string) ([]provider.Invitee, error)
}

// Reconciler performs one synchronization pass per call: pull the
// account's active events from the provider, mirror them locally, and
// purge appointments that have already ended.
//
// Concurrent passes for the same account are tolerated rather than
// locked out: upserts are idempotent and the purge is a predicate
// delete, so overlapping passes converge on the next run.
type Reconciler struct {
	store    CredentialStore
	client   ProviderClient
	repo     Repository
	fanout   int
	pageSize int
	logger   zerolog.Logger
	now      func() time.Time
}

func NewReconciler(store CredentialStore, client ProviderClient, repo Repository, fanout, pageSize int, logger zerolog.Logger) *Reconciler {
	if fanout < 1 {
		fanout = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	return &Reconciler{
		store:    store,
		client:   client,
		repo:     repo,
		fanout:   fanout,
		pageSize: pageSize,
		logger:   logger.With().Str("component", "reconciler").Logger(),
		now:      time.Now,
	}
}

// Synchronize runs one pass for the account. The step order is load
// bearing: the purge runs only after the upsert loop so an in-flight
// upsert is never raced by its own pass's delete.
//
// Failures before the upsert loop abort the pass with nothing written:
// credential.ErrNotConnected, *provider.AuthError from the identity
// check, *provider.UpstreamError from the event listing. Failures
// inside the loop are per-event and never abort the pass.
func (r *Reconciler) Synchronize(ctx context.Context, accountID string) (*SyncResult, error) {
	accountID = credential.NormalizeAccount(accountID)

	token, err := r.store.GetToken(ctx, accountID)
	if err != nil {
		return nil, err
	}

	identity, err := r.client.Me(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	events, err := r.client.ListActiveEvents(ctx, token.AccessToken, identity.URI, r.pageSize)
	if err != nil {
		return nil, err
	}

	var upserted, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)
	for _, event := range events {
		event := event
		if event.URI == "" || event.StartTime == nil || event.EndTime == nil {
			skipped.Add(1)
			r.logger.Debug().Str("account_id", accountID).Str("event_uri", event.URI).Msg("skipping malformed event")
			continue
		}
		g.Go(func() error {
			if err := r.reconcileEvent(gctx, accountID, token.AccessToken, event); err != nil {
				skipped.Add(1)
				r.logger.Warn().Err(err).Str("account_id", accountID).Str("event_uri", event.URI).Msg("event upsert failed")
				return nil
			}
			upserted.Add(1)
			return nil
		})
	}
	g.Wait()

	purged, err := r.repo.DeleteExpired(ctx, accountID, r.now())
	if err != nil {
		return nil, err
	}

	appts, err := r.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("account_id", accountID).
		Int64("upserted", upserted.Load()).
		Int64("skipped", skipped.Load()).
		Int64("purged", purged).
		Msg("synchronization pass complete")

	return &SyncResult{
		Appointments: appts,
		Upserted:     int(upserted.Load()),
		Skipped:      int(skipped.Load()),
		Purged:       purged,
	}, nil
}

// reconcileEvent enriches one event with its first invitee's email and
// writes the mirror row. Invitee lookup failures degrade to an empty
// patient email instead of failing the event.
func (r *Reconciler) reconcileEvent(ctx context.Context, accountID, accessToken string, event provider.Event) error {
	patientEmail := ""
	invitees, err := r.client.ListInvitees(ctx, accessToken, event.URI)
	if err != nil {
		r.logger.Debug().Err(err).Str("event_uri", event.URI).Msg("invitee lookup failed, continuing without email")
	} else if len(invitees) > 0 {
		patientEmail = strings.ToLower(strings.TrimSpace(invitees[0].Email))
	}

	status := event.Status
	if status == "" {
		status = "active"
	}

	return r.repo.UpsertByEventURI(ctx, &Appointment{
		ID:           uuid.New(),
		AccountID:    accountID,
		PatientEmail: patientEmail,
		EventURI:     event.URI,
		StartTime:    *event.StartTime,
		EndTime:      *event.EndTime,
		Status:       status,
	})
}
