package credential

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/calsync/calsync/internal/platform/provider"
)

// webhookEvents are the provider notifications we subscribe to when an
// account connects. Invitee lifecycle changes trigger a re-sync upstream.
var webhookEvents = []string{"invitee.created", "invitee.canceled"}

// ProviderAPI is the slice of the provider client the connect flow needs.
type ProviderAPI interface {
	Me(ctx context.Context, accessToken string) (*provider.Identity, error)
	ListWebhookSubscriptions(ctx context.Context, accessToken, organization string) ([]provider.WebhookSubscription, error)
	CreateWebhookSubscription(ctx context.Context, accessToken, callbackURL, organization string, events []string) (*provider.WebhookSubscription, error)
}

type Service struct {
	repo        Repository
	api         ProviderAPI
	oauth       *oauth2.Config
	callbackURL string
	logger      zerolog.Logger
}

// NewService wires the OAuth connect flow. callbackURL is where provider
// webhook notifications land; empty disables webhook registration.
func NewService(repo Repository, api ProviderAPI, oauth *oauth2.Config, callbackURL string, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		api:         api,
		oauth:       oauth,
		callbackURL: callbackURL,
		logger:      logger.With().Str("component", "credential").Logger(),
	}
}

// AuthURL builds the provider consent URL for the connect redirect.
func (s *Service) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Connect exchanges the authorization code, resolves who the token belongs
// to, and stores the credential keyed by the account's lower-cased email.
// Webhook registration is best effort and never fails the connect.
func (s *Service) Connect(ctx context.Context, code string) (*Credential, error) {
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	identity, err := s.api.Me(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("provider identity has no email")
	}

	cred := &Credential{
		ID:            uuid.New(),
		AccountID:     NormalizeAccount(identity.Email),
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		SchedulingURL: identity.SchedulingURL,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		cred.ExpiresAt = &expiry
	}

	if err := s.repo.Upsert(ctx, cred); err != nil {
		return nil, err
	}

	s.ensureWebhook(ctx, token.AccessToken, identity.Organization)

	s.logger.Info().Str("account_id", cred.AccountID).Msg("provider connected")
	return cred, nil
}

// GetToken hands out the stored token for one synchronization pass.
func (s *Service) GetToken(ctx context.Context, accountID string) (*Token, error) {
	cred, err := s.repo.GetByAccount(ctx, NormalizeAccount(accountID))
	if err != nil {
		return nil, err
	}
	return cred.Token(), nil
}

// SchedulingLink returns the account's public booking URL.
func (s *Service) SchedulingLink(ctx context.Context, accountID string) (string, error) {
	cred, err := s.repo.GetByAccount(ctx, NormalizeAccount(accountID))
	if err != nil {
		return "", err
	}
	return cred.SchedulingURL, nil
}

// Disconnect removes the stored credential for an account.
func (s *Service) Disconnect(ctx context.Context, accountID string) error {
	return s.repo.Delete(ctx, NormalizeAccount(accountID))
}

// ensureWebhook registers the invitee webhook subscription unless one for
// our callback URL already exists. Failures are logged, not returned.
func (s *Service) ensureWebhook(ctx context.Context, accessToken, organization string) {
	if s.callbackURL == "" || organization == "" {
		return
	}

	subs, err := s.api.ListWebhookSubscriptions(ctx, accessToken, organization)
	if err != nil {
		s.logger.Warn().Err(err).Msg("list webhook subscriptions failed")
		return
	}
	for _, sub := range subs {
		if sub.URL == s.callbackURL {
			return
		}
	}

	if _, err := s.api.CreateWebhookSubscription(ctx, accessToken, s.callbackURL, organization, webhookEvents); err != nil {
		s.logger.Warn().Err(err).Msg("create webhook subscription failed")
	}
}

// NormalizeAccount canonicalizes an account identifier. Account IDs are
// emails and the provider is case-insensitive about them.
func NormalizeAccount(accountID string) string {
	return strings.ToLower(strings.TrimSpace(accountID))
}
