package credential

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotConnected is returned when an account has no stored provider
// credential. The user must link their scheduling account first.
var ErrNotConnected = errors.New("scheduling provider is not connected for this account")

// Credential maps to the credentials table: one provider OAuth credential
// per account. The account ID is the practitioner's lower-cased email.
type Credential struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AccountID     string     `db:"account_id" json:"account_id"`
	AccessToken   string     `db:"access_token" json:"-"`
	RefreshToken  string     `db:"refresh_token" json:"-"`
	SchedulingURL string     `db:"scheduling_url" json:"scheduling_url,omitempty"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Token is the read-only view of a credential handed out per
// synchronization pass. It is never persisted by its consumers.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Token returns the read-only view of the credential.
func (c *Credential) Token() *Token {
	return &Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt,
	}
}
