package credential

import "context"

// Repository defines persistence for provider credentials.
type Repository interface {
	Upsert(ctx context.Context, cred *Credential) error
	GetByAccount(ctx context.Context, accountID string) (*Credential, error)
	Delete(ctx context.Context, accountID string) error
}
