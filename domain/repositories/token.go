package repositories

import (
	"context"

	"github.com/satriahrh/ditado/domain/entities"
)

// TokenProvider exchanges a credential for a short-lived bearer token
type TokenProvider interface {
	Token(ctx context.Context, credential entities.Credential) (string, error)
}
