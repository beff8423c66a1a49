package pg

import (
	"context"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/store/core"
)

func (s *Store) UpsertIdentity(ctx context.Context, tenant, issuer, subject string) (core.Identity, bool, error) {
	const q = `
		INSERT INTO identities (id, tenant, issuer, subject, created_at, modified_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (tenant, issuer, subject) WHERE issuer <> 'local'
		DO UPDATE SET modified_at = NOW()
		RETURNING id, issuer, subject, created_at, modified_at, (xmax = 0) AS inserted`

	var (
		ident    core.Identity
		inserted bool
	)
	err := s.pool.QueryRow(ctx, q, uuid.New(), tenant, issuer, subject).Scan(
		&ident.ID, &ident.Issuer, &ident.Subject, &ident.CreatedAt, &ident.ModifiedAt, &inserted)
	if err != nil {
		return core.Identity{}, false, interpret(err)
	}
	return ident, inserted, nil
}

func (s *Store) GetIdentity(ctx context.Context, tenant string, id uuid.UUID) (core.Identity, error) {
	const q = `
		SELECT id, issuer, subject, created_at, modified_at
		FROM identities
		WHERE tenant = $1 AND id = $2`

	var ident core.Identity
	err := s.pool.QueryRow(ctx, q, tenant, id).Scan(
		&ident.ID, &ident.Issuer, &ident.Subject, &ident.CreatedAt, &ident.ModifiedAt)
	if err != nil {
		return core.Identity{}, interpret(err)
	}
	return ident, nil
}
