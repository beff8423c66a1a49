package pg

import (
	"context"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/store/core"
)

func (s *Store) CreatePKCEChallenge(ctx context.Context, tenant, challenge string) error {
	const q = `
		INSERT INTO pkce_challenges (id, tenant, challenge, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant, challenge) DO NOTHING`

	_, err := s.pool.Exec(ctx, q, uuid.New(), tenant, challenge)
	return interpret(err)
}

func (s *Store) LinkPKCEIdentity(ctx context.Context, tenant string, identityID uuid.UUID, challenge string) (uuid.UUID, error) {
	// identity_id transitions null->set exactly once; relinking the same
	// identity is a no-op, anything else finds no row.
	const q = `
		UPDATE pkce_challenges
		SET identity_id = $3
		WHERE tenant = $1 AND challenge = $2
		  AND (identity_id IS NULL OR identity_id = $3)
		RETURNING id`

	var code uuid.UUID
	if err := s.pool.QueryRow(ctx, q, tenant, challenge, identityID).Scan(&code); err != nil {
		return uuid.Nil, interpret(err)
	}
	return code, nil
}

func (s *Store) AddPKCEProviderTokens(ctx context.Context, tenant string, code uuid.UUID, authToken, refreshToken, idToken *string) error {
	const q = `
		UPDATE pkce_challenges
		SET auth_token = $3, refresh_token = $4, id_token = $5
		WHERE tenant = $1 AND id = $2`

	tag, err := s.pool.Exec(ctx, q, tenant, code, authToken, refreshToken, idToken)
	if err != nil {
		return interpret(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) GetPKCE(ctx context.Context, tenant string, code uuid.UUID) (core.PKCERecord, error) {
	const q = `
		SELECT id, challenge, identity_id, auth_token, refresh_token, id_token, created_at
		FROM pkce_challenges
		WHERE tenant = $1 AND id = $2`

	var rec core.PKCERecord
	err := s.pool.QueryRow(ctx, q, tenant, code).Scan(
		&rec.ID, &rec.Challenge, &rec.IdentityID, &rec.AuthToken, &rec.RefreshToken, &rec.IDToken, &rec.CreatedAt)
	if err != nil {
		return core.PKCERecord{}, interpret(err)
	}
	return rec, nil
}

func (s *Store) DeletePKCE(ctx context.Context, tenant string, code uuid.UUID) error {
	const q = `DELETE FROM pkce_challenges WHERE tenant = $1 AND id = $2`

	tag, err := s.pool.Exec(ctx, q, tenant, code)
	if err != nil {
		return interpret(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
