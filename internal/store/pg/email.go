package pg

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/store/core"
)

func (s *Store) CreateEmailIdentity(ctx context.Context, tenant, email string, kind core.FactorKind, passwordHash *string) (core.Identity, core.EmailFactor, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Identity{}, core.EmailFactor{}, interpret(err)
	}
	defer tx.Rollback(ctx)

	const qi = `
		INSERT INTO identities (id, tenant, issuer, subject, created_at, modified_at)
		VALUES ($1, $2, $3, '', NOW(), NOW())
		RETURNING id, issuer, subject, created_at, modified_at`

	var ident core.Identity
	if err := tx.QueryRow(ctx, qi, uuid.New(), tenant, core.LocalIssuer).Scan(
		&ident.ID, &ident.Issuer, &ident.Subject, &ident.CreatedAt, &ident.ModifiedAt); err != nil {
		return core.Identity{}, core.EmailFactor{}, interpret(err)
	}

	const qf = `
		INSERT INTO email_factors (id, tenant, identity_id, email, kind, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, identity_id, email, kind, password_hash, verified_at, created_at`

	var f core.EmailFactor
	if err := tx.QueryRow(ctx, qf, uuid.New(), tenant, ident.ID, email, kind, passwordHash).Scan(
		&f.ID, &f.IdentityID, &f.Email, &f.Kind, &f.PasswordHash, &f.VerifiedAt, &f.CreatedAt); err != nil {
		return core.Identity{}, core.EmailFactor{}, interpret(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.Identity{}, core.EmailFactor{}, interpret(err)
	}
	return ident, f, nil
}

func (s *Store) GetEmailFactor(ctx context.Context, tenant, email string, kind core.FactorKind) (core.EmailFactor, error) {
	const q = `
		SELECT id, identity_id, email, kind, password_hash, verified_at, created_at
		FROM email_factors
		WHERE tenant = $1 AND email = $2 AND kind = $3`

	rows, err := s.pool.Query(ctx, q, tenant, email, kind)
	if err != nil {
		return core.EmailFactor{}, interpret(err)
	}
	defer rows.Close()

	var out []core.EmailFactor
	for rows.Next() {
		var f core.EmailFactor
		if err := rows.Scan(&f.ID, &f.IdentityID, &f.Email, &f.Kind, &f.PasswordHash, &f.VerifiedAt, &f.CreatedAt); err != nil {
			return core.EmailFactor{}, interpret(err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return core.EmailFactor{}, interpret(err)
	}
	switch len(out) {
	case 0:
		return core.EmailFactor{}, core.ErrNotFound
	case 1:
		return out[0], nil
	default:
		return core.EmailFactor{}, core.ErrAmbiguous
	}
}

func (s *Store) GetEmailFactorByIdentity(ctx context.Context, tenant string, identityID uuid.UUID) (core.EmailFactor, error) {
	const q = `
		SELECT id, identity_id, email, kind, password_hash, verified_at, created_at
		FROM email_factors
		WHERE tenant = $1 AND identity_id = $2`

	var f core.EmailFactor
	err := s.pool.QueryRow(ctx, q, tenant, identityID).Scan(
		&f.ID, &f.IdentityID, &f.Email, &f.Kind, &f.PasswordHash, &f.VerifiedAt, &f.CreatedAt)
	if err != nil {
		return core.EmailFactor{}, interpret(err)
	}
	return f, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, tenant string, identityID uuid.UUID, hash string) error {
	const q = `
		UPDATE email_factors
		SET password_hash = $3
		WHERE tenant = $1 AND identity_id = $2 AND kind = 'password'`

	tag, err := s.pool.Exec(ctx, q, tenant, identityID, hash)
	if err != nil {
		return interpret(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) SetEmailVerified(ctx context.Context, tenant string, identityID uuid.UUID, at time.Time) (core.EmailFactor, error) {
	const q = `
		UPDATE email_factors
		SET verified_at = $3
		WHERE tenant = $1 AND identity_id = $2 AND verified_at IS NULL
		RETURNING id, identity_id, email, kind, password_hash, verified_at, created_at`

	var f core.EmailFactor
	err := s.pool.QueryRow(ctx, q, tenant, identityID, at).Scan(
		&f.ID, &f.IdentityID, &f.Email, &f.Kind, &f.PasswordHash, &f.VerifiedAt, &f.CreatedAt)
	if err != nil {
		return core.EmailFactor{}, interpret(err)
	}
	return f, nil
}
