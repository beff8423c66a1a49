package pg

import (
	"context"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/store/core"
)

func (s *Store) CreateWebAuthnIdentity(ctx context.Context, tenant, email string, userHandle, credentialID, publicKey []byte) (core.Identity, core.WebAuthnFactor, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Identity{}, core.WebAuthnFactor{}, interpret(err)
	}
	defer tx.Rollback(ctx)

	const qi = `
		INSERT INTO identities (id, tenant, issuer, subject, created_at, modified_at)
		VALUES ($1, $2, $3, '', NOW(), NOW())
		RETURNING id, issuer, subject, created_at, modified_at`

	var ident core.Identity
	if err := tx.QueryRow(ctx, qi, uuid.New(), tenant, core.LocalIssuer).Scan(
		&ident.ID, &ident.Issuer, &ident.Subject, &ident.CreatedAt, &ident.ModifiedAt); err != nil {
		return core.Identity{}, core.WebAuthnFactor{}, interpret(err)
	}

	const qf = `
		INSERT INTO webauthn_factors (id, tenant, identity_id, email, user_handle, credential_id, public_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, identity_id, email, user_handle, credential_id, public_key, verified_at, created_at`

	var f core.WebAuthnFactor
	if err := tx.QueryRow(ctx, qf, uuid.New(), tenant, ident.ID, email, userHandle, credentialID, publicKey).Scan(
		&f.ID, &f.IdentityID, &f.Email, &f.UserHandle, &f.CredentialID, &f.PublicKey, &f.VerifiedAt, &f.CreatedAt); err != nil {
		return core.Identity{}, core.WebAuthnFactor{}, interpret(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.Identity{}, core.WebAuthnFactor{}, interpret(err)
	}
	return ident, f, nil
}

func (s *Store) GetWebAuthnFactors(ctx context.Context, tenant, email string) ([]core.WebAuthnFactor, error) {
	const q = `
		SELECT id, identity_id, email, user_handle, credential_id, public_key, verified_at, created_at
		FROM webauthn_factors
		WHERE tenant = $1 AND email = $2`

	rows, err := s.pool.Query(ctx, q, tenant, email)
	if err != nil {
		return nil, interpret(err)
	}
	defer rows.Close()

	var out []core.WebAuthnFactor
	for rows.Next() {
		var f core.WebAuthnFactor
		if err := rows.Scan(&f.ID, &f.IdentityID, &f.Email, &f.UserHandle, &f.CredentialID, &f.PublicKey, &f.VerifiedAt, &f.CreatedAt); err != nil {
			return nil, interpret(err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) CreateRegistrationChallenge(ctx context.Context, tenant, email string, userHandle, challenge []byte) error {
	const q = `
		INSERT INTO webauthn_registration_challenges (id, tenant, email, user_handle, challenge, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`

	_, err := s.pool.Exec(ctx, q, uuid.New(), tenant, email, userHandle, challenge)
	return interpret(err)
}

func (s *Store) ConsumeRegistrationChallenge(ctx context.Context, tenant, email string, userHandle []byte) (core.WebAuthnChallenge, error) {
	return s.consumeChallenge(ctx, "webauthn_registration_challenges", tenant, email, userHandle)
}

func (s *Store) UpsertAuthenticationChallenge(ctx context.Context, tenant, email string, userHandle, challenge []byte) error {
	const q = `
		INSERT INTO webauthn_authentication_challenges (id, tenant, email, user_handle, challenge, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant, email, user_handle)
		DO UPDATE SET challenge = EXCLUDED.challenge, created_at = NOW()`

	_, err := s.pool.Exec(ctx, q, uuid.New(), tenant, email, userHandle, challenge)
	return interpret(err)
}

func (s *Store) ConsumeAuthenticationChallenge(ctx context.Context, tenant, email string, userHandle []byte) (core.WebAuthnChallenge, error) {
	return s.consumeChallenge(ctx, "webauthn_authentication_challenges", tenant, email, userHandle)
}

// consumeChallenge deletes every pending challenge for (email, user_handle)
// and returns the one consumed; exactly one row is expected.
func (s *Store) consumeChallenge(ctx context.Context, table, tenant, email string, userHandle []byte) (core.WebAuthnChallenge, error) {
	q := `
		DELETE FROM ` + table + `
		WHERE tenant = $1 AND email = $2 AND user_handle = $3
		RETURNING id, email, user_handle, challenge, created_at`

	rows, err := s.pool.Query(ctx, q, tenant, email, userHandle)
	if err != nil {
		return core.WebAuthnChallenge{}, interpret(err)
	}
	defer rows.Close()

	var out []core.WebAuthnChallenge
	for rows.Next() {
		var c core.WebAuthnChallenge
		if err := rows.Scan(&c.ID, &c.Email, &c.UserHandle, &c.Challenge, &c.CreatedAt); err != nil {
			return core.WebAuthnChallenge{}, interpret(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return core.WebAuthnChallenge{}, interpret(err)
	}
	switch len(out) {
	case 0:
		return core.WebAuthnChallenge{}, core.ErrNotFound
	case 1:
		return out[0], nil
	default:
		return core.WebAuthnChallenge{}, core.ErrAmbiguous
	}
}
