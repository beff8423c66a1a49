// Package mem is an in-memory credential store gateway. It backs tests and
// local development; semantics mirror the pg implementation, including
// constraint and not-found/ambiguous outcomes.
package mem

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/store/core"
)

type identityKey struct{ tenant, issuer, subject string }

type challengeRow struct {
	rec    core.WebAuthnChallenge
	tenant string
}

type Store struct {
	mu sync.Mutex

	identities   map[uuid.UUID]core.Identity
	identityIdx  map[identityKey]uuid.UUID
	identityTnt  map[uuid.UUID]string
	emailFactors map[uuid.UUID]core.EmailFactor
	factorTnt    map[uuid.UUID]string
	waFactors    map[uuid.UUID]core.WebAuthnFactor
	waFactorTnt  map[uuid.UUID]string
	regChals     []challengeRow
	authChals    []challengeRow
	pkce         map[uuid.UUID]core.PKCERecord
	pkceTnt      map[uuid.UUID]string
	settings     map[string]json.RawMessage // tenant + "\x00" + key
}

var _ core.Gateway = (*Store)(nil)

func New() *Store {
	return &Store{
		identities:   make(map[uuid.UUID]core.Identity),
		identityIdx:  make(map[identityKey]uuid.UUID),
		identityTnt:  make(map[uuid.UUID]string),
		emailFactors: make(map[uuid.UUID]core.EmailFactor),
		factorTnt:    make(map[uuid.UUID]string),
		waFactors:    make(map[uuid.UUID]core.WebAuthnFactor),
		waFactorTnt:  make(map[uuid.UUID]string),
		pkce:         make(map[uuid.UUID]core.PKCERecord),
		pkceTnt:      make(map[uuid.UUID]string),
		settings:     make(map[string]json.RawMessage),
	}
}

// SetSetting seeds tenant configuration; tests use this in place of the
// admin surface that writes auth_settings rows.
func (s *Store) SetSetting(tenant, key string, value any) {
	raw, _ := json.Marshal(value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[tenant+"\x00"+key] = raw
}

func (s *Store) GetSetting(_ context.Context, tenant, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.settings[tenant+"\x00"+key]
	if !ok {
		return nil, core.ErrNotFound
	}
	return raw, nil
}

func (s *Store) UpsertIdentity(_ context.Context, tenant, issuer, subject string) (core.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := identityKey{tenant, issuer, subject}
	if id, ok := s.identityIdx[k]; ok {
		ident := s.identities[id]
		ident.ModifiedAt = time.Now()
		s.identities[id] = ident
		return ident, false, nil
	}
	ident := core.Identity{
		ID: uuid.New(), Issuer: issuer, Subject: subject,
		CreatedAt: time.Now(), ModifiedAt: time.Now(),
	}
	s.identities[ident.ID] = ident
	s.identityIdx[k] = ident.ID
	s.identityTnt[ident.ID] = tenant
	return ident, true, nil
}

func (s *Store) GetIdentity(_ context.Context, tenant string, id uuid.UUID) (core.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	if !ok || s.identityTnt[id] != tenant {
		return core.Identity{}, core.ErrNotFound
	}
	return ident, nil
}

func (s *Store) createLocalIdentityLocked(tenant string) core.Identity {
	ident := core.Identity{
		ID: uuid.New(), Issuer: core.LocalIssuer, Subject: "",
		CreatedAt: time.Now(), ModifiedAt: time.Now(),
	}
	s.identities[ident.ID] = ident
	s.identityTnt[ident.ID] = tenant
	return ident
}

func (s *Store) CreateEmailIdentity(_ context.Context, tenant, email string, kind core.FactorKind, passwordHash *string) (core.Identity, core.EmailFactor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range s.emailFactors {
		if s.factorTnt[id] == tenant && f.Email == email {
			return core.Identity{}, core.EmailFactor{}, core.ErrConstraint
		}
	}
	ident := s.createLocalIdentityLocked(tenant)
	f := core.EmailFactor{
		ID: uuid.New(), IdentityID: ident.ID, Email: email, Kind: kind,
		PasswordHash: passwordHash, CreatedAt: time.Now(),
	}
	s.emailFactors[f.ID] = f
	s.factorTnt[f.ID] = tenant
	return ident, f, nil
}

func (s *Store) GetEmailFactor(_ context.Context, tenant, email string, kind core.FactorKind) (core.EmailFactor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.EmailFactor
	for id, f := range s.emailFactors {
		if s.factorTnt[id] == tenant && f.Email == email && f.Kind == kind {
			out = append(out, f)
		}
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

func (s *Store) GetEmailFactorByIdentity(_ context.Context, tenant string, identityID uuid.UUID) (core.EmailFactor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.emailFactors {
		if s.factorTnt[id] == tenant && f.IdentityID == identityID {
			return f, nil
		}
	}
	return core.EmailFactor{}, core.ErrNotFound
}

func (s *Store) UpdatePasswordHash(_ context.Context, tenant string, identityID uuid.UUID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.emailFactors {
		if s.factorTnt[id] == tenant && f.IdentityID == identityID && f.Kind == core.FactorPassword {
			h := hash
			f.PasswordHash = &h
			s.emailFactors[id] = f
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) SetEmailVerified(_ context.Context, tenant string, identityID uuid.UUID, at time.Time) (core.EmailFactor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.emailFactors {
		if s.factorTnt[id] == tenant && f.IdentityID == identityID && f.VerifiedAt == nil {
			t := at
			f.VerifiedAt = &t
			s.emailFactors[id] = f
			return f, nil
		}
	}
	return core.EmailFactor{}, core.ErrNotFound
}

func (s *Store) CreateWebAuthnIdentity(_ context.Context, tenant, email string, userHandle, credentialID, publicKey []byte) (core.Identity, core.WebAuthnFactor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range s.waFactors {
		if s.waFactorTnt[id] == tenant && bytes.Equal(f.CredentialID, credentialID) {
			return core.Identity{}, core.WebAuthnFactor{}, core.ErrConstraint
		}
	}
	ident := s.createLocalIdentityLocked(tenant)
	f := core.WebAuthnFactor{
		ID: uuid.New(), IdentityID: ident.ID, Email: email,
		UserHandle: userHandle, CredentialID: credentialID, PublicKey: publicKey,
		CreatedAt: time.Now(),
	}
	s.waFactors[f.ID] = f
	s.waFactorTnt[f.ID] = tenant
	return ident, f, nil
}

func (s *Store) GetWebAuthnFactors(_ context.Context, tenant, email string) ([]core.WebAuthnFactor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.WebAuthnFactor
	for id, f := range s.waFactors {
		if s.waFactorTnt[id] == tenant && f.Email == email {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) CreateRegistrationChallenge(_ context.Context, tenant, email string, userHandle, challenge []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regChals = append(s.regChals, challengeRow{
		tenant: tenant,
		rec: core.WebAuthnChallenge{
			ID: uuid.New(), Email: email, UserHandle: userHandle,
			Challenge: challenge, CreatedAt: time.Now(),
		},
	})
	return nil
}

func (s *Store) ConsumeRegistrationChallenge(_ context.Context, tenant, email string, userHandle []byte) (core.WebAuthnChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return consume(&s.regChals, tenant, email, userHandle)
}

func (s *Store) UpsertAuthenticationChallenge(_ context.Context, tenant, email string, userHandle, challenge []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.authChals {
		if row.tenant == tenant && row.rec.Email == email && bytes.Equal(row.rec.UserHandle, userHandle) {
			s.authChals[i].rec.Challenge = challenge
			s.authChals[i].rec.CreatedAt = time.Now()
			return nil
		}
	}
	s.authChals = append(s.authChals, challengeRow{
		tenant: tenant,
		rec: core.WebAuthnChallenge{
			ID: uuid.New(), Email: email, UserHandle: userHandle,
			Challenge: challenge, CreatedAt: time.Now(),
		},
	})
	return nil
}

func (s *Store) ConsumeAuthenticationChallenge(_ context.Context, tenant, email string, userHandle []byte) (core.WebAuthnChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return consume(&s.authChals, tenant, email, userHandle)
}

func consume(rows *[]challengeRow, tenant, email string, userHandle []byte) (core.WebAuthnChallenge, error) {
	var (
		kept  []challengeRow
		found []core.WebAuthnChallenge
	)
	for _, row := range *rows {
		if row.tenant == tenant && row.rec.Email == email && bytes.Equal(row.rec.UserHandle, userHandle) {
			found = append(found, row.rec)
			continue
		}
		kept = append(kept, row)
	}
	*rows = kept
	switch len(found) {
	case 0:
		return core.WebAuthnChallenge{}, core.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return core.WebAuthnChallenge{}, core.ErrAmbiguous
	}
}

func (s *Store) CreatePKCEChallenge(_ context.Context, tenant, challenge string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.pkce {
		if s.pkceTnt[id] == tenant && rec.Challenge == challenge {
			return nil // conflict: keep the existing record
		}
	}
	rec := core.PKCERecord{ID: uuid.New(), Challenge: challenge, CreatedAt: time.Now()}
	s.pkce[rec.ID] = rec
	s.pkceTnt[rec.ID] = tenant
	return nil
}

func (s *Store) LinkPKCEIdentity(_ context.Context, tenant string, identityID uuid.UUID, challenge string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.pkce {
		if s.pkceTnt[id] != tenant || rec.Challenge != challenge {
			continue
		}
		if rec.IdentityID != nil && *rec.IdentityID != identityID {
			continue
		}
		iid := identityID
		rec.IdentityID = &iid
		s.pkce[id] = rec
		return id, nil
	}
	return uuid.Nil, core.ErrNotFound
}

func (s *Store) AddPKCEProviderTokens(_ context.Context, tenant string, code uuid.UUID, authToken, refreshToken, idToken *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pkce[code]
	if !ok || s.pkceTnt[code] != tenant {
		return core.ErrNotFound
	}
	rec.AuthToken = authToken
	rec.RefreshToken = refreshToken
	rec.IDToken = idToken
	s.pkce[code] = rec
	return nil
}

func (s *Store) GetPKCE(_ context.Context, tenant string, code uuid.UUID) (core.PKCERecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pkce[code]
	if !ok || s.pkceTnt[code] != tenant {
		return core.PKCERecord{}, core.ErrNotFound
	}
	return rec, nil
}

func (s *Store) DeletePKCE(_ context.Context, tenant string, code uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pkce[code]; !ok || s.pkceTnt[code] != tenant {
		return core.ErrNotFound
	}
	delete(s.pkce, code)
	delete(s.pkceTnt, code)
	return nil
}
