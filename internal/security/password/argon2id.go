// Package password hashes and verifies user passwords with argon2id,
// serialized as PHC strings so parameters travel with the hash.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/lockhaven/authcore/internal/autherr"
)

// Params are the argon2id cost parameters baked into every new hash.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultParams follows the RFC 9106 low-memory recommendation.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 4,
	SaltLen:     16,
	KeyLen:      32,
}

type Hasher struct {
	params Params
}

func NewHasher(p Params) *Hasher {
	if p.SaltLen == 0 {
		p.SaltLen = DefaultParams.SaltLen
	}
	if p.KeyLen == 0 {
		p.KeyLen = DefaultParams.KeyLen
	}
	return &Hasher{params: p}
}

// Hash derives an argon2id key from password and encodes it as
// $argon2id$v=19$m=...,t=...,p=...$salt$key with unpadded base64.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", autherr.Wrap(autherr.KindInternal, "generating salt", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches the PHC-encoded hash. The
// comparison is constant time over the derived keys.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}
	other := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// NeedsRehash reports whether the stored hash was produced with
// parameters weaker than the hasher's current ones.
func (h *Hasher) NeedsRehash(encoded string) bool {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return true
	}
	return p.Memory < h.params.Memory ||
		p.Time < h.params.Time ||
		p.Parallelism < h.params.Parallelism ||
		uint32(len(salt)) < h.params.SaltLen ||
		uint32(len(key)) < h.params.KeyLen
}

func decode(encoded string) (Params, []byte, []byte, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return Params{}, nil, nil, autherr.New(autherr.KindInternal, "malformed password hash")
	}
	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, autherr.New(autherr.KindInternal, "unsupported argon2 version")
	}
	var p Params
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return Params{}, nil, nil, autherr.New(autherr.KindInternal, "malformed argon2 parameters")
	}
	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return Params{}, nil, nil, autherr.New(autherr.KindInternal, "malformed argon2 salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil {
		return Params{}, nil, nil, autherr.New(autherr.KindInternal, "malformed argon2 key")
	}
	return p, salt, key, nil
}
