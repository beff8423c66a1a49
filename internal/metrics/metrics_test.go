package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":           "/",
		"/":          "/",
		"/acme/authorize":       "/acme/authorize",
		"/acme/token?code=x":    "/acme/token",
		"/acme/verify/12345678": "/acme/verify/:param",
		"/acme/magic-link/authenticate": "/acme/magic-link/authenticate",
		"/acme/callback/0bd6f9aa-672f-4b61-9f38-82e79ad2c695": "/acme/callback/:param",
		"/acme/reset/eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9":   "/acme/reset/:param",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), in)
	}
}
