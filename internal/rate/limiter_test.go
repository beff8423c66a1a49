package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterWindow(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "acme:a@x.com")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "hit %d", i+1)
	}

	res, err := l.Allow(ctx, "acme:a@x.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	// Other keys are unaffected.
	res, err = l.Allow(ctx, "acme:b@x.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// The window resets.
	time.Sleep(60 * time.Millisecond)
	res, err = l.Allow(ctx, "acme:a@x.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
