package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplates(t *testing.T) {
	tpls, err := LoadTemplates()
	require.NoError(t, err)

	vars := TemplateVars{
		AppName:   "Acme",
		UserEmail: "user@acme.test",
		Link:      "https://id.acme.test/ui/reset?token=abc",
		TTL:       "10 minutes",
	}
	for _, name := range []string{"reset_password", "verify_email", "magic_link"} {
		html, text, err := tpls.Render(name, vars)
		require.NoError(t, err, name)
		assert.Contains(t, html, vars.Link, name)
		assert.Contains(t, text, vars.Link, name)
		assert.Contains(t, html, "Acme", name)
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	tpls, err := LoadTemplates()
	require.NoError(t, err)

	html, _, err := tpls.Render("verify_email", TemplateVars{
		AppName:   "Acme",
		UserEmail: `<script>alert(1)</script>`,
	})
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
}

func TestDispatchDelivers(t *testing.T) {
	sender := &MemorySender{}
	d := NewDispatcher(sender)

	err := d.Dispatch(context.Background(), &Message{To: "user@acme.test", Subject: "hi"})
	require.NoError(t, err)

	msgs := sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user@acme.test", msgs[0].To)
}

func TestDispatchNilDelaysOnly(t *testing.T) {
	sender := &MemorySender{}
	d := NewDispatcher(sender)

	require.NoError(t, d.Dispatch(context.Background(), nil))
	assert.Empty(t, sender.Messages())
}

type failingSender struct{}

func (failingSender) Send(Message) error { return assert.AnError }

func TestDispatchSurfacesSendFailure(t *testing.T) {
	d := NewDispatcher(failingSender{})
	err := d.Dispatch(context.Background(), &Message{To: "user@acme.test"})
	require.Error(t, err)
}

func TestRandomDelayWithinWindow(t *testing.T) {
	for i := 0; i < 100; i++ {
		delay := randomDelay(maskWindow)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, maskWindow)
	}
}
