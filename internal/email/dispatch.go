package email

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lockhaven/authcore/internal/autherr"
)

// maskWindow bounds the randomized delay added to masked dispatches.
const maskWindow = 500 * time.Millisecond

// Dispatcher masks email delivery timing so a caller cannot tell
// whether an address had an account: the send runs in the background
// while the caller waits a randomized delay, then the send is awaited
// and its failure surfaced. A request for an unknown address performs
// only the delay, making the two cases indistinguishable by latency.
type Dispatcher struct {
	sender Sender
}

func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender}
}

// Dispatch sends msg with the timing mask applied. A nil msg is the
// no-op path for addresses without an account.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	var g errgroup.Group
	if msg != nil {
		m := *msg
		g.Go(func() error { return d.sender.Send(m) })
	}

	select {
	case <-time.After(randomDelay(maskWindow)):
	case <-ctx.Done():
	}

	if err := g.Wait(); err != nil {
		return autherr.Wrap(autherr.KindInternal, "delivering email", err)
	}
	return nil
}

func randomDelay(window time.Duration) time.Duration {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(window)))
	if err != nil {
		return window
	}
	return time.Duration(n.Int64())
}
