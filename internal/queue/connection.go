package queue

import (
    "context"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/cinema-ticket-sales/internal/logging"
)

const (
    minBackoff = time.Second
    maxBackoff = 30 * time.Second
)

// Dial connects to the broker, retrying with exponential backoff capped at
// 30s until it succeeds or ctx is done.
func Dial(ctx context.Context, url string) (*amqp.Connection, error) {
    backoff := minBackoff
    for {
        conn, err := amqp.Dial(url)
        if err == nil {
            return conn, nil
        }
        logging.FromContext(ctx).WithError(err).Warnf("broker dial failed; retrying in %s", backoff)
        if err := sleep(ctx, backoff); err != nil {
            return nil, err
        }
        backoff = nextBackoff(backoff)
    }
}

// reconnectBackoff is the delay between consume sessions.  It grows while
// sessions keep failing and starts over once a session got going.
type reconnectBackoff struct {
    next time.Duration
}

func (b *reconnectBackoff) wait() time.Duration {
    if b.next < minBackoff {
        b.next = minBackoff
    }
    d := b.next
    b.next = nextBackoff(d)
    return d
}

func (b *reconnectBackoff) reset() {
    b.next = minBackoff
}

func nextBackoff(d time.Duration) time.Duration {
    d *= 2
    if d > maxBackoff {
        d = maxBackoff
    }
    return d
}

func sleep(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}
