package queue

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    "github.com/cockroachdb/errors"
    "github.com/google/uuid"
    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/cinema-ticket-sales/internal/logging"
)

var errNacked = errors.New("broker did not confirm publish")

// Publisher sends events to the topic exchange on a confirm-mode channel.
// The connection is opened lazily and reopened after any failure.  Publish
// returns only once the broker has confirmed the message.
type Publisher struct {
    url  string
    topo Topology

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewPublisher returns a Publisher for the broker at url.  No connection is
// made until the first publish.
func NewPublisher(url string, topo Topology) *Publisher {
    return &Publisher{url: url, topo: topo}
}

// Publish routes ev with its kind as routing key.  The correlation id of
// ctx travels in the X-Correlation-ID header; a fresh one is generated when
// ctx carries none.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
    msg, err := newPublishing(ctx, ev)
    if err != nil {
        return err
    }
    if err := p.PublishRaw(ctx, string(ev.Kind()), msg); err != nil {
        return err
    }
    logging.FromContext(ctx).WithField("routing_key", ev.Kind()).Debug("event published")
    return nil
}

// PublishRaw publishes an already built message with the given routing key
// and waits for the broker confirm.
func (p *Publisher) PublishRaw(ctx context.Context, routingKey string, msg amqp.Publishing) error {
    ch, err := p.channel(ctx)
    if err != nil {
        return err
    }
    dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.topo.Exchange, routingKey, false, false, msg)
    if err != nil {
        p.reset(ch)
        return errors.Wrapf(err, "publish %s", routingKey)
    }
    ok, err := dc.WaitContext(ctx)
    if err != nil {
        return errors.Wrapf(err, "await confirm of %s", routingKey)
    }
    if !ok {
        return errors.Wrapf(errNacked, "publish %s", routingKey)
    }
    return nil
}

// Close shuts the connection down.  A later publish reconnects.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    var err error
    if p.conn != nil {
        err = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
    return err
}

func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    if p.conn == nil || p.conn.IsClosed() {
        conn, err := amqp.Dial(p.url)
        if err != nil {
            return nil, errors.Wrap(err, "dial broker")
        }
        p.conn = conn
    }
    ch, err := p.conn.Channel()
    if err != nil {
        return nil, errors.Wrap(err, "open channel")
    }
    if err := ch.Confirm(false); err != nil {
        _ = ch.Close()
        return nil, errors.Wrap(err, "enable confirms")
    }
    if err := p.topo.Declare(ch); err != nil {
        _ = ch.Close()
        return nil, err
    }
    p.ch = ch
    logging.FromContext(ctx).Info("publisher channel ready")
    return ch, nil
}

func (p *Publisher) reset(ch *amqp.Channel) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.ch == ch {
        _ = ch.Close()
        p.ch = nil
    }
}

func newPublishing(ctx context.Context, ev Event) (amqp.Publishing, error) {
    if err := ev.Validate(); err != nil {
        return amqp.Publishing{}, err
    }
    body, err := json.Marshal(ev)
    if err != nil {
        return amqp.Publishing{}, errors.Wrapf(err, "marshal %s", ev.Kind())
    }
    corrID := logging.CorrelationID(ctx)
    if corrID == "" {
        corrID = logging.NewCorrelationID()
    }
    return amqp.Publishing{
        Headers:      amqp.Table{logging.CorrelationIDHeader: corrID},
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    uuid.NewString(),
        Timestamp:    time.Now().UTC(),
        Type:         string(ev.Kind()),
        Body:         body,
    }, nil
}
