package queue

import (
    "context"

    "github.com/cockroachdb/errors"
    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
    "golang.org/x/sync/errgroup"

    "github.com/iliyamo/cinema-ticket-sales/internal/logging"
)

// DefaultMaxRetries is how many times a failing message goes through its
// retry queue before it is dead-lettered.
const DefaultMaxRetries = 3

// RawPublisher republishes a delivery to the retry queue or the dead-letter
// queue.  *Publisher implements it.
type RawPublisher interface {
    PublishRaw(ctx context.Context, routingKey string, msg amqp.Publishing) error
}

// Consumer consumes every event queue, one channel per queue with a
// prefetch of one, and dispatches each delivery to its handler.
//
// A failed delivery is republished to the retry queue of its kind with an
// incremented x-retry-count, or to the dead-letter queue once that count
// has reached the maximum.  The original delivery is acknowledged only
// after the republish was confirmed; if the republish fails the delivery is
// returned to its queue instead, so a message is never dropped.
type Consumer struct {
    url        string
    topo       Topology
    maxRetries int
    handlers   Handlers
    republish  RawPublisher
}

// NewConsumer panics unless every field of handlers is set.
func NewConsumer(url string, topo Topology, maxRetries int, handlers Handlers, republish RawPublisher) *Consumer {
    if err := handlers.validate(); err != nil {
        panic(err)
    }
    if maxRetries < 0 {
        maxRetries = DefaultMaxRetries
    }
    return &Consumer{url: url, topo: topo, maxRetries: maxRetries, handlers: handlers, republish: republish}
}

// Run consumes until ctx is done, reconnecting after any connection or
// channel failure.
func (c *Consumer) Run(ctx context.Context) error {
    log := logging.FromContext(ctx).WithField("component", "consumer")
    var backoff reconnectBackoff
    for {
        conn, err := Dial(ctx, c.url)
        if err != nil {
            return nil // ctx done
        }
        err = c.consume(ctx, conn, backoff.reset)
        _ = conn.Close()
        if ctx.Err() != nil {
            return nil
        }
        delay := backoff.wait()
        log.WithError(err).Warnf("consume loop ended; reconnecting in %s", delay)
        if sleep(ctx, delay) != nil {
            return nil
        }
    }
}

// consume calls started once every queue has a consumer.
func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, started func()) error {
    setup, err := conn.Channel()
    if err != nil {
        return errors.Wrap(err, "open channel")
    }
    if err := c.topo.Declare(setup); err != nil {
        _ = setup.Close()
        return err
    }
    _ = setup.Close()

    g, gctx := errgroup.WithContext(ctx)
    for _, kind := range Kinds {
        ch, err := conn.Channel()
        if err != nil {
            return errors.Wrapf(err, "open channel for %s", kind)
        }
        if err := ch.Qos(1, 0, false); err != nil {
            return errors.Wrapf(err, "qos for %s", kind)
        }
        deliveries, err := ch.Consume(string(kind), "", false, false, false, false, nil)
        if err != nil {
            return errors.Wrapf(err, "consume %s", kind)
        }
        g.Go(func() error {
            defer func() { _ = ch.Close() }()
            for {
                select {
                case <-gctx.Done():
                    return nil
                case d, ok := <-deliveries:
                    if !ok {
                        return errors.Newf("deliveries of %s closed", kind)
                    }
                    c.handle(ctx, kind, d)
                }
            }
        })
    }
    logging.FromContext(ctx).WithField("queues", len(Kinds)).Info("consumer started")
    started()
    return g.Wait()
}

func (c *Consumer) handle(ctx context.Context, kind Kind, d amqp.Delivery) {
    corrID := headerString(d.Headers, logging.CorrelationIDHeader)
    if corrID == "" {
        corrID = logging.NewCorrelationID()
    }
    retries := retryCount(d.Headers)
    ctx = logging.WithCorrelationID(ctx, corrID)
    ctx = logging.WithFields(ctx, logrus.Fields{
        "queue":       kind,
        "message_id":  d.MessageId,
        "retry_count": retries,
    })
    log := logging.FromContext(ctx)

    err := c.handlers.Dispatch(ctx, kind, d.Body)
    if err == nil {
        if ackErr := d.Ack(false); ackErr != nil {
            log.WithError(ackErr).Error("ack failed")
        }
        return
    }

    headers := amqp.Table{}
    for k, v := range d.Headers {
        headers[k] = v
    }
    headers[logging.CorrelationIDHeader] = corrID

    var key string
    if retries < c.maxRetries {
        key = RetryKey(kind)
        headers[HeaderRetryCount] = int32(retries + 1)
        log.WithError(err).Warnf("handler failed; scheduling retry %d/%d", retries+1, c.maxRetries)
    } else {
        key = deadLetterRoutingKey
        headers[HeaderOriginalRoutingKey] = string(kind)
        log.WithError(err).Error("handler failed; retries exhausted, dead-lettering")
    }

    msg := amqp.Publishing{
        Headers:      headers,
        ContentType:  d.ContentType,
        DeliveryMode: amqp.Persistent,
        MessageId:    d.MessageId,
        Timestamp:    d.Timestamp,
        Type:         d.Type,
        Body:         d.Body,
    }
    if pubErr := c.republish.PublishRaw(ctx, key, msg); pubErr != nil {
        log.WithError(pubErr).Error("republish failed; requeueing delivery")
        if nackErr := d.Nack(false, true); nackErr != nil {
            log.WithError(nackErr).Error("nack failed")
        }
        return
    }
    if ackErr := d.Ack(false); ackErr != nil {
        log.WithError(ackErr).Error("ack failed")
    }
}

func headerString(h amqp.Table, key string) string {
    if s, ok := h[key].(string); ok {
        return s
    }
    return ""
}

// retryCount reads x-retry-count, which may arrive as any integer type
// depending on who set it.
func retryCount(h amqp.Table) int {
    switch v := h[HeaderRetryCount].(type) {
    case int:
        return v
    case int8:
        return int(v)
    case int16:
        return int(v)
    case int32:
        return int(v)
    case int64:
        return int(v)
    case uint8:
        return int(v)
    case uint16:
        return int(v)
    case uint32:
        return int(v)
    default:
        return 0
    }
}
