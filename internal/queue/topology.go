package queue

import (
    "time"

    "github.com/cockroachdb/errors"
    amqp "github.com/rabbitmq/amqp091-go"
)

const (
    // HeaderRetryCount counts how many times a message went through a
    // retry queue.  Absent means zero.
    HeaderRetryCount = "x-retry-count"
    // HeaderOriginalRoutingKey is set on dead-lettered messages.
    HeaderOriginalRoutingKey = "x-original-routing-key"

    retrySuffix          = ".retry"
    deadLetterQueue      = "cinema.dlq"
    deadLetterRoutingKey = "dlq"
)

// Declarer is the part of *amqp.Channel needed to declare the topology.
type Declarer interface {
    ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
    QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
    QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Topology describes the exchange and queues.  Every event kind gets:
//
//   - a durable queue named after the kind, bound with the kind as key;
//   - a retry queue "<kind>.retry" bound with "<kind>.retry", which holds a
//     message for RetryDelay and then dead-letters it back to the exchange
//     with the original key.
//
// A single dead-letter queue is bound with the key "dlq".
type Topology struct {
    Exchange   string
    RetryDelay time.Duration
}

// RetryKey is the routing key of the retry queue of kind.
func RetryKey(kind Kind) string { return string(kind) + retrySuffix }

// Declare creates the exchange and all queues and bindings.  It is
// idempotent as long as the arguments do not change.
func (t Topology) Declare(ch Declarer) error {
    if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
        return errors.Wrapf(err, "declare exchange %s", t.Exchange)
    }
    for _, kind := range Kinds {
        if err := t.declareBound(ch, string(kind), string(kind), nil); err != nil {
            return err
        }
        retryArgs := amqp.Table{
            "x-message-ttl":             t.RetryDelay.Milliseconds(),
            "x-dead-letter-exchange":    t.Exchange,
            "x-dead-letter-routing-key": string(kind),
        }
        if err := t.declareBound(ch, RetryKey(kind), RetryKey(kind), retryArgs); err != nil {
            return err
        }
    }
    return t.declareBound(ch, deadLetterQueue, deadLetterRoutingKey, nil)
}

func (t Topology) declareBound(ch Declarer, queue, key string, args amqp.Table) error {
    if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
        return errors.Wrapf(err, "declare queue %s", queue)
    }
    if err := ch.QueueBind(queue, key, t.Exchange, false, nil); err != nil {
        return errors.Wrapf(err, "bind queue %s", queue)
    }
    return nil
}
