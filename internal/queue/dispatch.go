package queue

import (
    "context"
    "encoding/json"

    "github.com/cockroachdb/errors"
)

// Handlers holds exactly one handler per event kind.  A consumer cannot be
// built unless every field is set, so adding a kind forces every consumer
// to decide how to handle it.
type Handlers struct {
    ReservationCreated func(context.Context, ReservationCreatedEvent) error
    ReservationExpired func(context.Context, ReservationExpiredEvent) error
    PaymentConfirmed   func(context.Context, PaymentConfirmedEvent) error
    SeatReleased       func(context.Context, SeatReleasedEvent) error
}

func (h Handlers) validate() error {
    switch {
    case h.ReservationCreated == nil:
        return errors.Newf("no handler for %s", ReservationCreated)
    case h.ReservationExpired == nil:
        return errors.Newf("no handler for %s", ReservationExpired)
    case h.PaymentConfirmed == nil:
        return errors.Newf("no handler for %s", PaymentConfirmed)
    case h.SeatReleased == nil:
        return errors.Newf("no handler for %s", SeatReleased)
    }
    return nil
}

// Dispatch decodes body as the payload of kind and invokes its handler.
func (h Handlers) Dispatch(ctx context.Context, kind Kind, body []byte) error {
    switch kind {
    case ReservationCreated:
        return decodeAndHandle(ctx, body, h.ReservationCreated)
    case ReservationExpired:
        return decodeAndHandle(ctx, body, h.ReservationExpired)
    case PaymentConfirmed:
        return decodeAndHandle(ctx, body, h.PaymentConfirmed)
    case SeatReleased:
        return decodeAndHandle(ctx, body, h.SeatReleased)
    default:
        return errors.Newf("unknown event kind %q", kind)
    }
}

func decodeAndHandle[E Event](ctx context.Context, body []byte, handle func(context.Context, E) error) error {
    var ev E
    if err := json.Unmarshal(body, &ev); err != nil {
        return errors.Wrapf(err, "decode %s", ev.Kind())
    }
    if err := ev.Validate(); err != nil {
        return err
    }
    return handle(ctx, ev)
}
