// Package feed subscribes to the per-operation open-delivery push feed on the
// message bus.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/odvcencio/inteldesk/pkg/bus"
	"github.com/odvcencio/inteldesk/pkg/delivery"
	apperrors "github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/logging"
	"github.com/odvcencio/inteldesk/pkg/subscription"
	"github.com/odvcencio/inteldesk/pkg/telemetry"
	"github.com/odvcencio/inteldesk/pkg/wire"
)

// Feed implements delivery.Feed over a MessageBus. Every subscription is
// announced on the control subject so the directory starts publishing
// snapshots for the operation.
type Feed struct {
	bus bus.MessageBus
	log *logging.Logger
}

var _ delivery.Feed = (*Feed)(nil)

// New creates a Feed.
func New(b bus.MessageBus, log *logging.Logger) *Feed {
	return &Feed{bus: b, log: logging.OrNop(log).WithComponent("feed")}
}

// SubscribeOpenDeliveries subscribes to operationID's push subject. Pushes are
// handed to handler in receipt order; undecodable pushes are logged and
// dropped.
func (f *Feed) SubscribeOpenDeliveries(ctx context.Context, operationID string, handler delivery.PushHandler) (subscription.Handle, error) {
	log := f.log.WithOperation(operationID)
	sub, err := f.bus.Subscribe(ctx, wire.OpenDeliveriesSubject(operationID), func(msg *bus.Message) []byte {
		var push wire.OpenDeliveriesPush
		if err := wire.Decode(msg.Data, &push); err != nil {
			telemetry.FeedPushes.WithLabelValues("decode_error").Inc()
			log.Warn("dropping undecodable push", "error", err.Error())
			return nil
		}
		telemetry.FeedPushes.WithLabelValues("ok").Inc()
		handler(operationID, push.Deliveries)
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransport, "subscribe open deliveries").
			WithContext("operation_id", operationID)
	}

	if err := f.announce(ctx, wire.ControlSubscribe, operationID); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	log.Debug("push feed opened")
	return &handle{feed: f, sub: sub, operationID: operationID}, nil
}

func (f *Feed) announce(ctx context.Context, subject, operationID string) error {
	data, err := wire.Encode(wire.ControlMessage{OperationID: operationID})
	if err != nil {
		return err
	}
	if err := f.bus.Publish(ctx, subject, data); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransport, "announce "+subject).
			WithContext("operation_id", operationID)
	}
	return nil
}

type handle struct {
	feed        *Feed
	sub         bus.Subscription
	operationID string
	once        sync.Once
	err         error
}

// Unsubscribe stops the push subscription and tells the directory to stop
// publishing. It is idempotent.
func (h *handle) Unsubscribe() error {
	h.once.Do(func() {
		subErr := h.sub.Unsubscribe()
		annErr := h.feed.announce(context.Background(), wire.ControlUnsubscribe, h.operationID)
		h.err = errors.Join(subErr, annErr)
	})
	return h.err
}
