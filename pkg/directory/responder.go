// Package directory serves the entity directory over the message bus: it
// answers lookups and operator actions and pushes open delivery snapshots to
// consoles that watch an operation.
package directory

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/inteldesk/pkg/bus"
	"github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/intel"
	"github.com/odvcencio/inteldesk/pkg/logging"
	"github.com/odvcencio/inteldesk/pkg/storage"
	"github.com/odvcencio/inteldesk/pkg/telemetry"
	"github.com/odvcencio/inteldesk/pkg/wire"
)

// QueueGroup is the queue group directory responders join, so that each
// request is answered by exactly one of them.
const QueueGroup = "inteldesk-directory"

// Store is the data the responder serves. *storage.Store implements it.
type Store interface {
	Operation(ctx context.Context, id string) (intel.Operation, error)
	User(ctx context.Context, id string) (intel.User, error)
	AddressBookEntry(ctx context.Context, id string) (intel.AddressBookEntry, error)
	Intel(ctx context.Context, id string) (intel.Intel, error)
	DeliveryAttempts(ctx context.Context, deliveryID string) ([]intel.DeliveryAttempt, error)
	Channels(ctx context.Context, entryID string) ([]intel.Channel, error)
	OpenDeliveries(ctx context.Context, operationID string) ([]intel.OpenIntelDelivery, error)
	ScheduleAttempt(ctx context.Context, deliveryID, channelID string) (intel.DeliveryAttempt, error)
	CancelDelivery(ctx context.Context, deliveryID string, success bool, note string) error
}

var _ Store = (*storage.Store)(nil)

// Responder answers directory requests on the bus.
type Responder struct {
	bus   bus.MessageBus
	store Store
	log   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    []bus.Subscription
	watched map[string]int
}

// NewResponder creates a Responder. Call Start to begin serving.
func NewResponder(b bus.MessageBus, store Store, log *logging.Logger) *Responder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Responder{
		bus:     b,
		store:   store,
		log:     logging.OrNop(log).WithComponent("directory"),
		ctx:     ctx,
		cancel:  cancel,
		watched: make(map[string]int),
	}
}

// Start subscribes to every lookup, action and control subject. The
// subscriptions end when ctx is done or Close is called.
func (r *Responder) Start(ctx context.Context) error {
	queued := map[string]bus.MessageHandler{
		wire.LookupOperation:        serveLookup(r, wire.LookupOperation, r.store.Operation),
		wire.LookupUser:             serveLookup(r, wire.LookupUser, r.store.User),
		wire.LookupAddressBookEntry: serveLookup(r, wire.LookupAddressBookEntry, r.store.AddressBookEntry),
		wire.LookupIntel:            serveLookup(r, wire.LookupIntel, r.store.Intel),
		wire.LookupDeliveryAttempts: serveLookup(r, wire.LookupDeliveryAttempts, r.store.DeliveryAttempts),
		wire.LookupChannels:         serveLookup(r, wire.LookupChannels, r.store.Channels),
		wire.ActionScheduleAttempt:  r.handleScheduleAttempt,
		wire.ActionCancelDelivery:   r.handleCancelDelivery,
	}
	broadcast := map[string]bus.MessageHandler{
		wire.ControlSubscribe:   r.handleControlSubscribe,
		wire.ControlUnsubscribe: r.handleControlUnsubscribe,
	}

	subjects := make([]string, 0, len(queued))
	for subject := range queued {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	var subs []bus.Subscription
	fail := func(err error) error {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		return errors.Wrap(err, errors.ErrCodeTransport, "start directory responder")
	}
	for _, subject := range subjects {
		sub, err := r.bus.QueueSubscribe(ctx, subject, QueueGroup, queued[subject])
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}
	for _, subject := range []string{wire.ControlSubscribe, wire.ControlUnsubscribe} {
		sub, err := r.bus.Subscribe(ctx, subject, broadcast[subject])
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}

	r.mu.Lock()
	r.subs = append(r.subs, subs...)
	r.mu.Unlock()
	r.log.Info("directory responder started", "subjects", len(subs))
	return nil
}

// Close stops serving.
func (r *Responder) Close() error {
	r.cancel()
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Watched returns the operations at least one console watches, sorted.
func (r *Responder) Watched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, 0, len(r.watched))
	for op := range r.watched {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func (r *Responder) isWatched(operationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watched[operationID] > 0
}

// PublishSnapshot pushes the current open deliveries of operationID.
func (r *Responder) PublishSnapshot(ctx context.Context, operationID string) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			r.log.Warn("snapshot publish failed", "operation_id", operationID, "error", err.Error())
		}
		telemetry.DirectorySnapshots.WithLabelValues(result).Inc()
	}()

	open, err := r.store.OpenDeliveries(ctx, operationID)
	if err != nil {
		return err
	}
	data, err := wire.Encode(wire.OpenDeliveriesPush{OperationID: operationID, Deliveries: open})
	if err != nil {
		return err
	}
	if err := r.bus.Publish(ctx, wire.OpenDeliveriesSubject(operationID), data); err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, "publish open deliveries")
	}
	return nil
}

// PublishAll pushes fresh snapshots for every watched operation.
func (r *Responder) PublishAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, op := range r.Watched() {
		op := op
		g.Go(func() error { return r.PublishSnapshot(ctx, op) })
	}
	return g.Wait()
}

// HandleStorageEvent republishes snapshots after the store changed. It
// implements storage.Observer.
func (r *Responder) HandleStorageEvent(e storage.Event) {
	if r.ctx.Err() != nil {
		return
	}
	if e.OperationID == "" {
		_ = r.PublishAll(r.ctx)
		return
	}
	if r.isWatched(e.OperationID) {
		_ = r.PublishSnapshot(r.ctx, e.OperationID)
	}
}

func (r *Responder) handleControlSubscribe(msg *bus.Message) []byte {
	var ctl wire.ControlMessage
	if err := wire.Decode(msg.Data, &ctl); err != nil || ctl.OperationID == "" {
		r.log.Warn("ignoring malformed control message", "subject", msg.Subject)
		return nil
	}
	r.mu.Lock()
	r.watched[ctl.OperationID]++
	telemetry.DirectoryWatchedOperations.Set(float64(len(r.watched)))
	r.mu.Unlock()

	_ = r.PublishSnapshot(r.ctx, ctl.OperationID)
	return nil
}

func (r *Responder) handleControlUnsubscribe(msg *bus.Message) []byte {
	var ctl wire.ControlMessage
	if err := wire.Decode(msg.Data, &ctl); err != nil || ctl.OperationID == "" {
		r.log.Warn("ignoring malformed control message", "subject", msg.Subject)
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watched[ctl.OperationID] <= 1 {
		delete(r.watched, ctl.OperationID)
	} else {
		r.watched[ctl.OperationID]--
	}
	telemetry.DirectoryWatchedOperations.Set(float64(len(r.watched)))
	return nil
}

func (r *Responder) handleScheduleAttempt(msg *bus.Message) []byte {
	var req wire.ScheduleAttemptRequest
	if err := wire.Decode(msg.Data, &req); err != nil {
		return r.reply(msg.Subject, nil, err)
	}
	ctx, span := telemetry.StartSpan(r.ctx, "directory.schedule_attempt", trace.WithAttributes(
		telemetry.AttrDeliveryID.String(req.DeliveryID),
	))
	attempt, err := r.store.ScheduleAttempt(ctx, req.DeliveryID, req.ChannelID)
	telemetry.EndSpan(span, err)
	return r.reply(msg.Subject, attempt, err)
}

func (r *Responder) handleCancelDelivery(msg *bus.Message) []byte {
	var req wire.CancelDeliveryRequest
	if err := wire.Decode(msg.Data, &req); err != nil {
		return r.reply(msg.Subject, nil, err)
	}
	ctx, span := telemetry.StartSpan(r.ctx, "directory.cancel_delivery", trace.WithAttributes(
		telemetry.AttrDeliveryID.String(req.DeliveryID),
	))
	err := r.store.CancelDelivery(ctx, req.DeliveryID, req.Success, req.Note)
	telemetry.EndSpan(span, err)
	return r.reply(msg.Subject, struct{}{}, err)
}

func (r *Responder) reply(subject string, v any, err error) []byte {
	if err != nil {
		telemetry.DirectoryRequests.WithLabelValues(subject, string(errors.GetCode(err))).Inc()
		if !errors.IsUnavailable(err) {
			r.log.Warn("directory request failed", "subject", subject, "error", err.Error())
		}
		return wire.Fail(err)
	}
	telemetry.DirectoryRequests.WithLabelValues(subject, "ok").Inc()
	return wire.OK(v)
}

func serveLookup[T any](r *Responder, subject string, fetch func(context.Context, string) (T, error)) bus.MessageHandler {
	return func(msg *bus.Message) []byte {
		var req wire.LookupRequest
		if err := wire.Decode(msg.Data, &req); err != nil {
			return r.reply(subject, nil, err)
		}
		ctx, span := telemetry.StartSpan(r.ctx, "directory.lookup", trace.WithAttributes(
			telemetry.AttrSubject.String(subject),
		))
		v, err := fetch(ctx, req.ID)
		telemetry.EndSpan(span, err)
		return r.reply(subject, v, err)
	}
}
