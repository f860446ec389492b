// Package delivery coordinates the open intel deliveries of the operations an
// operator watches: it merges pushed snapshots, enriches every delivery with
// cached entities, publishes sorted views and keeps one delivery selected.
package delivery

import (
	"context"
	stderrors "errors"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/inteldesk/pkg/autoselect"
	"github.com/odvcencio/inteldesk/pkg/broadcast"
	"github.com/odvcencio/inteldesk/pkg/cache"
	"github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/intel"
	"github.com/odvcencio/inteldesk/pkg/logging"
	"github.com/odvcencio/inteldesk/pkg/subscription"
	"github.com/odvcencio/inteldesk/pkg/telemetry"
)

// Config holds the service's timing knobs.
type Config struct {
	// SweepInterval is how often stale intel is invalidated.
	SweepInterval time.Duration
	// IntelMaxAge is the idle age after which cached intel is refetched.
	IntelMaxAge time.Duration
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		SweepInterval: time.Minute,
		IntelMaxAge:   10 * time.Minute,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = logging.OrNop(l).WithComponent("delivery") }
}

// WithActions enables the act-and-select-next helpers.
func WithActions(a Actions) Option {
	return func(s *Service) { s.actions = a }
}

// WithClock sets the clock of the entity caches.
func WithClock(clock cache.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// View is one published list of open deliveries.
type View = []*intel.DetailedOpenIntelDelivery

// enrichmentKeys are the ids a delivery's cached details are looked up by.
type enrichmentKeys struct {
	operation string
	creator   string
	entry     string
	intel     string
}

func keysOf(o intel.OpenIntelDelivery) enrichmentKeys {
	return enrichmentKeys{
		operation: o.Intel.OperationID,
		creator:   o.Intel.CreatedBy,
		entry:     o.Delivery.RecipientEntryID,
		intel:     o.Delivery.IntelID,
	}
}

// tracked is an open delivery the service currently holds.
type tracked struct {
	d           *intel.DetailedOpenIntelDelivery
	operationID string
	keys        enrichmentKeys
	stops       []func()
}

func (t *tracked) stopWatches() {
	for _, stop := range t.stops {
		stop()
	}
	t.stops = nil
}

// Service is the delivery coordination service. All mutations of the open
// list and the selection are serialized by mu.
type Service struct {
	cfg     Config
	feed    Feed
	lookups Lookups
	actions Actions
	log     *logging.Logger
	clock   cache.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mux      *subscription.Multiplexer
	selector *autoselect.Selector

	operations *cache.Retriever[intel.Operation]
	users      *cache.Retriever[intel.User]
	entries    *cache.Retriever[intel.AddressBookEntry]
	intels     *cache.Retriever[intel.Intel]

	all          *broadcast.Value[View]
	byImportance *broadcast.Value[View]
	byAge        *broadcast.Value[View]
	selectedV    *broadcast.Value[*intel.DetailedOpenIntelDelivery]

	mu           sync.Mutex
	open         []*tracked
	tracked      map[string]*tracked
	selected     *intel.DetailedOpenIntelDelivery
	selectCancel context.CancelFunc
	closed       bool
}

// New wires a Service. Views start out empty and nothing is selected.
func New(cfg Config, feed Feed, lookups Lookups, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.IntelMaxAge <= 0 {
		cfg.IntelMaxAge = def.IntelMaxAge
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:          cfg,
		feed:         feed,
		lookups:      lookups,
		log:          logging.Nop(),
		ctx:          ctx,
		cancel:       cancel,
		selector:     autoselect.NewSelector(),
		all:          broadcast.NewWithClone(View{}, cloneView),
		byImportance: broadcast.NewWithClone(View{}, cloneView),
		byAge:        broadcast.NewWithClone(View{}, cloneView),
		selectedV:    broadcast.NewWith[*intel.DetailedOpenIntelDelivery](nil),
		tracked:      make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux = subscription.NewMultiplexer(s.activate, subscription.WithObserver(feedObserver{log: s.log}))
	s.operations = cache.NewRetriever(cache.RetrieverConfig[intel.Operation]{
		Name: "operations", Fetch: lookups.Operation, Cache: cache.New[intel.Operation](s.clock), Logger: s.log,
	})
	s.users = cache.NewRetriever(cache.RetrieverConfig[intel.User]{
		Name: "users", Fetch: lookups.User, Cache: cache.New[intel.User](s.clock), Logger: s.log,
	})
	s.entries = cache.NewRetriever(cache.RetrieverConfig[intel.AddressBookEntry]{
		Name: "address_book_entries", Fetch: lookups.AddressBookEntry, Cache: cache.New[intel.AddressBookEntry](s.clock), Logger: s.log,
	})
	s.intels = cache.NewRetriever(cache.RetrieverConfig[intel.Intel]{
		Name: "intel", Fetch: lookups.Intel, Cache: cache.New[intel.Intel](s.clock), Logger: s.log,
	})
	return s
}

// Start runs the periodic intel sweep until ctx is done or the service is
// closed.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.SweepIntel()
			}
		}
	}()
}

// SweepIntel invalidates intel not accessed within IntelMaxAge. Intel still
// shown on an open delivery is refetched.
func (s *Service) SweepIntel() []string {
	return s.intels.InvalidateAllOlderThan(s.cfg.IntelMaxAge)
}

// Close releases every feed subscription, stops enrichment and closes all
// views.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, t := range s.tracked {
		t.stopWatches()
	}
	if s.selectCancel != nil {
		s.selectCancel()
	}
	s.mu.Unlock()

	err := s.mux.Close()
	s.cancel()
	s.wg.Wait()

	s.operations.Close()
	s.users.Close()
	s.entries.Close()
	s.intels.Close()

	s.all.Close()
	s.byImportance.Close()
	s.byAge.Close()
	s.selectedV.Close()
	return err
}

// SubscribeForOperation attaches one logical subscriber to operationID's
// feed. Only the first subscriber opens the feed.
func (s *Service) SubscribeForOperation(operationID string) error {
	if operationID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "operation id is required")
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.Wrap(subscription.ErrClosed, errors.ErrCodeInternal, "delivery service closed").
			WithContext("operation_id", operationID)
	}
	if err := s.mux.Attach(operationID); err != nil {
		if stderrors.Is(err, subscription.ErrClosed) {
			return errors.Wrap(err, errors.ErrCodeInternal, "delivery service closed").
				WithContext("operation_id", operationID)
		}
		return err
	}
	return nil
}

// UnsubscribeForOperation detaches one logical subscriber. The last one
// closes the feed; deliveries already received stay until replaced or
// removed.
func (s *Service) UnsubscribeForOperation(operationID string) error {
	return s.mux.Detach(operationID)
}

// SubscribedOperations lists operations with an open feed.
func (s *Service) SubscribedOperations() []string {
	return s.mux.Keys()
}

func (s *Service) activate(operationID string) (subscription.Handle, error) {
	return s.feed.SubscribeOpenDeliveries(s.ctx, operationID, s.applyPush)
}

// feedObserver counts open operation feeds.
type feedObserver struct {
	log *logging.Logger
}

func (o feedObserver) Activated(operationID string) {
	telemetry.FeedSubscriptions.Inc()
	o.log.FeedSubscribed(operationID)
}

func (o feedObserver) Released(operationID string) {
	telemetry.FeedSubscriptions.Dec()
	o.log.FeedUnsubscribed(operationID)
}

// cloneView gives every reader of a view stream its own slice.
func cloneView(v View) View {
	return slices.Clone(v)
}

// OpenDeliveriesChange streams the merged open deliveries in merge order.
func (s *Service) OpenDeliveriesChange() (<-chan View, func()) {
	return s.all.Subscribe()
}

// OpenDeliveriesByImportanceChange streams open deliveries, most important
// first.
func (s *Service) OpenDeliveriesByImportanceChange() (<-chan View, func()) {
	return s.byImportance.Subscribe()
}

// OpenDeliveriesByAgeChange streams open deliveries ordered by the creation
// age comparator.
func (s *Service) OpenDeliveriesByAgeChange() (<-chan View, func()) {
	return s.byAge.Subscribe()
}

// SelectedChange streams the selected delivery; nil means none.
func (s *Service) SelectedChange() (<-chan *intel.DetailedOpenIntelDelivery, func()) {
	return s.selectedV.Subscribe()
}

// OpenDeliveries returns the latest merged view.
func (s *Service) OpenDeliveries() View {
	v, _ := s.all.Latest()
	return v
}

// OpenDeliveriesByImportance returns the latest by-importance view.
func (s *Service) OpenDeliveriesByImportance() View {
	v, _ := s.byImportance.Latest()
	return v
}

// OpenDeliveriesByAge returns the latest by-age view.
func (s *Service) OpenDeliveriesByAge() View {
	v, _ := s.byAge.Latest()
	return v
}

// Selected returns the selected delivery or nil.
func (s *Service) Selected() *intel.DetailedOpenIntelDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Delivery returns the open delivery with id.
func (s *Service) Delivery(id string) (*intel.DetailedOpenIntelDelivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[id]
	if !ok {
		return nil, false
	}
	return t.d, true
}

// Select makes deliveryID the selected delivery and fetches its attempts and
// recipient channels. Unknown ids are ignored.
func (s *Service) Select(deliveryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[deliveryID]
	if !ok || s.closed {
		return false
	}
	s.selectLocked(t.d, "operator")
	return true
}

// RemoveDeliveryAndSelectNext drops deliveryID from its operation without
// waiting for the next push and reruns the update pipeline. Unknown ids are
// ignored.
func (s *Service) RemoveDeliveryAndSelectNext(deliveryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[deliveryID]
	if !ok || s.closed {
		return false
	}

	var remaining []intel.OpenIntelDelivery
	for _, other := range s.open {
		if other.operationID == t.operationID && other.d.ID() != deliveryID {
			remaining = append(remaining, other.d.Base())
		}
	}
	s.updateLocked(t.operationID, remaining)
	return true
}

// ScheduleAttemptAndSelectNext schedules a delivery attempt and removes the
// delivery from the open list.
func (s *Service) ScheduleAttemptAndSelectNext(ctx context.Context, deliveryID, channelID string) error {
	if s.actions == nil {
		return errors.New(errors.ErrCodeInternal, "no delivery actions configured")
	}
	if err := s.actions.ScheduleDeliveryAttempt(ctx, deliveryID, channelID); err != nil {
		return err
	}
	s.RemoveDeliveryAndSelectNext(deliveryID)
	return nil
}

// CancelAndSelectNext closes a delivery and removes it from the open list.
func (s *Service) CancelAndSelectNext(ctx context.Context, deliveryID string, success bool, note string) error {
	if s.actions == nil {
		return errors.New(errors.ErrCodeInternal, "no delivery actions configured")
	}
	if err := s.actions.CancelDelivery(ctx, deliveryID, success, note); err != nil {
		return err
	}
	s.RemoveDeliveryAndSelectNext(deliveryID)
	return nil
}

// applyPush is the feed handler.
func (s *Service) applyPush(operationID string, deliveries []intel.OpenIntelDelivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.updateLocked(operationID, deliveries)
}

// updateLocked runs the pipeline: replace the operation's deliveries, enrich
// new ones, publish the views, then repair the selection.
func (s *Service) updateLocked(operationID string, deliveries []intel.OpenIntelDelivery) {
	s.replaceLocked(operationID, deliveries)
	view := s.publishLocked()
	s.ensureSelectionLocked(view)
}

func (s *Service) replaceLocked(operationID string, deliveries []intel.OpenIntelDelivery) {
	next := make([]*tracked, 0, len(s.open)+len(deliveries))
	keep := make(map[string]bool, cap(next))
	for _, t := range s.open {
		if t.operationID != operationID {
			next = append(next, t)
			keep[t.d.ID()] = true
		}
	}

	added := 0
	for _, o := range deliveries {
		id := o.ID()
		if id == "" || keep[id] {
			continue
		}
		keep[id] = true
		t, ok := s.tracked[id]
		if ok {
			t.operationID = operationID
			t.d.SetBase(o)
			if k := keysOf(o); k != t.keys {
				t.stopWatches()
				t.keys = k
				t.stops = s.enrich(t.d, k)
			}
		} else {
			t = s.track(o, operationID)
			added++
		}
		next = append(next, t)
	}

	removed := 0
	for id, t := range s.tracked {
		if !keep[id] {
			t.stopWatches()
			delete(s.tracked, id)
			removed++
		}
	}

	s.open = next
	telemetry.OpenDeliveries.Set(float64(len(next)))
	s.log.DeliveriesMerged(operationID, len(deliveries), len(next), added, removed)
}

func (s *Service) track(o intel.OpenIntelDelivery, operationID string) *tracked {
	d := intel.NewDetailed(o)
	t := &tracked{d: d, operationID: operationID, keys: keysOf(o)}
	s.tracked[d.ID()] = t
	t.stops = s.enrich(d, t.keys)
	return t
}

// enrich starts the four cache-backed detail lookups. Each patches only its
// own field and keeps doing so after later invalidations until stopped.
func (s *Service) enrich(d *intel.DetailedOpenIntelDelivery, k enrichmentKeys) []func() {
	return []func(){
		watchField(s, s.operations, d, intel.FieldOperation, k.operation, d.SetOperation),
		watchField(s, s.users, d, intel.FieldIntelCreator, k.creator, d.SetIntelCreator),
		watchField(s, s.entries, d, intel.FieldRecipientEntry, k.entry, d.SetRecipientEntry),
		watchField(s, s.intels, d, intel.FieldIntel, k.intel, d.SetIntel),
	}
}

func watchField[T any](s *Service, r *cache.Retriever[T], d *intel.DetailedOpenIntelDelivery, field intel.DetailField, key string, set func(intel.Detail[T])) func() {
	if key == "" {
		set(intel.Unavailable[T]())
		return func() {}
	}
	return r.Watch(key, func(v T, err error) {
		s.resolveField(d, field, key, err, func() { set(intel.Present(v)) }, func() { set(intel.Unavailable[T]()) })
	})
}

// resolveField maps a lookup outcome onto a detail field. Access denied and
// not found become unavailable; other failures leave the field as it was.
func (s *Service) resolveField(d *intel.DetailedOpenIntelDelivery, field intel.DetailField, key string, err error, present, unavailable func()) {
	switch {
	case err == nil:
		present()
	case errors.IsUnavailable(err):
		telemetry.EnrichmentFailures.WithLabelValues(field.String(), "unavailable").Inc()
		unavailable()
	default:
		telemetry.EnrichmentFailures.WithLabelValues(field.String(), "error").Inc()
		s.log.EnrichmentFailed(d.ID(), field.String(), key, err)
		d.Settle(field)
	}
}

func (s *Service) publishLocked() View {
	view := make(View, len(s.open))
	for i, t := range s.open {
		view[i] = t.d
	}
	base := (*intel.DetailedOpenIntelDelivery).Base
	s.all.Publish(view)
	s.byImportance.Publish(autoselect.SortedBy(view, base, autoselect.CompareByImportance))
	s.byAge.Publish(autoselect.SortedBy(view, base, autoselect.CompareByCreationAge))
	return view
}

// ensureSelectionLocked keeps the selection if it is still open, otherwise
// asks the selector for the next delivery or clears the selection.
func (s *Service) ensureSelectionLocked(view View) {
	if s.selected != nil {
		if _, ok := s.tracked[s.selected.ID()]; ok {
			return
		}
	}

	decision, ok := s.selector.Decide(intel.Bases(view))
	if !ok {
		if s.selected == nil {
			return
		}
		previous := s.selected.ID()
		if s.selectCancel != nil {
			s.selectCancel()
			s.selectCancel = nil
		}
		s.selected = nil
		s.selectedV.Publish(nil)
		s.log.SelectionChanged(previous, "", "no open deliveries")
		return
	}

	reason := "auto " + decision.Strategy.String()
	if decision.Urgent {
		reason = "auto urgent"
	}
	s.selectLocked(s.tracked[decision.Delivery.ID()].d, reason)
}

func (s *Service) selectLocked(d *intel.DetailedOpenIntelDelivery, reason string) {
	previous := ""
	if s.selected != nil {
		previous = s.selected.ID()
	}
	if s.selectCancel != nil {
		s.selectCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.selectCancel = cancel
	s.selected = d
	s.selectedV.Publish(d)
	s.log.SelectionChanged(previous, d.ID(), reason)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loadSelectionDetails(ctx, d)
	}()
}

// loadSelectionDetails fetches attempts and channels for the selected
// delivery. They are live data and bypass the caches.
func (s *Service) loadSelectionDetails(ctx context.Context, d *intel.DetailedOpenIntelDelivery) {
	base := d.Base()
	var g errgroup.Group
	g.Go(func() error {
		attempts, err := s.lookups.DeliveryAttempts(ctx, base.Delivery.ID)
		if ctx.Err() != nil {
			return nil
		}
		s.resolveField(d, intel.FieldAttempts, base.Delivery.ID, err,
			func() { d.SetAttempts(intel.Present(attempts)) },
			func() { d.SetAttempts(intel.Unavailable[[]intel.DeliveryAttempt]()) })
		return nil
	})
	g.Go(func() error {
		channels, err := s.lookups.Channels(ctx, base.Delivery.RecipientEntryID)
		if ctx.Err() != nil {
			return nil
		}
		s.resolveField(d, intel.FieldRecipientChannels, base.Delivery.RecipientEntryID, err,
			func() { d.SetRecipientChannels(intel.Present(channels)) },
			func() { d.SetRecipientChannels(intel.Unavailable[[]intel.Channel]()) })
		return nil
	})
	_ = g.Wait()
}
