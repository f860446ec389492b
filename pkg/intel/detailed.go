package intel

import (
	"encoding/json"
	"sync"

	"github.com/odvcencio/inteldesk/pkg/broadcast"
)

// DetailField names one of the lazily resolved fields of a detailed delivery.
type DetailField int

const (
	FieldOperation DetailField = iota
	FieldIntelCreator
	FieldRecipientEntry
	FieldIntel
	FieldAttempts
	FieldRecipientChannels
)

func (f DetailField) String() string {
	switch f {
	case FieldOperation:
		return "operation"
	case FieldIntelCreator:
		return "intel_creator"
	case FieldRecipientEntry:
		return "recipient_entry"
	case FieldIntel:
		return "intel"
	case FieldAttempts:
		return "attempts"
	case FieldRecipientChannels:
		return "recipient_channels"
	default:
		return "unknown"
	}
}

// enrichmentFields are the fields resolved for every open delivery. The other
// two are only fetched on selection.
const enrichmentFields = 1<<FieldOperation | 1<<FieldIntelCreator | 1<<FieldRecipientEntry | 1<<FieldIntel

// DetailedOpenIntelDelivery wraps an open delivery with independently
// resolved details. A wrapper is created once per delivery id and patched in
// place; it is safe for concurrent use.
type DetailedOpenIntelDelivery struct {
	id string

	mu             sync.RWMutex
	base           OpenIntelDelivery
	operation      Detail[Operation]
	intelCreator   Detail[User]
	recipientEntry Detail[AddressBookEntry]
	intel          Detail[Intel]
	attempts       Detail[[]DeliveryAttempt]
	channels       Detail[[]Channel]
	version        uint64
	settled        int
	stabilized     chan struct{}

	changes *broadcast.Value[uint64]
}

// NewDetailed wraps d with every detail pending.
func NewDetailed(d OpenIntelDelivery) *DetailedOpenIntelDelivery {
	return &DetailedOpenIntelDelivery{
		id:         d.Delivery.ID,
		base:       d,
		stabilized: make(chan struct{}),
		changes:    broadcast.NewWith[uint64](0),
	}
}

// ID returns the delivery id.
func (d *DetailedOpenIntelDelivery) ID() string {
	return d.id
}

// Base returns the latest open delivery snapshot.
func (d *DetailedOpenIntelDelivery) Base() OpenIntelDelivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.base
}

// SetBase swaps in a newer snapshot of the same delivery. Details are kept.
func (d *DetailedOpenIntelDelivery) SetBase(o OpenIntelDelivery) {
	if o.Delivery.ID != d.id {
		return
	}
	d.update(func() { d.base = o })
}

func (d *DetailedOpenIntelDelivery) Operation() Detail[Operation] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.operation
}

func (d *DetailedOpenIntelDelivery) IntelCreator() Detail[User] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.intelCreator
}

func (d *DetailedOpenIntelDelivery) RecipientEntry() Detail[AddressBookEntry] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.recipientEntry
}

func (d *DetailedOpenIntelDelivery) Intel() Detail[Intel] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.intel
}

func (d *DetailedOpenIntelDelivery) Attempts() Detail[[]DeliveryAttempt] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attempts
}

func (d *DetailedOpenIntelDelivery) RecipientChannels() Detail[[]Channel] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.channels
}

func (d *DetailedOpenIntelDelivery) SetOperation(v Detail[Operation]) {
	d.update(func() { d.operation = v })
	d.settleIfResolved(FieldOperation, v.State)
}

func (d *DetailedOpenIntelDelivery) SetIntelCreator(v Detail[User]) {
	d.update(func() { d.intelCreator = v })
	d.settleIfResolved(FieldIntelCreator, v.State)
}

func (d *DetailedOpenIntelDelivery) SetRecipientEntry(v Detail[AddressBookEntry]) {
	d.update(func() { d.recipientEntry = v })
	d.settleIfResolved(FieldRecipientEntry, v.State)
}

func (d *DetailedOpenIntelDelivery) SetIntel(v Detail[Intel]) {
	d.update(func() { d.intel = v })
	d.settleIfResolved(FieldIntel, v.State)
}

func (d *DetailedOpenIntelDelivery) SetAttempts(v Detail[[]DeliveryAttempt]) {
	d.update(func() { d.attempts = v })
}

func (d *DetailedOpenIntelDelivery) SetRecipientChannels(v Detail[[]Channel]) {
	d.update(func() { d.channels = v })
}

// Settle records that the first resolution attempt for f finished, whether or
// not it produced a value. Once all four enrichment fields settled,
// Stabilized is closed.
func (d *DetailedOpenIntelDelivery) Settle(f DetailField) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled&enrichmentFields == enrichmentFields {
		return
	}
	d.settled |= 1 << f
	if d.settled&enrichmentFields == enrichmentFields {
		close(d.stabilized)
	}
}

// Stabilized is closed once operation, creator, recipient and intel have all
// been resolved at least once.
func (d *DetailedOpenIntelDelivery) Stabilized() <-chan struct{} {
	return d.stabilized
}

// Version increases with every patch.
func (d *DetailedOpenIntelDelivery) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Changes yields the version after every patch, starting with the current one.
func (d *DetailedOpenIntelDelivery) Changes() (<-chan uint64, func()) {
	return d.changes.Subscribe()
}

func (d *DetailedOpenIntelDelivery) update(fn func()) {
	d.mu.Lock()
	fn()
	d.version++
	v := d.version
	d.mu.Unlock()
	d.changes.Publish(v)
}

func (d *DetailedOpenIntelDelivery) settleIfResolved(f DetailField, s DetailState) {
	if s != DetailPending {
		d.Settle(f)
	}
}

// DetailedSnapshot is a consistent copy of a detailed delivery.
type DetailedSnapshot struct {
	Delivery          Delivery                  `json:"delivery"`
	IntelSummary      IntelSummary              `json:"intel_summary"`
	Operation         Detail[Operation]         `json:"operation"`
	IntelCreator      Detail[User]              `json:"intel_creator"`
	RecipientEntry    Detail[AddressBookEntry]  `json:"recipient_entry"`
	Intel             Detail[Intel]             `json:"intel"`
	Attempts          Detail[[]DeliveryAttempt] `json:"attempts"`
	RecipientChannels Detail[[]Channel]         `json:"recipient_channels"`
	Version           uint64                    `json:"version"`
}

// Snapshot copies the wrapper's current state.
func (d *DetailedOpenIntelDelivery) Snapshot() DetailedSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DetailedSnapshot{
		Delivery:          d.base.Delivery,
		IntelSummary:      d.base.Intel,
		Operation:         d.operation,
		IntelCreator:      d.intelCreator,
		RecipientEntry:    d.recipientEntry,
		Intel:             d.intel,
		Attempts:          d.attempts,
		RecipientChannels: d.channels,
		Version:           d.version,
	}
}

// MarshalJSON serializes the current snapshot.
func (d *DetailedOpenIntelDelivery) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Snapshot())
}

// Bases projects wrappers onto their plain open deliveries.
func Bases(ds []*DetailedOpenIntelDelivery) []OpenIntelDelivery {
	out := make([]OpenIntelDelivery, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Base())
	}
	return out
}
