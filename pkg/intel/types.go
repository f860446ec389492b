// Package intel defines the entities the delivery console works with: open
// deliveries, the intel they carry, and the entities a delivery references.
package intel

import (
	"encoding/json"
	"time"
)

// Importance thresholds for the six priority tiers. Prio 1 is urgent.
const (
	MinPrio1Importance = 1000
	MinPrio2Importance = 800
	MinPrio3Importance = 600
	MinPrio4Importance = 400
	MinPrio5Importance = 200
)

// Priority is the coarse tier of an importance value, 1 being the highest.
type Priority int

// PriorityOf maps an importance value to its tier.
func PriorityOf(importance int) Priority {
	switch {
	case importance >= MinPrio1Importance:
		return 1
	case importance >= MinPrio2Importance:
		return 2
	case importance >= MinPrio3Importance:
		return 3
	case importance >= MinPrio4Importance:
		return 4
	case importance >= MinPrio5Importance:
		return 5
	default:
		return 6
	}
}

// IsUrgent reports whether importance falls into the urgent tier.
func IsUrgent(importance int) bool {
	return importance >= MinPrio1Importance
}

// Delivery is a pending delivery task of one intel to one recipient.
type Delivery struct {
	ID               string `json:"id"`
	IntelID          string `json:"intel_id"`
	RecipientEntryID string `json:"recipient_entry_id"`
	Note             string `json:"note,omitempty"`
}

// IntelSummary is the part of an intel that travels with every open delivery.
type IntelSummary struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
	OperationID string    `json:"operation_id"`
	Importance  int       `json:"importance"`
	IsValid     bool      `json:"is_valid"`
}

// OpenIntelDelivery is an immutable snapshot of a delivery that still awaits
// operator action. Pushes replace these wholesale per operation.
type OpenIntelDelivery struct {
	Delivery Delivery     `json:"delivery"`
	Intel    IntelSummary `json:"intel"`
}

// ID returns the delivery id, the only identity of an open delivery.
func (d OpenIntelDelivery) ID() string {
	return d.Delivery.ID
}

// OperationID returns the operation the delivery belongs to.
func (d OpenIntelDelivery) OperationID() string {
	return d.Intel.OperationID
}

// Operation is a mission that intel is recorded for.
type Operation struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	IsArchived  bool       `json:"is_archived"`
}

// User is an account that creates intel or is referenced by entries.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsActive  bool   `json:"is_active"`
}

// DisplayName returns "First Last", falling back to the username.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Username
	}
}

// AddressBookEntry is a recipient of intel deliveries.
type AddressBookEntry struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	IsVisible   bool   `json:"is_visible"`
}

// Intel is the full intel record including its content.
type Intel struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	CreatedBy   string          `json:"created_by"`
	OperationID string          `json:"operation_id"`
	Type        string          `json:"type"`
	Content     json.RawMessage `json:"content,omitempty"`
	SearchText  string          `json:"search_text,omitempty"`
	Importance  int             `json:"importance"`
	IsValid     bool            `json:"is_valid"`
}

// Summary projects the fields carried by open deliveries.
func (i Intel) Summary() IntelSummary {
	return IntelSummary{
		ID:          i.ID,
		CreatedAt:   i.CreatedAt,
		CreatedBy:   i.CreatedBy,
		OperationID: i.OperationID,
		Importance:  i.Importance,
		IsValid:     i.IsValid,
	}
}

// AttemptStatus is the lifecycle state of a delivery attempt.
type AttemptStatus string

const (
	AttemptOpen        AttemptStatus = "open"
	AttemptAwaitingAck AttemptStatus = "awaiting-ack"
	AttemptDelivered   AttemptStatus = "delivered"
	AttemptTimeout     AttemptStatus = "timeout"
	AttemptCanceled    AttemptStatus = "canceled"
	AttemptFailed      AttemptStatus = "failed"
)

// DeliveryAttempt is one try at delivering intel over a channel.
type DeliveryAttempt struct {
	ID         string        `json:"id"`
	DeliveryID string        `json:"delivery_id"`
	ChannelID  string        `json:"channel_id"`
	CreatedAt  time.Time     `json:"created_at"`
	IsActive   bool          `json:"is_active"`
	Status     AttemptStatus `json:"status"`
	StatusTS   time.Time     `json:"status_ts"`
	Note       string        `json:"note,omitempty"`
}

// ChannelType identifies how a channel reaches its recipient.
type ChannelType string

const (
	ChannelRadio ChannelType = "radio"
	ChannelPhone ChannelType = "phone"
	ChannelEmail ChannelType = "email"
	ChannelInApp ChannelType = "in-app"
)

// Channel is a prioritized communication path to an address book entry.
type Channel struct {
	ID            string        `json:"id"`
	EntryID       string        `json:"entry_id"`
	Label         string        `json:"label"`
	Type          ChannelType   `json:"type"`
	Priority      int           `json:"priority"`
	MinImportance int           `json:"min_importance"`
	IsActive      bool          `json:"is_active"`
	Timeout       time.Duration `json:"timeout"`
}
