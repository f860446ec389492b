package delivery

import (
	"context"

	"github.com/odvcencio/inteldesk/pkg/intel"
	"github.com/odvcencio/inteldesk/pkg/subscription"
)

//go:generate mockgen -source=ports.go -destination=mock_ports_test.go -package=delivery

// PushHandler receives the full replacement set of open deliveries for an
// operation.
type PushHandler func(operationID string, deliveries []intel.OpenIntelDelivery)

// Feed opens the per-operation push feed of open deliveries.
type Feed interface {
	SubscribeOpenDeliveries(ctx context.Context, operationID string, handler PushHandler) (subscription.Handle, error)
}

// Lookups resolves the entities a delivery references. Access denied and
// missing entities are reported with the forbidden and not-found error codes.
type Lookups interface {
	Operation(ctx context.Context, id string) (intel.Operation, error)
	User(ctx context.Context, id string) (intel.User, error)
	AddressBookEntry(ctx context.Context, id string) (intel.AddressBookEntry, error)
	Intel(ctx context.Context, id string) (intel.Intel, error)
	DeliveryAttempts(ctx context.Context, deliveryID string) ([]intel.DeliveryAttempt, error)
	Channels(ctx context.Context, entryID string) ([]intel.Channel, error)
}

// Actions are the operator actions that usually precede removing a delivery.
type Actions interface {
	ScheduleDeliveryAttempt(ctx context.Context, deliveryID, channelID string) error
	CancelDelivery(ctx context.Context, deliveryID string, success bool, note string) error
}
