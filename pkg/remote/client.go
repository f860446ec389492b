// Package remote implements entity lookups and operator actions as
// request/reply calls over the message bus.
package remote

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/odvcencio/inteldesk/pkg/bus"
	"github.com/odvcencio/inteldesk/pkg/delivery"
	"github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/intel"
	"github.com/odvcencio/inteldesk/pkg/logging"
	"github.com/odvcencio/inteldesk/pkg/telemetry"
	"github.com/odvcencio/inteldesk/pkg/wire"
)

// Config tunes request behavior.
type Config struct {
	// Timeout bounds a single request attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt for
	// timeouts and missing responders.
	MaxRetries uint64
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        3 * time.Second,
		MaxRetries:     3,
		RateLimit:      50,
		Burst:          20,
		InitialBackoff: 100 * time.Millisecond,
	}
}

// Client implements delivery.Lookups and delivery.Actions.
type Client struct {
	bus     bus.MessageBus
	cfg     Config
	limiter *rate.Limiter
	log     *logging.Logger
}

var (
	_ delivery.Lookups = (*Client)(nil)
	_ delivery.Actions = (*Client)(nil)
)

// New creates a Client.
func New(b bus.MessageBus, cfg Config, log *logging.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		bus:     b,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     logging.OrNop(log).WithComponent("remote"),
	}
}

func (c *Client) Operation(ctx context.Context, id string) (intel.Operation, error) {
	var out intel.Operation
	err := c.call(ctx, wire.LookupOperation, wire.LookupRequest{ID: id}, &out)
	return out, err
}

func (c *Client) User(ctx context.Context, id string) (intel.User, error) {
	var out intel.User
	err := c.call(ctx, wire.LookupUser, wire.LookupRequest{ID: id}, &out)
	return out, err
}

func (c *Client) AddressBookEntry(ctx context.Context, id string) (intel.AddressBookEntry, error) {
	var out intel.AddressBookEntry
	err := c.call(ctx, wire.LookupAddressBookEntry, wire.LookupRequest{ID: id}, &out)
	return out, err
}

func (c *Client) Intel(ctx context.Context, id string) (intel.Intel, error) {
	var out intel.Intel
	err := c.call(ctx, wire.LookupIntel, wire.LookupRequest{ID: id}, &out)
	return out, err
}

func (c *Client) DeliveryAttempts(ctx context.Context, deliveryID string) ([]intel.DeliveryAttempt, error) {
	var out []intel.DeliveryAttempt
	err := c.call(ctx, wire.LookupDeliveryAttempts, wire.LookupRequest{ID: deliveryID}, &out)
	return out, err
}

func (c *Client) Channels(ctx context.Context, entryID string) ([]intel.Channel, error) {
	var out []intel.Channel
	err := c.call(ctx, wire.LookupChannels, wire.LookupRequest{ID: entryID}, &out)
	return out, err
}

func (c *Client) ScheduleDeliveryAttempt(ctx context.Context, deliveryID, channelID string) error {
	return c.call(ctx, wire.ActionScheduleAttempt, wire.ScheduleAttemptRequest{
		DeliveryID: deliveryID,
		ChannelID:  channelID,
	}, nil)
}

func (c *Client) CancelDelivery(ctx context.Context, deliveryID string, success bool, note string) error {
	return c.call(ctx, wire.ActionCancelDelivery, wire.CancelDeliveryRequest{
		DeliveryID: deliveryID,
		Success:    success,
		Note:       note,
	}, nil)
}

// call performs one logical request, retrying timeouts and missing
// responders with exponential backoff. Error replies and decode failures are
// returned as-is without retrying.
func (c *Client) call(ctx context.Context, subject string, req, out any) (err error) {
	payload, err := wire.Encode(req)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartSpan(ctx, "remote.request", trace.WithAttributes(
		telemetry.AttrSubject.String(subject),
	))
	start := time.Now()
	defer func() {
		telemetry.RemoteRequestDuration.WithLabelValues(subject).Observe(time.Since(start).Seconds())
		telemetry.RemoteRequests.WithLabelValues(subject, resultLabel(err)).Inc()
		telemetry.EndSpan(span, err)
	}()

	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		data, err := c.bus.Request(ctx, subject, payload, c.cfg.Timeout)
		if err != nil {
			if stderrors.Is(err, bus.ErrTimeout) || stderrors.Is(err, bus.ErrNoResponders) {
				c.log.RequestFailed(subject, attempt, err)
				code := errors.ErrCodeTimeout
				if stderrors.Is(err, bus.ErrNoResponders) {
					code = errors.ErrCodeTransport
				}
				return errors.Wrap(err, code, "request "+subject).WithRetryable(true)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return backoff.Permanent(errors.Wrap(err, errors.ErrCodeTransport, "request "+subject))
		}
		if err := wire.DecodeReply(data, out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.cfg.MaxRetries), ctx))
}

func (c *Client) newBackOff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.IsCode(err, errors.ErrCodeForbidden):
		return "forbidden"
	case errors.IsCode(err, errors.ErrCodeNotFound):
		return "not_found"
	case errors.IsCode(err, errors.ErrCodeTimeout):
		return "timeout"
	default:
		return "error"
	}
}
