package storage

import (
	"context"
	"database/sql"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/intel"
)

// ScheduleAttempt starts a delivery attempt over channelID. The delivery
// leaves the open list until the attempt ends without success.
func (s *Store) ScheduleAttempt(ctx context.Context, deliveryID, channelID string) (intel.DeliveryAttempt, error) {
	now := s.now().UTC()
	attempt := intel.DeliveryAttempt{
		ID:         ulid.Make().String(),
		DeliveryID: deliveryID,
		ChannelID:  channelID,
		CreatedAt:  now,
		IsActive:   true,
		Status:     intel.AttemptAwaitingAck,
		StatusTS:   now,
	}

	var operationID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		d, err := loadDelivery(ctx, tx, deliveryID)
		if err != nil {
			return err
		}
		if !d.isOpen {
			return errors.New(errors.ErrCodeInvalidInput, "delivery is closed").WithContext("delivery_id", deliveryID)
		}
		if err := checkChannel(ctx, tx, d.delivery.RecipientEntryID, channelID); err != nil {
			return err
		}

		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM delivery_attempts WHERE delivery_id = ? AND is_active`, deliveryID,
		).Scan(&active); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageRead, "count active attempts")
		}
		if active > 0 {
			return errors.New(errors.ErrCodeInvalidInput, "delivery already has an active attempt").WithContext("delivery_id", deliveryID)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO delivery_attempts (id, delivery_id, channel_id, created_at, is_active, status, status_ts, note)
			VALUES (?, ?, ?, ?, TRUE, ?, ?, '')
		`, attempt.ID, deliveryID, channelID, attempt.CreatedAt, string(attempt.Status), attempt.StatusTS); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageWrite, "insert delivery attempt")
		}
		operationID = d.operationID
		return nil
	})
	if err != nil {
		return intel.DeliveryAttempt{}, err
	}

	s.notify(s.newEvent(EventAttemptScheduled, operationID, attempt.ID))
	return attempt, nil
}

func checkChannel(ctx context.Context, tx *sql.Tx, entryID, channelID string) error {
	var (
		owner      string
		active     bool
		restricted bool
	)
	err := tx.QueryRowContext(ctx,
		`SELECT entry_id, is_active, restricted FROM channels WHERE id = ?`, channelID,
	).Scan(&owner, &active, &restricted)
	if err != nil {
		return lookupErr(err, "channel", channelID)
	}
	switch {
	case restricted:
		return errors.Forbidden("channel", channelID)
	case owner != entryID:
		return errors.New(errors.ErrCodeInvalidInput, "channel does not belong to the recipient").
			WithContext("channel_id", channelID)
	case !active:
		return errors.New(errors.ErrCodeInvalidInput, "channel is inactive").WithContext("channel_id", channelID)
	}
	return nil
}

// CancelDelivery closes a delivery. Active attempts end as delivered when
// success is set and as canceled otherwise.
func (s *Store) CancelDelivery(ctx context.Context, deliveryID string, success bool, note string) error {
	now := s.now().UTC()
	status := intel.AttemptCanceled
	if success {
		status = intel.AttemptDelivered
	}

	var operationID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		d, err := loadDelivery(ctx, tx, deliveryID)
		if err != nil {
			return err
		}
		if !d.isOpen {
			return errors.New(errors.ErrCodeInvalidInput, "delivery is already closed").WithContext("delivery_id", deliveryID)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE deliveries SET is_open = FALSE, success = ?, note = CASE WHEN ? = '' THEN note ELSE ? END
			WHERE id = ?
		`, success, note, note, deliveryID); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageWrite, "close delivery")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE delivery_attempts SET is_active = FALSE, status = ?, status_ts = ?
			WHERE delivery_id = ? AND is_active
		`, string(status), now, deliveryID); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageWrite, "end delivery attempts")
		}
		operationID = d.operationID
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(s.newEvent(EventDeliveryClosed, operationID, deliveryID))
	return nil
}

// FinishAttempt ends an active attempt. A delivered attempt closes its
// delivery; any other final status puts the delivery back on the open list.
func (s *Store) FinishAttempt(ctx context.Context, attemptID string, status intel.AttemptStatus, note string) error {
	switch status {
	case intel.AttemptDelivered, intel.AttemptTimeout, intel.AttemptCanceled, intel.AttemptFailed:
	default:
		return errors.New(errors.ErrCodeInvalidInput, "not a final attempt status").WithContext("status", string(status))
	}
	now := s.now().UTC()

	var operationID, deliveryID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var active bool
		err := tx.QueryRowContext(ctx,
			`SELECT delivery_id, is_active FROM delivery_attempts WHERE id = ?`, attemptID,
		).Scan(&deliveryID, &active)
		if err != nil {
			return lookupErr(err, "delivery attempt", attemptID)
		}
		if !active {
			return errors.New(errors.ErrCodeInvalidInput, "attempt already finished").WithContext("attempt_id", attemptID)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT i.operation_id FROM deliveries d JOIN intel i ON i.id = d.intel_id WHERE d.id = ?`, deliveryID,
		).Scan(&operationID); err != nil {
			return lookupErr(err, "delivery", deliveryID)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE delivery_attempts SET is_active = FALSE, status = ?, status_ts = ?,
			       note = CASE WHEN ? = '' THEN note ELSE ? END
			WHERE id = ?
		`, string(status), now, note, note, attemptID); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageWrite, "finish delivery attempt")
		}
		if status == intel.AttemptDelivered {
			if _, err := tx.ExecContext(ctx,
				`UPDATE deliveries SET is_open = FALSE, success = TRUE WHERE id = ?`, deliveryID,
			); err != nil {
				return errors.Wrap(err, errors.ErrCodeStorageWrite, "close delivery")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	eventType := EventAttemptFinished
	if status == intel.AttemptDelivered {
		eventType = EventDeliveryClosed
	}
	s.notify(s.newEvent(eventType, operationID, deliveryID))
	return nil
}
