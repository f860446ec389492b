package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/intel"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// lookupErr maps a single-row query failure onto the directory's error codes.
func lookupErr(err error, kind, id string) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(kind, id)
	}
	return errors.Wrap(err, errors.ErrCodeStorageRead, "load "+kind).WithContext("id", id)
}

// Operation returns the operation with id.
func (s *Store) Operation(ctx context.Context, id string) (intel.Operation, error) {
	var (
		op         intel.Operation
		end        sql.NullTime
		restricted bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, start_ts, end_ts, is_archived, restricted
		FROM operations WHERE id = ?
	`, id).Scan(&op.ID, &op.Title, &op.Description, &op.Start, &end, &op.IsArchived, &restricted)
	if err != nil {
		return intel.Operation{}, lookupErr(err, "operation", id)
	}
	if restricted {
		return intel.Operation{}, errors.Forbidden("operation", id)
	}
	if end.Valid {
		t := end.Time
		op.End = &t
	}
	return op, nil
}

// User returns the user with id.
func (s *Store) User(ctx context.Context, id string) (intel.User, error) {
	var (
		u          intel.User
		restricted bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, first_name, last_name, is_active, restricted
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.IsActive, &restricted)
	if err != nil {
		return intel.User{}, lookupErr(err, "user", id)
	}
	if restricted {
		return intel.User{}, errors.Forbidden("user", id)
	}
	return u, nil
}

// AddressBookEntry returns the address book entry with id.
func (s *Store) AddressBookEntry(ctx context.Context, id string) (intel.AddressBookEntry, error) {
	e, restricted, err := s.entry(ctx, id)
	if err != nil {
		return intel.AddressBookEntry{}, err
	}
	if restricted {
		return intel.AddressBookEntry{}, errors.Forbidden("address book entry", id)
	}
	return e, nil
}

func (s *Store) entry(ctx context.Context, id string) (intel.AddressBookEntry, bool, error) {
	var (
		e          intel.AddressBookEntry
		restricted bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, label, description, operation_id, user_id, is_visible, restricted
		FROM address_book_entries WHERE id = ?
	`, id).Scan(&e.ID, &e.Label, &e.Description, &e.OperationID, &e.UserID, &e.IsVisible, &restricted)
	if err != nil {
		return intel.AddressBookEntry{}, false, lookupErr(err, "address book entry", id)
	}
	return e, restricted, nil
}

// Intel returns the intel with id including its content.
func (s *Store) Intel(ctx context.Context, id string) (intel.Intel, error) {
	var (
		in         intel.Intel
		content    string
		restricted bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, created_by, operation_id, type, content, search_text, importance, is_valid, restricted
		FROM intel WHERE id = ?
	`, id).Scan(&in.ID, &in.CreatedAt, &in.CreatedBy, &in.OperationID, &in.Type, &content,
		&in.SearchText, &in.Importance, &in.IsValid, &restricted)
	if err != nil {
		return intel.Intel{}, lookupErr(err, "intel", id)
	}
	if restricted {
		return intel.Intel{}, errors.Forbidden("intel", id)
	}
	if content != "" {
		in.Content = []byte(content)
	}
	return in, nil
}

// deliveryRow is a delivery together with the operation of its intel.
type deliveryRow struct {
	delivery    intel.Delivery
	operationID string
	isOpen      bool
	restricted  bool
}

func scanDeliveryRow(row rowScanner) (deliveryRow, error) {
	var r deliveryRow
	err := row.Scan(&r.delivery.ID, &r.delivery.IntelID, &r.delivery.RecipientEntryID, &r.delivery.Note,
		&r.isOpen, &r.restricted, &r.operationID)
	return r, err
}

const deliveryRowQuery = `
	SELECT d.id, d.intel_id, d.recipient_entry_id, d.note, d.is_open, d.restricted, i.operation_id
	FROM deliveries d JOIN intel i ON i.id = d.intel_id
	WHERE d.id = ?
`

func loadDelivery(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) (deliveryRow, error) {
	r, err := scanDeliveryRow(q.QueryRowContext(ctx, deliveryRowQuery, id))
	if err != nil {
		return deliveryRow{}, lookupErr(err, "delivery", id)
	}
	if r.restricted {
		return deliveryRow{}, errors.Forbidden("delivery", id)
	}
	return r, nil
}

// DeliveryAttempts lists the attempts of a delivery, oldest first.
func (s *Store) DeliveryAttempts(ctx context.Context, deliveryID string) ([]intel.DeliveryAttempt, error) {
	if _, err := loadDelivery(ctx, s.db, deliveryID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, delivery_id, channel_id, created_at, is_active, status, status_ts, note
		FROM delivery_attempts WHERE delivery_id = ?
		ORDER BY created_at, id
	`, deliveryID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "list delivery attempts")
	}
	defer rows.Close()

	attempts := []intel.DeliveryAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "scan delivery attempt")
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "list delivery attempts")
	}
	return attempts, nil
}

func scanAttempt(row rowScanner) (intel.DeliveryAttempt, error) {
	var (
		a      intel.DeliveryAttempt
		status string
	)
	err := row.Scan(&a.ID, &a.DeliveryID, &a.ChannelID, &a.CreatedAt, &a.IsActive, &status, &a.StatusTS, &a.Note)
	a.Status = intel.AttemptStatus(status)
	return a, err
}

// Channels lists the channels of an address book entry in priority order.
// Restricted channels are left out.
func (s *Store) Channels(ctx context.Context, entryID string) ([]intel.Channel, error) {
	if _, restricted, err := s.entry(ctx, entryID); err != nil {
		return nil, err
	} else if restricted {
		return nil, errors.Forbidden("address book entry", entryID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, label, type, priority, min_importance, is_active, timeout_ms
		FROM channels WHERE entry_id = ? AND NOT restricted
		ORDER BY priority, id
	`, entryID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "list channels")
	}
	defer rows.Close()

	channels := []intel.Channel{}
	for rows.Next() {
		var (
			c         intel.Channel
			kind      string
			timeoutMS int64
		)
		if err := rows.Scan(&c.ID, &c.EntryID, &c.Label, &kind, &c.Priority, &c.MinImportance, &c.IsActive, &timeoutMS); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "scan channel")
		}
		c.Type = intel.ChannelType(kind)
		c.Timeout = time.Duration(timeoutMS) * time.Millisecond
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "list channels")
	}
	return channels, nil
}

// OpenDeliveries returns the open deliveries of an operation: not closed,
// not restricted and without an active attempt. They are ordered by intel
// creation time.
func (s *Store) OpenDeliveries(ctx context.Context, operationID string) ([]intel.OpenIntelDelivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.intel_id, d.recipient_entry_id, d.note,
		       i.created_at, i.created_by, i.operation_id, i.importance, i.is_valid
		FROM deliveries d JOIN intel i ON i.id = d.intel_id
		WHERE i.operation_id = ? AND d.is_open AND NOT d.restricted
		  AND NOT EXISTS (
		      SELECT 1 FROM delivery_attempts a WHERE a.delivery_id = d.id AND a.is_active
		  )
		ORDER BY i.created_at, d.id
	`, operationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "list open deliveries")
	}
	defer rows.Close()

	open := []intel.OpenIntelDelivery{}
	for rows.Next() {
		var o intel.OpenIntelDelivery
		if err := rows.Scan(&o.Delivery.ID, &o.Delivery.IntelID, &o.Delivery.RecipientEntryID, &o.Delivery.Note,
			&o.Intel.CreatedAt, &o.Intel.CreatedBy, &o.Intel.OperationID, &o.Intel.Importance, &o.Intel.IsValid); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "scan open delivery")
		}
		o.Intel.ID = o.Delivery.IntelID
		open = append(open, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "list open deliveries")
	}
	return open, nil
}
