package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/inteldesk/pkg/errors"
)

// DemoFixture is a small operation with a handful of open deliveries, some of
// them pointing at restricted entities.
//
//go:embed fixtures/demo.yaml
var DemoFixture []byte

// Fixture is a YAML document of directory rows.
type Fixture struct {
	Operations []FixtureOperation `yaml:"operations"`
	Users      []FixtureUser      `yaml:"users"`
	Entries    []FixtureEntry     `yaml:"entries"`
	Channels   []FixtureChannel   `yaml:"channels"`
	Intel      []FixtureIntel     `yaml:"intel"`
	Deliveries []FixtureDelivery  `yaml:"deliveries"`
}

type FixtureOperation struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Start       time.Time  `yaml:"start"`
	End         *time.Time `yaml:"end"`
	Archived    bool       `yaml:"archived"`
	Restricted  bool       `yaml:"restricted"`
}

type FixtureUser struct {
	ID         string `yaml:"id"`
	Username   string `yaml:"username"`
	FirstName  string `yaml:"first_name"`
	LastName   string `yaml:"last_name"`
	Inactive   bool   `yaml:"inactive"`
	Restricted bool   `yaml:"restricted"`
}

type FixtureEntry struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
	OperationID string `yaml:"operation_id"`
	UserID      string `yaml:"user_id"`
	Hidden      bool   `yaml:"hidden"`
	Restricted  bool   `yaml:"restricted"`
}

type FixtureChannel struct {
	ID            string        `yaml:"id"`
	EntryID       string        `yaml:"entry_id"`
	Label         string        `yaml:"label"`
	Type          string        `yaml:"type"`
	Priority      int           `yaml:"priority"`
	MinImportance int           `yaml:"min_importance"`
	Inactive      bool          `yaml:"inactive"`
	Timeout       time.Duration `yaml:"timeout"`
	Restricted    bool          `yaml:"restricted"`
}

type FixtureIntel struct {
	ID          string         `yaml:"id"`
	CreatedAt   time.Time      `yaml:"created_at"`
	CreatedBy   string         `yaml:"created_by"`
	OperationID string         `yaml:"operation_id"`
	Type        string         `yaml:"type"`
	Content     map[string]any `yaml:"content"`
	SearchText  string         `yaml:"search_text"`
	Importance  int            `yaml:"importance"`
	Invalid     bool           `yaml:"invalid"`
	Restricted  bool           `yaml:"restricted"`
}

type FixtureDelivery struct {
	ID               string `yaml:"id"`
	IntelID          string `yaml:"intel_id"`
	RecipientEntryID string `yaml:"recipient_entry_id"`
	Note             string `yaml:"note"`
	Closed           bool   `yaml:"closed"`
	Restricted       bool   `yaml:"restricted"`
}

// ParseFixture decodes a YAML fixture and checks that every row has an id.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDecode, "parse fixture")
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFixture reads and parses a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "read fixture").WithContext("path", path)
	}
	return ParseFixture(data)
}

func (f *Fixture) validate() error {
	missing := func(kind string, i int) error {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("fixture %s #%d has no id", kind, i+1))
	}
	for i, r := range f.Operations {
		if r.ID == "" {
			return missing("operation", i)
		}
	}
	for i, r := range f.Users {
		if r.ID == "" {
			return missing("user", i)
		}
	}
	for i, r := range f.Entries {
		if r.ID == "" {
			return missing("entry", i)
		}
	}
	for i, r := range f.Channels {
		if r.ID == "" || r.EntryID == "" {
			return missing("channel", i)
		}
	}
	for i, r := range f.Intel {
		if r.ID == "" || r.OperationID == "" {
			return missing("intel", i)
		}
	}
	for i, r := range f.Deliveries {
		if r.ID == "" || r.IntelID == "" {
			return missing("delivery", i)
		}
	}
	return nil
}

// Seed upserts every row of f in one transaction.
func (s *Store) Seed(ctx context.Context, f *Fixture) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, o := range f.Operations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO operations (id, title, description, start_ts, end_ts, is_archived, restricted)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET title = excluded.title, description = excluded.description, start_ts = excluded.start_ts, end_ts = excluded.end_ts, is_archived = excluded.is_archived, restricted = excluded.restricted
			`, o.ID, o.Title, o.Description, o.Start.UTC(), nullTime(o.End), o.Archived, o.Restricted); err != nil {
				return seedErr(err, "operation", o.ID)
			}
		}
		for _, u := range f.Users {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO users (id, username, first_name, last_name, is_active, restricted)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET username = excluded.username, first_name = excluded.first_name, last_name = excluded.last_name, is_active = excluded.is_active, restricted = excluded.restricted
			`, u.ID, u.Username, u.FirstName, u.LastName, !u.Inactive, u.Restricted); err != nil {
				return seedErr(err, "user", u.ID)
			}
		}
		for _, e := range f.Entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO address_book_entries (id, label, description, operation_id, user_id, is_visible, restricted)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET label = excluded.label, description = excluded.description, operation_id = excluded.operation_id, user_id = excluded.user_id, is_visible = excluded.is_visible, restricted = excluded.restricted
			`, e.ID, e.Label, e.Description, e.OperationID, e.UserID, !e.Hidden, e.Restricted); err != nil {
				return seedErr(err, "entry", e.ID)
			}
		}
		for _, c := range f.Channels {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO channels (id, entry_id, label, type, priority, min_importance, is_active, timeout_ms, restricted)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET entry_id = excluded.entry_id, label = excluded.label, type = excluded.type, priority = excluded.priority, min_importance = excluded.min_importance, is_active = excluded.is_active, timeout_ms = excluded.timeout_ms, restricted = excluded.restricted
			`, c.ID, c.EntryID, c.Label, c.Type, c.Priority, c.MinImportance, !c.Inactive, c.Timeout.Milliseconds(), c.Restricted); err != nil {
				return seedErr(err, "channel", c.ID)
			}
		}
		for _, in := range f.Intel {
			content, err := encodeContent(in.Content)
			if err != nil {
				return seedErr(err, "intel", in.ID)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO intel (id, created_at, created_by, operation_id, type, content, search_text, importance, is_valid, restricted)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at, created_by = excluded.created_by, operation_id = excluded.operation_id, type = excluded.type, content = excluded.content, search_text = excluded.search_text, importance = excluded.importance, is_valid = excluded.is_valid, restricted = excluded.restricted
			`, in.ID, in.CreatedAt.UTC(), in.CreatedBy, in.OperationID, in.Type, content, in.SearchText,
				in.Importance, !in.Invalid, in.Restricted); err != nil {
				return seedErr(err, "intel", in.ID)
			}
		}
		for _, d := range f.Deliveries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO deliveries (id, intel_id, recipient_entry_id, note, is_open, success, restricted)
				VALUES (?, ?, ?, ?, ?, FALSE, ?)
				ON CONFLICT(id) DO UPDATE SET intel_id = excluded.intel_id, recipient_entry_id = excluded.recipient_entry_id, note = excluded.note, is_open = excluded.is_open, success = excluded.success, restricted = excluded.restricted
			`, d.ID, d.IntelID, d.RecipientEntryID, d.Note, !d.Closed, d.Restricted); err != nil {
				return seedErr(err, "delivery", d.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(s.newEvent(EventFixtureLoaded, "", ""))
	return nil
}

func seedErr(err error, kind, id string) error {
	return errors.Wrap(err, errors.ErrCodeStorageWrite, "seed "+kind).WithContext("id", id)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func encodeContent(content map[string]any) (string, error) {
	if len(content) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
