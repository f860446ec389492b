package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/intel"
)

var fixedNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newSeededStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "directory.db"), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fixture, err := LoadFixture(filepath.Join("testdata", "small.yaml"))
	if err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}
	if err := store.Seed(context.Background(), fixture); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	return store
}

func openIDs(ds []intel.OpenIntelDelivery) []string {
	ids := make([]string, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.ID())
	}
	return ids
}

func TestLookups(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	op, err := store.Operation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Operation", op.Title)
	assert.Nil(t, op.End)
	assert.True(t, op.Start.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	user, err := store.User(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.DisplayName())
	assert.True(t, user.IsActive)

	entry, err := store.AddressBookEntry(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", entry.Label)
	assert.True(t, entry.IsVisible)

	in, err := store.Intel(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, 500, in.Importance)
	var content map[string]string
	require.NoError(t, json.Unmarshal(in.Content, &content))
	assert.Equal(t, "first", content["text"])
}

func TestLookupOutcomes(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		code errors.ErrorCode
	}{
		{"restricted operation", func() error { _, err := store.Operation(ctx, "op-secret"); return err }, errors.ErrCodeForbidden},
		{"missing operation", func() error { _, err := store.Operation(ctx, "op-9"); return err }, errors.ErrCodeNotFound},
		{"restricted user", func() error { _, err := store.User(ctx, "u-2"); return err }, errors.ErrCodeForbidden},
		{"restricted entry", func() error { _, err := store.AddressBookEntry(ctx, "e-2"); return err }, errors.ErrCodeForbidden},
		{"restricted intel", func() error { _, err := store.Intel(ctx, "i-3"); return err }, errors.ErrCodeForbidden},
		{"missing intel", func() error { _, err := store.Intel(ctx, "i-9"); return err }, errors.ErrCodeNotFound},
		{"restricted delivery attempts", func() error { _, err := store.DeliveryAttempts(ctx, "d-hidden"); return err }, errors.ErrCodeForbidden},
		{"channels of restricted entry", func() error { _, err := store.Channels(ctx, "e-2"); return err }, errors.ErrCodeForbidden},
		{"channels of missing entry", func() error { _, err := store.Channels(ctx, "e-9"); return err }, errors.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.True(t, errors.IsUnavailable(err))
		})
	}
}

func TestChannelsSkipRestrictedAndSortByPriority(t *testing.T) {
	store := newSeededStore(t)

	channels, err := store.Channels(context.Background(), "e-1")
	require.NoError(t, err)

	var ids []string
	for _, c := range channels {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"ch-off", "ch-1", "ch-2"}, ids)
	assert.Equal(t, 30*time.Second, channels[1].Timeout)
	assert.Equal(t, intel.ChannelRadio, channels[1].Type)
	assert.False(t, channels[0].IsActive)
}

func TestOpenDeliveries(t *testing.T) {
	store := newSeededStore(t)

	open, err := store.OpenDeliveries(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d-2", "d-1", "d-3"}, openIDs(open))

	first := open[0]
	assert.Equal(t, "i-2", first.Intel.ID)
	assert.Equal(t, "u-2", first.Intel.CreatedBy)
	assert.Equal(t, "op-1", first.OperationID())
	assert.Equal(t, 900, first.Intel.Importance)

	none, err := store.OpenDeliveries(context.Background(), "op-9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScheduleAttemptLeavesOpenList(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var events []Event
	store.AddObserver(ObserverFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}))

	attempt, err := store.ScheduleAttempt(ctx, "d-1", "ch-1")
	require.NoError(t, err)
	assert.NotEmpty(t, attempt.ID)
	assert.Equal(t, intel.AttemptAwaitingAck, attempt.Status)
	assert.True(t, attempt.CreatedAt.Equal(fixedNow))

	open, err := store.OpenDeliveries(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d-2", "d-3"}, openIDs(open))

	attempts, err := store.DeliveryAttempts(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, attempt.ID, attempts[0].ID)
	assert.True(t, attempts[0].IsActive)

	mu.Lock()
	require.Len(t, events, 1)
	assert.Equal(t, EventAttemptScheduled, events[0].Type)
	assert.Equal(t, "op-1", events[0].OperationID)
	mu.Unlock()

	_, err = store.ScheduleAttempt(ctx, "d-1", "ch-2")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput), "second active attempt")
}

func TestScheduleAttemptRejectsBadChannels(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	_, err := store.ScheduleAttempt(ctx, "d-1", "ch-hidden")
	assert.True(t, errors.IsCode(err, errors.ErrCodeForbidden))

	_, err = store.ScheduleAttempt(ctx, "d-1", "ch-off")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = store.ScheduleAttempt(ctx, "d-1", "ch-9")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = store.ScheduleAttempt(ctx, "d-closed", "ch-1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestFinishAttempt(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	attempt, err := store.ScheduleAttempt(ctx, "d-1", "ch-1")
	require.NoError(t, err)

	require.NoError(t, store.FinishAttempt(ctx, attempt.ID, intel.AttemptTimeout, "no answer"))
	open, err := store.OpenDeliveries(ctx, "op-1")
	require.NoError(t, err)
	assert.Contains(t, openIDs(open), "d-1", "timed out delivery is open again")

	attempts, err := store.DeliveryAttempts(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, intel.AttemptTimeout, attempts[0].Status)
	assert.Equal(t, "no answer", attempts[0].Note)
	assert.False(t, attempts[0].IsActive)

	err = store.FinishAttempt(ctx, attempt.ID, intel.AttemptDelivered, "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	second, err := store.ScheduleAttempt(ctx, "d-1", "ch-2")
	require.NoError(t, err)
	require.NoError(t, store.FinishAttempt(ctx, second.ID, intel.AttemptDelivered, ""))
	open, err = store.OpenDeliveries(ctx, "op-1")
	require.NoError(t, err)
	assert.NotContains(t, openIDs(open), "d-1")

	err = store.FinishAttempt(ctx, second.ID, intel.AttemptOpen, "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestCancelDelivery(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	_, err := store.ScheduleAttempt(ctx, "d-2", "ch-1")
	require.NoError(t, err)
	require.NoError(t, store.CancelDelivery(ctx, "d-2", false, "recipient unreachable"))

	attempts, err := store.DeliveryAttempts(ctx, "d-2")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, intel.AttemptCanceled, attempts[0].Status)
	assert.False(t, attempts[0].IsActive)

	open, err := store.OpenDeliveries(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d-1", "d-3"}, openIDs(open))

	err = store.CancelDelivery(ctx, "d-2", true, "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	err = store.CancelDelivery(ctx, "d-hidden", true, "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeForbidden))
}
