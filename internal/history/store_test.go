package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestStore_WithDebugOption(t *testing.T) {
	s1, err := New(":memory:", WithDebug(true))
	require.NoError(t, err)
	defer s1.Close()

	s2, err := New(":memory:", WithDebug(false))
	require.NoError(t, err)
	defer s2.Close()
}

func TestStore_NewMigratesAndReopens(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, &Entry{Hostname: "gpu01", Action: "power_on", Success: true, Message: "ok"}))
	require.NoError(t, store.Close())

	reopened, err := New(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.List(ctx, "gpu01", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "power_on", entries[0].Action)
}

func TestStore_RecordAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{Hostname: "gpu01", Action: "power_on", Success: true, Message: "Power on command sent successfully", CreatedAt: base},
		{Hostname: "gpu02", Action: "docker_stop", Success: false, Message: "Command failed: boom", CreatedAt: base.Add(time.Minute)},
		{Hostname: "gpu01", Action: "ssh_terminal_start", Success: true, Message: "SSH terminal started successfully", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, store.Add(ctx, e))
		assert.NotEmpty(t, e.ID)
	}

	all, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ssh_terminal_start", all[0].Action, "newest first")
	assert.Equal(t, "power_on", all[2].Action)

	gpu01, err := store.List(ctx, "gpu01", 0)
	require.NoError(t, err)
	require.Len(t, gpu01, 2)
	for _, e := range gpu01 {
		assert.Equal(t, "gpu01", e.Hostname)
	}

	limited, err := store.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "ssh_terminal_start", limited[0].Action)

	none, err := store.List(ctx, "nope", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_Record(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.Record(ctx, "gpu01", "power_on", false, "Command timed out")

	entries, err := store.List(ctx, "gpu01", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "Command timed out", entries[0].Message)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestStore_RecordTerminal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.RecordTerminal(ctx, &TerminalRecord{
		SessionID:   "abc",
		Hostname:    "gpu01",
		Kind:        "nvtop",
		FinalState:  "closed",
		CloseReason: "idle_timeout",
		CreatedAt:   created,
		ClosedAt:    created.Add(15 * time.Minute),
	})

	records, err := store.ListTerminals(ctx, "gpu01", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "idle_timeout", records[0].CloseReason)
	assert.Equal(t, "nvtop", records[0].Kind)
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.Record(context.Background(), "h", "a", true, "m")
	r.RecordTerminal(context.Background(), &TerminalRecord{})
}
