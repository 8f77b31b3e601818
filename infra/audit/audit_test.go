package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/parlock/core/audit"
	"github.com/kilianp07/parlock/core/model"
)

func sampleRecords(base time.Time) []audit.Record {
	return []audit.Record{
		{TransactionID: "t1", Timestamp: base, Kind: "deposit", Outcome: "completed", State: "REPORTED", UnitID: "u1",
			Dimensions: model.Dimensions{Length: 100, Width: 80, Height: 40}},
		{TransactionID: "t2", Timestamp: base.Add(time.Minute), Kind: "withdrawal", Outcome: "completed", State: "REPORTED", UnitID: "u2"},
		{TransactionID: "t3", Timestamp: base.Add(2 * time.Minute), Kind: "deposit", Outcome: "failed", State: "VERIFIED", Error: "no fit"},
	}
}

func exerciseStore(t *testing.T, s audit.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for _, r := range sampleRecords(base) {
		require.NoError(t, s.Append(ctx, r))
	}

	all, err := s.Query(ctx, audit.Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t1", all[0].TransactionID)
	assert.Equal(t, 100.0, all[0].Dimensions.Length)

	byUnit, err := s.Query(ctx, audit.Query{UnitID: "u2"})
	require.NoError(t, err)
	require.Len(t, byUnit, 1)
	assert.Equal(t, "t2", byUnit[0].TransactionID)

	window, err := s.Query(ctx, audit.Query{Start: base.Add(30 * time.Second), End: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "t2", window[0].TransactionID)
}

func TestJSONLStore(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "nested", "audit.jsonl"), 1, 2, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestJSONLStoreRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := NewJSONLStore(path, 1, 3, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	rec := audit.Record{Timestamp: time.Now(), Error: strings.Repeat("a", 64*1024)}
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Append(context.Background(), rec))
	}
	backups, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "audit-*.jsonl"))
	assert.NotEmpty(t, backups, "expected rotated files")

	out, err := s.Query(context.Background(), audit.Query{})
	require.NoError(t, err)
	assert.Len(t, out, 20)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestConfigNew(t *testing.T) {
	c := Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "a.db")}
	c.SetDefaults()
	require.NoError(t, c.Validate())
	s, err := New(c)
	require.NoError(t, err)
	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	var d Config
	d.SetDefaults()
	assert.Equal(t, "jsonl", d.Backend)
	assert.Equal(t, "data/audit.jsonl", d.Path)

	assert.Error(t, Config{Backend: "csv"}.Validate())
}
