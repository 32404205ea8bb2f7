package telemetry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memsentry/blobstore"
	"github.com/hupe1980/memsentry/heal"
)

type fakeCommitter struct {
	keys []string
}

func (f *fakeCommitter) Commit(_ context.Context, key string) (uint64, error) {
	f.keys = append(f.keys, key)
	return uint64(len(f.keys)), nil
}

func TestArchiverArchiveOnce(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	snap := Snapshot{
		Mode:      "hardened",
		Decisions: 42,
		Outcomes:  OutcomeCounts{Valid: 40, BoundsViolations: 2},
		Heals:     heal.Stats{TotalHeals: 2, SizeClamps: 2},
	}
	a := NewArchiver(store, func() Snapshot { return snap })

	key, err := a.ArchiveOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/000000000001.json", key)

	got, err := LoadSnapshot(ctx, store, key)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.Equal(t, "hardened", got.Mode)
	assert.Equal(t, uint64(42), got.Decisions)
	assert.Equal(t, uint64(2), got.Outcomes.BoundsViolations)
	assert.Equal(t, uint64(2), got.Heals.SizeClamps)
	assert.NotZero(t, got.TimeUnixNano)
}

func TestArchiverSequencesKeys(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	a := NewArchiver(store, func() Snapshot { return Snapshot{} })

	for i := 0; i < 3; i++ {
		_, err := a.ArchiveOnce(ctx)
		require.NoError(t, err)
	}

	keys, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"snapshots/000000000001.json",
		"snapshots/000000000002.json",
		"snapshots/000000000003.json",
	}, keys)
}

func TestArchiverCommitsAfterPut(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	committer := &fakeCommitter{}

	a := NewArchiver(store, func() Snapshot { return Snapshot{} }, WithCommitter(committer))

	key, err := a.ArchiveOnce(ctx)
	require.NoError(t, err)
	require.Len(t, committer.keys, 1)
	assert.Equal(t, key, committer.keys[0])
}

func TestOutcomeCountsRecord(t *testing.T) {
	var c OutcomeCounts
	c.Record(heal.Valid)
	c.Record(heal.Valid)
	c.Record(heal.NullPointer)
	c.Record(heal.BoundsViolation)
	c.Record(heal.CanaryMismatch)
	c.Record(heal.Ambiguous)

	assert.Equal(t, uint64(2), c.Valid)
	assert.Equal(t, uint64(1), c.NullPointers)
	assert.Equal(t, uint64(1), c.BoundsViolations)
	assert.Equal(t, uint64(1), c.CanaryMismatches)
	assert.Equal(t, uint64(1), c.Ambiguous)
	assert.Zero(t, c.ForeignPointers)
}

func TestSnapshotSchemaFieldsStable(t *testing.T) {
	data, err := json.Marshal(Snapshot{SchemaVersion: SchemaVersion})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	// The schema is additive-only: these names must never disappear.
	for _, name := range []string{
		"schema_version", "time_unix_nano", "mode",
		"decisions", "budget_exhaustions", "consistency_faults",
		"outcomes", "heals",
		"risk_upper_ppm", "full_trigger_ppm", "repair_trigger_ppm",
		"allocations", "frees",
		"quarantine_depth", "quarantine_bytes", "quarantine_bypass",
		"evictions", "epoch",
		"cache_hits", "cache_misses", "bloom_inserts", "bloom_bits",
	} {
		assert.Contains(t, fields, name)
	}
}

func TestPrometheusCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()

	c, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	c.RecordValidation("valid", 50)
	c.RecordDecision("fast", "allow")
	c.RecordHeal("clamp_size")
	c.RecordAllocation(128)
	c.RecordFree("ok")
	c.RecordEvidence("budget_exhausted")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// Re-registering the same metric names must fail.
	_, err = NewPrometheusCollector(reg)
	require.Error(t, err)
}
