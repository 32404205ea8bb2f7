package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendReplay(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir)
	require.NoError(t, err)

	events := []Event{
		{Kind: EventBudgetExhausted, Mode: "hardened", Family: "pointer_validation", RiskPPM: 50000},
		{Kind: EventConsistencyFault, Mode: "hardened", Detail: "shard 12 witness mismatch"},
		{Kind: EventInternalFault, Mode: "strict"},
	}
	for _, ev := range events {
		require.NoError(t, j.Append(ev))
	}
	require.NoError(t, j.Close())

	var got []Event
	require.NoError(t, Replay(dir, func(ev Event) error {
		got = append(got, ev)
		return nil
	}))

	require.Len(t, got, len(events))
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, events[i].Kind, ev.Kind)
		assert.Equal(t, events[i].Mode, ev.Mode)
		assert.NotZero(t, ev.TimeUnixNano)
	}
}

func TestJournalRotationBySize(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir, WithMaxSegmentBytes(256))
	require.NoError(t, err)

	for i := 0; i < 32; i++ {
		require.NoError(t, j.Append(Event{Kind: EventConsistencyFault, Detail: "witness mismatch on metadata shard"}))
	}
	require.NoError(t, j.Close())

	segs, err := segmentFiles(dir)
	require.NoError(t, err)
	assert.Greater(t, len(segs), 1, "expected rotation to produce multiple segments")

	var count int
	require.NoError(t, Replay(dir, func(ev Event) error {
		count++
		assert.Equal(t, uint64(count), ev.Seq)
		return nil
	}))
	assert.Equal(t, 32, count)
}

func TestJournalCompressionSchemes(t *testing.T) {
	for _, c := range []Compression{CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(c.String(), func(t *testing.T) {
			dir := t.TempDir()

			j, err := OpenJournal(dir, WithCompression(c))
			require.NoError(t, err)
			require.NoError(t, j.Append(Event{Kind: EventSnapshotArchived, Detail: "snapshots/000000000001.json"}))
			require.NoError(t, j.Close())

			var got []Event
			require.NoError(t, Replay(dir, func(ev Event) error {
				got = append(got, ev)
				return nil
			}))
			require.Len(t, got, 1)
			assert.Equal(t, EventSnapshotArchived, got[0].Kind)
		})
	}
}

func TestJournalTornTailTolerated(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir, WithCompression(CompressionNone))
	require.NoError(t, err)
	require.NoError(t, j.Append(Event{Kind: EventBudgetExhausted}))
	require.NoError(t, j.Append(Event{Kind: EventInternalFault}))
	require.NoError(t, j.Close())

	segs, err := segmentFiles(dir)
	require.NoError(t, err)
	require.Len(t, segs, 1)

	// Chop bytes off the tail to simulate a crash mid-write.
	data, err := os.ReadFile(segs[0])
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(segs[0], data[:len(data)-5], 0o644))

	var got []Event
	require.NoError(t, Replay(dir, func(ev Event) error {
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 1, "torn tail record should be dropped")
	assert.Equal(t, EventBudgetExhausted, got[0].Kind)
}

func TestJournalChecksumFailureStopsSegment(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir, WithCompression(CompressionNone))
	require.NoError(t, err)
	require.NoError(t, j.Append(Event{Kind: EventBudgetExhausted}))
	require.NoError(t, j.Append(Event{Kind: EventInternalFault}))
	require.NoError(t, j.Close())

	segs, err := segmentFiles(dir)
	require.NoError(t, err)

	// Flip a byte in the last record's payload.
	data, err := os.ReadFile(segs[0])
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(segs[0], data, 0o644))

	var got []Event
	require.NoError(t, Replay(dir, func(ev Event) error {
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 1)
}

func TestJournalResumesAfterExistingSegments(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(Event{Kind: EventBudgetExhausted}))
	require.NoError(t, j.Close())

	j2, err := OpenJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j2.Append(Event{Kind: EventInternalFault}))
	require.NoError(t, j2.Close())

	segs, err := segmentFiles(dir)
	require.NoError(t, err)
	assert.Len(t, segs, 2)
	assert.Equal(t, "evidence-000001.seg", filepath.Base(segs[0]))
	assert.Equal(t, "evidence-000002.seg", filepath.Base(segs[1]))

	var kinds []EventKind
	require.NoError(t, Replay(dir, func(ev Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	}))
	assert.Equal(t, []EventKind{EventBudgetExhausted, EventInternalFault}, kinds)
}

func TestJournalAppendAfterClose(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.Error(t, j.Append(Event{Kind: EventInternalFault}))
	require.NoError(t, j.Close(), "double close is harmless")
}
