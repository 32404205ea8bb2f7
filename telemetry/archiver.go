package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hupe1980/memsentry/blobstore"
	"github.com/hupe1980/memsentry/codec"
)

// Committer records archived snapshot sequence numbers in an external
// coordination store. *s3.CommitStore satisfies it.
type Committer interface {
	Commit(ctx context.Context, snapshotKey string) (uint64, error)
}

// DefaultArchiveInterval is the default snapshot archive cadence.
const DefaultArchiveInterval = time.Minute

// ArchiverOptions configures an Archiver.
type ArchiverOptions struct {
	// Codec serializes snapshots. Defaults to codec.Default.
	Codec codec.Codec
	// Interval is the archive cadence for Run.
	Interval time.Duration
	// Prefix is prepended to archive keys.
	Prefix string
	// Committer, when set, records each archived key after the Put.
	Committer Committer
	// Logger receives archive failures. Run never stops on a failed
	// archive, the next tick retries.
	Logger *slog.Logger
}

// ArchiverOption customizes ArchiverOptions.
type ArchiverOption func(*ArchiverOptions)

// WithArchiveCodec sets the snapshot codec.
func WithArchiveCodec(c codec.Codec) ArchiverOption {
	return func(o *ArchiverOptions) { o.Codec = c }
}

// WithArchiveInterval sets the archive cadence.
func WithArchiveInterval(d time.Duration) ArchiverOption {
	return func(o *ArchiverOptions) { o.Interval = d }
}

// WithArchivePrefix sets the key prefix for archived snapshots.
func WithArchivePrefix(prefix string) ArchiverOption {
	return func(o *ArchiverOptions) { o.Prefix = prefix }
}

// WithCommitter sets the commit store for archived sequence numbers.
func WithCommitter(c Committer) ArchiverOption {
	return func(o *ArchiverOptions) { o.Committer = c }
}

// WithArchiveLogger sets the logger for archive failures.
func WithArchiveLogger(l *slog.Logger) ArchiverOption {
	return func(o *ArchiverOptions) { o.Logger = l }
}

// Archiver periodically serializes a Snapshot and writes it to a blob
// store. Keys are sequence-numbered so List returns them in archive
// order.
type Archiver struct {
	store  blobstore.BlobStore
	source func() Snapshot
	opts   ArchiverOptions
	seq    atomic.Uint64
}

// NewArchiver creates an archiver that reads snapshots from source and
// writes them to store.
func NewArchiver(store blobstore.BlobStore, source func() Snapshot, optFns ...ArchiverOption) *Archiver {
	opts := ArchiverOptions{
		Codec:    codec.Default,
		Interval: DefaultArchiveInterval,
		Prefix:   "snapshots",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultArchiveInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{store: store, source: source, opts: opts}
}

// ArchiveOnce serializes the current snapshot and writes it to the
// store, committing the key if a committer is configured. Returns the
// archive key.
func (a *Archiver) ArchiveOnce(ctx context.Context) (string, error) {
	snap := a.source()
	if snap.SchemaVersion == 0 {
		snap.SchemaVersion = SchemaVersion
	}
	if snap.TimeUnixNano == 0 {
		snap.TimeUnixNano = time.Now().UnixNano()
	}

	data, err := a.opts.Codec.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	seq := a.seq.Add(1)
	key := fmt.Sprintf("%s/%012d.%s", a.opts.Prefix, seq, a.opts.Codec.Name())
	if err := a.store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("failed to archive snapshot: %w", err)
	}
	if a.opts.Committer != nil {
		if _, err := a.opts.Committer.Commit(ctx, key); err != nil {
			return "", fmt.Errorf("failed to commit snapshot %s: %w", key, err)
		}
	}
	return key, nil
}

// Run archives on the configured interval until ctx is canceled.
// Individual archive failures are logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if key, err := a.ArchiveOnce(ctx); err != nil {
				a.opts.Logger.Warn("snapshot archive failed", "error", err)
			} else {
				a.opts.Logger.Debug("snapshot archived", "key", key)
			}
		}
	}
}

// LoadSnapshot reads an archived snapshot back from the store. The
// codec is inferred from the key suffix.
func LoadSnapshot(ctx context.Context, store blobstore.BlobStore, key string) (Snapshot, error) {
	var snap Snapshot

	blob, err := store.Open(ctx, key)
	if err != nil {
		return snap, err
	}
	defer blob.Close()

	data := make([]byte, blob.Size())
	if _, err := blob.ReadAt(data, 0); err != nil {
		return snap, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	c := codec.Default
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			if named, ok := codec.ByName(key[i+1:]); ok {
				c = named
			}
			break
		}
	}
	if err := c.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return snap, nil
}
