package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/memsentry/codec"
)

// Compression selects the journal segment compression scheme.
type Compression uint8

const (
	// CompressionZstd compresses segments with zstd. Default.
	CompressionZstd Compression = iota
	// CompressionLZ4 compresses segments with lz4.
	CompressionLZ4
	// CompressionNone writes segments uncompressed.
	CompressionNone
)

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionNone:
		return "none"
	}
	return "unknown"
}

var (
	journalMagic          = [4]byte{'M', 'S', 'E', 'V'}
	journalHeaderVersion  = uint16(1)
	journalHeaderFixedLen = 16 // excludes variable codec name bytes

	crcTable = crc32.MakeTable(crc32.Castagnoli)
)

const (
	// DefaultMaxSegmentBytes is the uncompressed payload size at which
	// a segment rotates.
	DefaultMaxSegmentBytes = 8 << 20

	recordHeaderLen = 8 // uint32 length + uint32 crc32c
)

// JournalOptions configures a Journal.
type JournalOptions struct {
	// Codec serializes events. Defaults to codec.Default.
	Codec codec.Codec
	// Compression selects the segment compression scheme.
	Compression Compression
	// MaxSegmentBytes is the uncompressed byte count after which the
	// current segment rotates. Defaults to DefaultMaxSegmentBytes.
	MaxSegmentBytes int64
}

// JournalOption customizes JournalOptions.
type JournalOption func(*JournalOptions)

// WithJournalCodec sets the event codec.
func WithJournalCodec(c codec.Codec) JournalOption {
	return func(o *JournalOptions) { o.Codec = c }
}

// WithCompression sets the segment compression scheme.
func WithCompression(c Compression) JournalOption {
	return func(o *JournalOptions) { o.Compression = c }
}

// WithMaxSegmentBytes sets the rotation threshold.
func WithMaxSegmentBytes(n int64) JournalOption {
	return func(o *JournalOptions) { o.MaxSegmentBytes = n }
}

// Journal is an append-only, crash-tolerant evidence log. Events are
// framed as length-prefixed, CRC32C-checksummed records inside
// compressed segment files. A torn tail record is dropped on replay,
// never propagated as an error.
type Journal struct {
	dir  string
	opts JournalOptions

	mu       sync.Mutex
	seq      uint64
	segIndex int
	file     *os.File
	w        io.Writer
	closer   io.Closer // compressor, nil when uncompressed
	written  int64     // uncompressed payload bytes in current segment
	closed   bool
}

// OpenJournal opens or creates an evidence journal in dir. Appends go
// to a fresh segment numbered after any existing ones.
func OpenJournal(dir string, optFns ...JournalOption) (*Journal, error) {
	opts := JournalOptions{
		Codec:           codec.Default,
		Compression:     CompressionZstd,
		MaxSegmentBytes: DefaultMaxSegmentBytes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = DefaultMaxSegmentBytes
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}

	existing, err := segmentFiles(dir)
	if err != nil {
		return nil, err
	}
	next := 1
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		if idx, ok := parseSegmentIndex(filepath.Base(last)); ok {
			next = idx + 1
		}
	}

	j := &Journal{dir: dir, opts: opts, segIndex: next - 1}
	if err := j.openSegmentLocked(); err != nil {
		return nil, err
	}
	return j, nil
}

// Append serializes the event and writes it to the current segment,
// rotating first if the segment is full. The event's Seq is assigned
// by the journal.
func (j *Journal) Append(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return errors.New("journal is closed")
	}

	j.seq++
	ev.Seq = j.seq
	if ev.TimeUnixNano == 0 {
		ev.TimeUnixNano = time.Now().UnixNano()
	}

	payload, err := j.opts.Codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if j.written+int64(recordHeaderLen+len(payload)) > j.opts.MaxSegmentBytes && j.written > 0 {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}

	var hdr [recordHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.Checksum(payload, crcTable))
	if _, err := j.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write record header: %w", err)
	}
	if _, err := j.w.Write(payload); err != nil {
		return fmt.Errorf("failed to write record payload: %w", err)
	}
	j.written += int64(recordHeaderLen + len(payload))
	return nil
}

// Rotate finalizes the current segment and starts a new one. The
// finalized segment is durable on return.
func (j *Journal) Rotate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("journal is closed")
	}
	return j.rotateLocked()
}

// Close finalizes and syncs the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.finishSegmentLocked()
}

func (j *Journal) rotateLocked() error {
	if err := j.finishSegmentLocked(); err != nil {
		return err
	}
	return j.openSegmentLocked()
}

func (j *Journal) finishSegmentLocked() error {
	if j.closer != nil {
		if err := j.closer.Close(); err != nil {
			return fmt.Errorf("failed to finalize segment compressor: %w", err)
		}
		j.closer = nil
	}
	if j.file != nil {
		if err := fdatasync(j.file); err != nil {
			return fmt.Errorf("failed to sync segment: %w", err)
		}
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		j.file = nil
	}
	j.w = nil
	j.written = 0
	return nil
}

func (j *Journal) openSegmentLocked() error {
	j.segIndex++
	name := filepath.Join(j.dir, segmentName(j.segIndex))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	if err := writeSegmentHeader(f, j.opts.Compression, j.opts.Codec.Name()); err != nil {
		f.Close()
		return err
	}

	switch j.opts.Compression {
	case CompressionZstd:
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		j.w, j.closer = zw, zw
	case CompressionLZ4:
		lw := lz4.NewWriter(f)
		j.w, j.closer = lw, lw
	default:
		j.w, j.closer = f, nil
	}
	j.file = f
	return nil
}

func segmentName(idx int) string {
	return fmt.Sprintf("evidence-%06d.seg", idx)
}

func parseSegmentIndex(name string) (int, bool) {
	var idx int
	if _, err := fmt.Sscanf(name, "evidence-%06d.seg", &idx); err != nil {
		return 0, false
	}
	return idx, true
}

func segmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := parseSegmentIndex(e.Name()); ok {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

func writeSegmentHeader(w io.Writer, c Compression, codecName string) error {
	buf := make([]byte, 0, journalHeaderFixedLen+len(codecName))
	buf = append(buf, journalMagic[:]...)
	var fixed [12]byte
	binary.LittleEndian.PutUint16(fixed[0:2], journalHeaderVersion)
	fixed[2] = byte(c)
	fixed[3] = byte(len(codecName))
	// fixed[4:12] reserved
	buf = append(buf, fixed[:]...)
	buf = append(buf, codecName...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write segment header: %w", err)
	}
	return nil
}

func readSegmentHeader(r io.Reader) (Compression, string, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return 0, "", fmt.Errorf("failed to read segment header magic: %w", err)
	}
	if magic != journalMagic {
		return 0, "", errors.New("unsupported segment format: invalid header magic")
	}
	fixed := make([]byte, journalHeaderFixedLen-4)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return 0, "", fmt.Errorf("failed to read segment header: %w", err)
	}
	version := binary.LittleEndian.Uint16(fixed[0:2])
	if version != journalHeaderVersion {
		return 0, "", fmt.Errorf("unsupported segment header version: %d", version)
	}
	c := Compression(fixed[2])
	nameLen := int(fixed[3])
	// fixed[4:12] reserved

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return 0, "", fmt.Errorf("failed to read segment codec name: %w", err)
	}
	return c, string(name), nil
}

// Replay reads every segment in dir in order and invokes fn for each
// decoded event. A truncated or checksum-failing tail record ends the
// segment silently; corruption in the middle of a segment ends that
// segment the same way, later segments are still replayed.
func Replay(dir string, fn func(Event) error) error {
	names, err := segmentFiles(dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := replaySegment(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func replaySegment(name string, fn func(Event) error) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open segment: %w", err)
	}
	defer f.Close()

	compression, codecName, err := readSegmentHeader(f)
	if err != nil {
		return fmt.Errorf("segment %s: %w", filepath.Base(name), err)
	}
	c, ok := codec.ByName(codecName)
	if !ok {
		return fmt.Errorf("segment %s: unknown codec %q", filepath.Base(name), codecName)
	}

	var r io.Reader
	switch compression {
	case CompressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	case CompressionLZ4:
		r = lz4.NewReader(f)
	default:
		r = f
	}

	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			// Clean end of segment or torn record header.
			return nil
		}
		length := binary.LittleEndian.Uint32(hdr[0:4])
		sum := binary.LittleEndian.Uint32(hdr[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			// Torn record payload.
			return nil
		}
		if crc32.Checksum(payload, crcTable) != sum {
			return nil
		}

		var ev Event
		if err := c.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
