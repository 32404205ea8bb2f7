// Package fingerprint implements keyed allocation fingerprints and
// trailing canaries.
//
// Every tracked allocation carries:
//   - a 24-byte header [16-byte keyed hash | 4-byte generation | 4-byte size]
//     immediately before the user region, and
//   - an 8-byte trailing canary derived from the same hash immediately
//     after it.
//
// The hash is HighwayHash-128 keyed with a per-process 32-byte secret, so a
// forged header must predict a keyed 128-bit digest. The probability of an
// undetected forgery or corruption is bounded by the hash collision bound,
// independently per allocation.
package fingerprint

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/minio/highwayhash"
)

const (
	// HeaderSize is the fingerprint header length prepended to allocations.
	HeaderSize = 24
	// CanarySize is the trailing canary length appended to allocations.
	CanarySize = 8
	// Overhead is the total per-allocation byte overhead.
	Overhead = HeaderSize + CanarySize

	// KeySize is the required secret key length.
	KeySize = 32
)

const canaryTweak = 0xDEAD_BEEF_CAFE_BABE

// Codec computes and verifies fingerprints under one secret key.
// Safe for concurrent use; the key is never mutated after construction.
type Codec struct {
	key [KeySize]byte
}

// NewCodec creates a codec with the given 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("fingerprint: key must be %d bytes, got %d", KeySize, len(key))
	}
	c := &Codec{}
	copy(c.key[:], key)
	return c, nil
}

// NewRandomCodec creates a codec keyed from crypto/rand.
func NewRandomCodec() (*Codec, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("fingerprint: generate key: %w", err)
	}
	return NewCodec(key[:])
}

// Fingerprint binds an allocation's identity (address, size, generation)
// to its header.
type Fingerprint struct {
	// Hash is the keyed 128-bit digest of (addr, size, generation).
	Hash [16]byte
	// Generation distinguishes reuses of the same address slot.
	Generation uint32
	// Size is the user-requested size in bytes.
	Size uint32
}

// Compute builds the fingerprint for the given allocation parameters.
func (c *Codec) Compute(addr uint64, size, generation uint32) Fingerprint {
	var msg [16]byte
	binary.LittleEndian.PutUint64(msg[0:8], addr)
	binary.LittleEndian.PutUint32(msg[8:12], size)
	binary.LittleEndian.PutUint32(msg[12:16], generation)

	return Fingerprint{
		Hash:       highwayhash.Sum128(msg[:], c.key[:]),
		Generation: generation,
		Size:       size,
	}
}

// Verify recomputes the digest for addr and the fingerprint's own size and
// generation, and compares all 128 bits.
func (c *Codec) Verify(fp Fingerprint, addr uint64) bool {
	expected := c.Compute(addr, fp.Size, fp.Generation)
	return fp.Hash == expected.Hash
}

// Canary derives the 8-byte trailing marker from the fingerprint digest.
func (fp Fingerprint) Canary() [CanarySize]byte {
	folded := binary.LittleEndian.Uint64(fp.Hash[0:8]) ^ binary.LittleEndian.Uint64(fp.Hash[8:16])
	v := folded ^ rotl64(folded, 32) ^ canaryTweak

	var out [CanarySize]byte
	binary.LittleEndian.PutUint64(out[:], v)
	return out
}

// EncodeHeader serializes the fingerprint into its 24-byte wire form.
func EncodeHeader(fp Fingerprint) [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:16], fp.Hash[:])
	binary.LittleEndian.PutUint32(buf[16:20], fp.Generation)
	binary.LittleEndian.PutUint32(buf[20:24], fp.Size)
	return buf
}

// DecodeHeader parses a 24-byte header.
func DecodeHeader(buf [HeaderSize]byte) Fingerprint {
	var fp Fingerprint
	copy(fp.Hash[:], buf[0:16])
	fp.Generation = binary.LittleEndian.Uint32(buf[16:20])
	fp.Size = binary.LittleEndian.Uint32(buf[20:24])
	return fp
}

func rotl64(v uint64, n uint) uint64 {
	return v<<n | v>>(64-n)
}
