// Package bitmap provides the succinct rank/select bitvector the engine
// uses for tombstone bitmaps (isDel), purge bitmaps (isPurged) and
// duplicable-index key-run markers (recBits). It wraps
// github.com/RoaringBitmap/roaring rather than hand-rolling a bitvector,
// following fenghaojiang-erigon-lib/state's use of roaring bitmaps for
// per-key occurrence sets.
package bitmap

import (
	"bytes"
	"io"

	"github.com/RoaringBitmap/roaring"
)

// Bitmap is a mutable bit-indexed set backed by a roaring bitmap. The zero
// value is an empty, usable bitmap.
type Bitmap struct {
	rb *roaring.Bitmap
}

// New returns an empty Bitmap.
func New() *Bitmap {
	return &Bitmap{rb: roaring.New()}
}

// Set sets bit i to true.
func (b *Bitmap) Set(i uint32) {
	b.ensure()
	b.rb.Add(i)
}

// Clear sets bit i to false.
func (b *Bitmap) Clear(i uint32) {
	b.ensure()
	b.rb.Remove(i)
}

// Test reports whether bit i is set.
func (b *Bitmap) Test(i uint32) bool {
	if b.rb == nil {
		return false
	}
	return b.rb.Contains(i)
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint64 {
	if b.rb == nil {
		return 0
	}
	return b.rb.GetCardinality()
}

// Rank0 returns the number of unset bits in [0, i), matching the
// logicalId -> physicalId derivation of spec §3 invariant 3:
// physicalId = rank0(isPurged, logicalId).
func (b *Bitmap) Rank0(i uint32) uint64 {
	if i == 0 {
		return 0
	}
	return uint64(i) - b.Rank1(i)
}

// Rank1 returns the number of set bits in [0, i).
func (b *Bitmap) Rank1(i uint32) uint64 {
	if b.rb == nil || i == 0 {
		return 0
	}
	// roaring's Rank(x) counts set bits in the closed range [0, x], so
	// Rank(i-1) is exactly the half-open [0, i) count we want.
	return b.rb.Rank(i - 1)
}

// Select1 returns the position of the (k+1)-th set bit (0-indexed k), and
// false if fewer than k+1 bits are set.
func (b *Bitmap) Select1(k uint64) (uint32, bool) {
	if b.rb == nil {
		return 0, false
	}
	v, err := b.rb.Select(uint32(k))
	if err != nil {
		return 0, false
	}
	return v, true
}

// ZeroSeqLength returns the number of consecutive unset bits starting at
// position i (used by the duplicable-index duplicate-count derivation in
// spec §4.2: zero-seq-length(recBits, select1(k)+1)).
func (b *Bitmap) ZeroSeqLength(i uint32, limit uint32) uint32 {
	var n uint32
	for i+n < limit && !b.Test(i+n) {
		n++
	}
	return n
}

// Clone returns a deep copy.
func (b *Bitmap) Clone() *Bitmap {
	if b.rb == nil {
		return New()
	}
	return &Bitmap{rb: b.rb.Clone()}
}

// Or unions other into b in place.
func (b *Bitmap) Or(other *Bitmap) {
	b.ensure()
	if other != nil && other.rb != nil {
		b.rb.Or(other.rb)
	}
}

// Save serializes the bitmap to w.
func (b *Bitmap) Save(w io.Writer) error {
	b.ensure()
	_, err := b.rb.WriteTo(w)
	return err
}

// Load replaces the bitmap's contents by deserializing from r.
func (b *Bitmap) Load(r io.Reader) error {
	b.ensure()
	_, err := b.rb.ReadFrom(r)
	return err
}

// Bytes serializes the bitmap and returns the encoded bytes.
func (b *Bitmap) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromBytes builds a Bitmap from a buffer previously produced by Bytes.
func FromBytes(data []byte) (*Bitmap, error) {
	b := New()
	if len(data) == 0 {
		return b, nil
	}
	if err := b.Load(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bitmap) ensure() {
	if b.rb == nil {
		b.rb = roaring.New()
	}
}
