package dtypes

import "math/rand"

// Timestamp is an epoch number.
type Timestamp = uint64

// MetadataEntry shadows one block: the path the writer intended, the
// per-epoch oblivious key that strips the outer encryption layer, and the
// epoch at which the block expires. Padding entries carry the zero key and
// expiry 0.
type MetadataEntry struct {
	Path   Path
	Key    Key
	Expiry Timestamp
}

// Metadata is the bucket-shaped list of entries shadowing a Bucket. It must
// stay index-aligned with the bucket it describes.
type Metadata struct {
	Entries []MetadataEntry
}

// NewMetadata returns an empty metadata bucket.
func NewMetadata() Metadata {
	return Metadata{}
}

func (m *Metadata) Len() int {
	return len(m.Entries)
}

func (m *Metadata) Push(path Path, key Key, expiry Timestamp) {
	m.Entries = append(m.Entries, MetadataEntry{Path: path, Key: key, Expiry: expiry})
}

// Get returns the entry at index i, or false if out of range.
func (m *Metadata) Get(i int) (MetadataEntry, bool) {
	if i < 0 || i >= len(m.Entries) {
		return MetadataEntry{}, false
	}
	return m.Entries[i], true
}

// Shuffle permutes the entries with the given RNG. See Bucket.Shuffle for
// the pairing requirement.
func (m *Metadata) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(m.Entries), func(i, j int) {
		m.Entries[i], m.Entries[j] = m.Entries[j], m.Entries[i]
	})
}

// Clone returns a deep copy of the metadata bucket.
func (m Metadata) Clone() Metadata {
	if m.Entries == nil {
		return Metadata{}
	}
	out := Metadata{Entries: make([]MetadataEntry, len(m.Entries))}
	for i, e := range m.Entries {
		out.Entries[i] = MetadataEntry{Path: e.Path.Clone(), Key: e.Key, Expiry: e.Expiry}
	}
	return out
}
