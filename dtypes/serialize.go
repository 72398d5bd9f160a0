package dtypes

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Canonical wire encoding, little-endian throughout:
//
//	Key      16 raw bytes
//	Path     u32 direction count, then bit-packed bytes (LSB first)
//	Block    u32 byte count, then raw bytes (always BlockSize except in
//	         the no-encryption benchmark build, where blocks are shorter)
//	Bucket   u32 block count, then blocks
//	Metadata u32 entry count, then (path, key, u64 expiry) per entry

func (k Key) MarshalWithEncoder(enc *bin.Encoder) error {
	if n, err := enc.Write(k[:]); err != nil {
		return err
	} else if n != KeySize {
		return fmt.Errorf("short key write: %d", n)
	}
	return nil
}

func (k *Key) UnmarshalWithDecoder(dec *bin.Decoder) error {
	buf, err := dec.ReadNBytes(KeySize)
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	copy(k[:], buf)
	return nil
}

func (p Path) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint32(uint32(len(p)), bin.LE); err != nil {
		return err
	}
	_, err := enc.Write(p.Bytes())
	return err
}

func (p *Path) UnmarshalWithDecoder(dec *bin.Decoder) error {
	numDirs, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read path length: %w", err)
	}
	packed, err := dec.ReadNBytes((int(numDirs) + 7) / 8)
	if err != nil {
		return fmt.Errorf("failed to read path bits: %w", err)
	}
	*p = PathFromBytes(packed, int(numDirs))
	return nil
}

func (b Block) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint32(uint32(len(b)), bin.LE); err != nil {
		return err
	}
	_, err := enc.Write(b)
	return err
}

func (b *Block) UnmarshalWithDecoder(dec *bin.Decoder) error {
	numBytes, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read block length: %w", err)
	}
	buf, err := dec.ReadNBytes(int(numBytes))
	if err != nil {
		return fmt.Errorf("failed to read block: %w", err)
	}
	*b = Block(buf)
	return nil
}

func (b Bucket) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint32(uint32(len(b.Blocks)), bin.LE); err != nil {
		return err
	}
	for _, blk := range b.Blocks {
		if err := blk.MarshalWithEncoder(enc); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bucket) UnmarshalWithDecoder(dec *bin.Decoder) error {
	numBlocks, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read bucket length: %w", err)
	}
	b.Blocks = nil
	if numBlocks == 0 {
		return nil
	}
	b.Blocks = make([]Block, numBlocks)
	for i := range b.Blocks {
		if err := b.Blocks[i].UnmarshalWithDecoder(dec); err != nil {
			return fmt.Errorf("failed to read block %d: %w", i, err)
		}
	}
	return nil
}

func (m Metadata) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint32(uint32(len(m.Entries)), bin.LE); err != nil {
		return err
	}
	for _, e := range m.Entries {
		if err := e.Path.MarshalWithEncoder(enc); err != nil {
			return err
		}
		if err := e.Key.MarshalWithEncoder(enc); err != nil {
			return err
		}
		if err := enc.WriteUint64(e.Expiry, bin.LE); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metadata) UnmarshalWithDecoder(dec *bin.Decoder) error {
	numEntries, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read metadata length: %w", err)
	}
	m.Entries = nil
	if numEntries == 0 {
		return nil
	}
	m.Entries = make([]MetadataEntry, numEntries)
	for i := range m.Entries {
		if err := m.Entries[i].Path.UnmarshalWithDecoder(dec); err != nil {
			return fmt.Errorf("failed to read metadata path %d: %w", i, err)
		}
		if err := m.Entries[i].Key.UnmarshalWithDecoder(dec); err != nil {
			return fmt.Errorf("failed to read metadata key %d: %w", i, err)
		}
		expiry, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return fmt.Errorf("failed to read metadata expiry %d: %w", i, err)
		}
		m.Entries[i].Expiry = expiry
	}
	return nil
}

// MarshalBucket encodes a single bucket to bytes.
func MarshalBucket(b Bucket) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := b.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBucket decodes a single bucket from bytes.
func UnmarshalBucket(data []byte) (Bucket, error) {
	var b Bucket
	if err := b.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return Bucket{}, err
	}
	return b, nil
}
