package tree

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/rpcpool/myco/dtypes"
)

// Snapshot format for the server trees: a small header, then each tree as
// a count of present nodes followed by (u64 dense index, node) pairs in
// index order. Used to checkpoint Server2's bucket tree together with
// Server1's metadata shadow tree.

var stateMagic = [8]byte{'m', 'y', 'c', 'o', 't', 'r', 'e', 'e'}

const stateVersion = uint64(1)

// SerializeTrees encodes the bucket tree and its metadata shadow.
func SerializeTrees(buckets *Dense[dtypes.Bucket], metadata *Dense[dtypes.Metadata]) ([]byte, error) {
	if buckets.Depth() != metadata.Depth() {
		return nil, fmt.Errorf("%w: depth %d vs %d", ErrLengthMismatch, buckets.Depth(), metadata.Depth())
	}
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if _, err := enc.Write(stateMagic[:]); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(stateVersion, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(buckets.Depth()), bin.LE); err != nil {
		return nil, err
	}
	if err := writeNodes(enc, buckets, dtypes.Bucket.MarshalWithEncoder); err != nil {
		return nil, fmt.Errorf("failed to serialize bucket tree: %w", err)
	}
	if err := writeNodes(enc, metadata, dtypes.Metadata.MarshalWithEncoder); err != nil {
		return nil, fmt.Errorf("failed to serialize metadata tree: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeTrees decodes a snapshot produced by SerializeTrees.
func DeserializeTrees(data []byte) (*Dense[dtypes.Bucket], *Dense[dtypes.Metadata], error) {
	dec := bin.NewBorshDecoder(data)
	magic, err := dec.ReadNBytes(len(stateMagic))
	if err != nil || !bytes.Equal(magic, stateMagic[:]) {
		return nil, nil, fmt.Errorf("bad tree snapshot magic")
	}
	version, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, nil, err
	}
	if version != stateVersion {
		return nil, nil, fmt.Errorf("unsupported tree snapshot version %d", version)
	}
	depth, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, nil, err
	}
	buckets := NewDense[dtypes.Bucket](int(depth))
	if err := readNodes(dec, buckets, (*dtypes.Bucket).UnmarshalWithDecoder); err != nil {
		return nil, nil, fmt.Errorf("failed to deserialize bucket tree: %w", err)
	}
	metadata := NewDense[dtypes.Metadata](int(depth))
	if err := readNodes(dec, metadata, (*dtypes.Metadata).UnmarshalWithDecoder); err != nil {
		return nil, nil, fmt.Errorf("failed to deserialize metadata tree: %w", err)
	}
	return buckets, metadata, nil
}

func writeNodes[T Value[T]](enc *bin.Encoder, t *Dense[T], marshal func(T, *bin.Encoder) error) error {
	present := 0
	for idx := 1; idx <= t.NumNodes(); idx++ {
		if _, ok := t.GetIndex(idx); ok {
			present++
		}
	}
	if err := enc.WriteUint64(uint64(present), bin.LE); err != nil {
		return err
	}
	for idx := 1; idx <= t.NumNodes(); idx++ {
		v, ok := t.GetIndex(idx)
		if !ok {
			continue
		}
		if err := enc.WriteUint64(uint64(idx), bin.LE); err != nil {
			return err
		}
		if err := marshal(v, enc); err != nil {
			return fmt.Errorf("node %d: %w", idx, err)
		}
	}
	return nil
}

func readNodes[T Value[T]](dec *bin.Decoder, t *Dense[T], unmarshal func(*T, *bin.Decoder) error) error {
	present, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	for i := uint64(0); i < present; i++ {
		idx, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		var v T
		if err := unmarshal(&v, dec); err != nil {
			return fmt.Errorf("node %d: %w", idx, err)
		}
		if err := t.SetIndex(int(idx), v); err != nil {
			return err
		}
	}
	return nil
}
