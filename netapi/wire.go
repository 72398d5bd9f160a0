// Package netapi binds the Myco servers to the wire: deterministic binary
// request/response types, fasthttp handlers for both servers, remote
// client adapters, and in-process adapters for single-binary deployments
// and tests.
package netapi

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/rpcpool/myco/dtypes"
)

// Server2 endpoints.
const (
	PathStorePathIndices     = "/store_path_indices"
	PathReadPaths            = "/read_paths"
	PathChunkReadPaths       = "/chunk_read_paths"
	PathReadPathsClient      = "/read_paths_client"
	PathChunkReadPathsClient = "/chunk_read_paths_client"
	PathChunkWrite           = "/chunk_write"
	PathWrite                = "/write"
	PathFinalizeEpoch        = "/finalize_epoch"
	PathGetPrfKeys           = "/get_prf_keys"
)

// Server1 endpoints.
const (
	PathQueueWrite = "/queue_write"
	PathBatchInit  = "/batch_init"
	PathBatchWrite = "/batch_write"
)

type StorePathIndicesRequest struct {
	Pathset []uint64
}

type ReadPathsRequest struct {
	Indices []uint64
}

type ChunkReadPathsRequest struct {
	ChunkIdx uint64
}

type ReadPathsClientRequest struct {
	Indices []uint64
}

type ChunkReadPathsClientRequest struct {
	Indices  []uint64
	ChunkIdx uint64
}

type ChunkWriteRequest struct {
	Buckets  []dtypes.Bucket
	ChunkIdx uint64
	// PrfKey rides along for wire compatibility; the epoch key only takes
	// effect at finalize_epoch.
	PrfKey dtypes.Key
}

type WriteRequest struct {
	Buckets []dtypes.Bucket
	PrfKey  dtypes.Key
}

type FinalizeEpochRequest struct {
	PrfKey dtypes.Key
}

type QueueWriteRequest struct {
	Ct     []byte
	F      []byte
	KOblvT dtypes.Key
	Cs     []byte
}

type BatchInitRequest struct {
	NumWrites uint64
}

type SuccessResponse struct {
	Success bool
}

type BucketsResponse struct {
	Buckets []dtypes.Bucket
}

type PrfKeysResponse struct {
	Keys []dtypes.Key
}

func writeUint64Slice(enc *bin.Encoder, v []uint64) error {
	if err := enc.WriteUint32(uint32(len(v)), bin.LE); err != nil {
		return err
	}
	for _, x := range v {
		if err := enc.WriteUint64(x, bin.LE); err != nil {
			return err
		}
	}
	return nil
}

func readUint64Slice(dec *bin.Decoder) ([]uint64, error) {
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		if out[i], err = dec.ReadUint64(bin.LE); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeByteSlice(enc *bin.Encoder, b []byte) error {
	if err := enc.WriteUint32(uint32(len(b)), bin.LE); err != nil {
		return err
	}
	_, err := enc.Write(b)
	return err
}

func readByteSlice(dec *bin.Decoder) ([]byte, error) {
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	return dec.ReadNBytes(int(n))
}

func writeBuckets(enc *bin.Encoder, buckets []dtypes.Bucket) error {
	if err := enc.WriteUint32(uint32(len(buckets)), bin.LE); err != nil {
		return err
	}
	for i := range buckets {
		if err := buckets[i].MarshalWithEncoder(enc); err != nil {
			return fmt.Errorf("bucket %d: %w", i, err)
		}
	}
	return nil
}

func readBuckets(dec *bin.Decoder) ([]dtypes.Bucket, error) {
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	out := make([]dtypes.Bucket, n)
	for i := range out {
		if err := out[i].UnmarshalWithDecoder(dec); err != nil {
			return nil, fmt.Errorf("bucket %d: %w", i, err)
		}
	}
	return out, nil
}

func (r StorePathIndicesRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	return writeUint64Slice(enc, r.Pathset)
}

func (r *StorePathIndicesRequest) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	r.Pathset, err = readUint64Slice(dec)
	return err
}

func (r ReadPathsRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	return writeUint64Slice(enc, r.Indices)
}

func (r *ReadPathsRequest) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	r.Indices, err = readUint64Slice(dec)
	return err
}

func (r ChunkReadPathsRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	return enc.WriteUint64(r.ChunkIdx, bin.LE)
}

func (r *ChunkReadPathsRequest) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	r.ChunkIdx, err = dec.ReadUint64(bin.LE)
	return err
}

func (r ReadPathsClientRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	return writeUint64Slice(enc, r.Indices)
}

func (r *ReadPathsClientRequest) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	r.Indices, err = readUint64Slice(dec)
	return err
}

func (r ChunkReadPathsClientRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := writeUint64Slice(enc, r.Indices); err != nil {
		return err
	}
	return enc.WriteUint64(r.ChunkIdx, bin.LE)
}

func (r *ChunkReadPathsClientRequest) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if r.Indices, err = readUint64Slice(dec); err != nil {
		return err
	}
	r.ChunkIdx, err = dec.ReadUint64(bin.LE)
	return err
}

func (r ChunkWriteRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := writeBuckets(enc, r.Buckets); err != nil {
		return err
	}
	if err := enc.WriteUint64(r.ChunkIdx, bin.LE); err != nil {
		return err
	}
	return r.PrfKey.MarshalWithEncoder(enc)
}

func (r *ChunkWriteRequest) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if r.Buckets, err = readBuckets(dec); err != nil {
		return err
	}
	if r.ChunkIdx, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	return r.PrfKey.UnmarshalWithDecoder(dec)
}

func (r WriteRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := writeBuckets(enc, r.Buckets); err != nil {
		return err
	}
	return r.PrfKey.MarshalWithEncoder(enc)
}

func (r *WriteRequest) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if r.Buckets, err = readBuckets(dec); err != nil {
		return err
	}
	return r.PrfKey.UnmarshalWithDecoder(dec)
}

func (r FinalizeEpochRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	return r.PrfKey.MarshalWithEncoder(enc)
}

func (r *FinalizeEpochRequest) UnmarshalWithDecoder(dec *bin.Decoder) error {
	return r.PrfKey.UnmarshalWithDecoder(dec)
}

func (r QueueWriteRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := writeByteSlice(enc, r.Ct); err != nil {
		return err
	}
	if err := writeByteSlice(enc, r.F); err != nil {
		return err
	}
	if err := r.KOblvT.MarshalWithEncoder(enc); err != nil {
		return err
	}
	return writeByteSlice(enc, r.Cs)
}

func (r *QueueWriteRequest) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if r.Ct, err = readByteSlice(dec); err != nil {
		return err
	}
	if r.F, err = readByteSlice(dec); err != nil {
		return err
	}
	if err = r.KOblvT.UnmarshalWithDecoder(dec); err != nil {
		return err
	}
	r.Cs, err = readByteSlice(dec)
	return err
}

func (r BatchInitRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	return enc.WriteUint64(r.NumWrites, bin.LE)
}

func (r *BatchInitRequest) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	r.NumWrites, err = dec.ReadUint64(bin.LE)
	return err
}

func (r SuccessResponse) MarshalWithEncoder(enc *bin.Encoder) error {
	var b byte
	if r.Success {
		b = 1
	}
	_, err := enc.Write([]byte{b})
	return err
}

func (r *SuccessResponse) UnmarshalWithDecoder(dec *bin.Decoder) error {
	buf, err := dec.ReadNBytes(1)
	if err != nil {
		return err
	}
	r.Success = buf[0] != 0
	return nil
}

func (r BucketsResponse) MarshalWithEncoder(enc *bin.Encoder) error {
	return writeBuckets(enc, r.Buckets)
}

func (r *BucketsResponse) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	r.Buckets, err = readBuckets(dec)
	return err
}

func (r PrfKeysResponse) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint32(uint32(len(r.Keys)), bin.LE); err != nil {
		return err
	}
	for _, k := range r.Keys {
		if err := k.MarshalWithEncoder(enc); err != nil {
			return err
		}
	}
	return nil
}

func (r *PrfKeysResponse) UnmarshalWithDecoder(dec *bin.Decoder) error {
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return err
	}
	r.Keys = make([]dtypes.Key, n)
	for i := range r.Keys {
		if err := r.Keys[i].UnmarshalWithDecoder(dec); err != nil {
			return err
		}
	}
	return nil
}

type wireMarshaler interface {
	MarshalWithEncoder(*bin.Encoder) error
}

type wireUnmarshaler interface {
	UnmarshalWithDecoder(*bin.Decoder) error
}

// marshalWire encodes a wire message to bytes.
func marshalWire(m wireMarshaler) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unmarshalWire decodes a wire message and rejects trailing garbage.
func unmarshalWire(data []byte, m wireUnmarshaler) error {
	dec := bin.NewBorshDecoder(data)
	if err := m.UnmarshalWithDecoder(dec); err != nil {
		return err
	}
	if dec.Remaining() != 0 {
		return fmt.Errorf("%d trailing bytes after message", dec.Remaining())
	}
	return nil
}

func indicesToInts(v []uint64) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}

func indicesToUint64s(v []int) []uint64 {
	out := make([]uint64, len(v))
	for i, x := range v {
		out[i] = uint64(x)
	}
	return out
}
