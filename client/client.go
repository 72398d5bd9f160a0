// Package client implements the Myco client: conversation key setup,
// asynchronous writes through Server1, and asynchronous reads against
// Server2's bucket tree, plus the fake traffic operations that keep idle
// clients indistinguishable from active ones.
package client

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/mycocrypto"
	"github.com/rpcpool/myco/tree"
)

var (
	// ErrNoMessageFound is the normal miss outcome: nothing on the queried
	// paths decrypted under the caller's keys.
	ErrNoMessageFound = errors.New("no message found")

	// ErrUnknownKey means Setup was never called for the key.
	ErrUnknownKey = errors.New("unknown conversation key")

	// ErrInvalidBatchSize means the key list length does not match the
	// requested read batch size.
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

// Server1Access is the client's view of the write coordinator.
type Server1Access interface {
	QueueWrite(ct, f []byte, kOblvT dtypes.Key, cs []byte) error
}

// Server2Access is the client's view of the storage server.
type Server2Access interface {
	GetPrfKeys() ([]dtypes.Key, error)
	ReadPathsClient(indices []int) ([]dtypes.Bucket, error)
}

// keySchedule is the derived triple for one conversation key.
type keySchedule struct {
	msg  []byte // strips the writer's inner encryption layer
	oblv []byte // parent of the per-epoch oblivious keys
	prf  []byte // derives the per-epoch path seed f
}

// Client is one Myco user. Not safe for concurrent use; a user issues
// writes serially so per-conversation ordering holds.
type Client struct {
	id     string
	epoch  uint64
	keys   map[dtypes.Key]keySchedule
	s1     Server1Access
	s2     Server2Access
	params dtypes.Params
}

// New creates a client named id talking to the given servers.
func New(id string, params dtypes.Params, s1 Server1Access, s2 Server2Access) (*Client, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	return &Client{
		id:     id,
		keys:   make(map[dtypes.Key]keySchedule),
		s1:     s1,
		s2:     s2,
		params: params,
	}, nil
}

// ID returns the client identifier used as the cs suffix in path
// derivation.
func (c *Client) ID() string {
	return c.id
}

// Epoch returns the number of writes issued since construction. The
// counter advances before the write is queued at Server1, so a write whose
// QueueWrite call fails is counted as well.
func (c *Client) Epoch() uint64 {
	return c.epoch
}

// Setup derives and stores the key schedule for conversation key k.
// Idempotent for repeated keys.
func (c *Client) Setup(k dtypes.Key) error {
	kMsg, err := mycocrypto.Kdf(k.Bytes(), "MSG")
	if err != nil {
		return err
	}
	kOblv, err := mycocrypto.Kdf(k.Bytes(), "ORAM")
	if err != nil {
		return err
	}
	kPrf, err := mycocrypto.Kdf(k.Bytes(), "PRF")
	if err != nil {
		return err
	}
	c.keys[k] = keySchedule{msg: kMsg, oblv: kOblv, prf: kPrf}
	return nil
}

// HasKey reports whether Setup ran for k.
func (c *Client) HasKey(k dtypes.Key) bool {
	_, ok := c.keys[k]
	return ok
}

// AsyncWrite encrypts msg under conversation key k and queues it at
// Server1 for the current epoch.
func (c *Client) AsyncWrite(msg []byte, k dtypes.Key) error {
	ks, ok := c.keys[k]
	if !ok {
		return ErrUnknownKey
	}

	f, err := mycocrypto.Prf(ks.prf, epochBytes(c.epoch))
	if err != nil {
		return err
	}
	kOblvTBytes, err := mycocrypto.Kdf(ks.oblv, strconv.FormatUint(c.epoch, 10))
	if err != nil {
		return err
	}
	kOblvT, err := dtypes.KeyFromBytes(kOblvTBytes)
	if err != nil {
		return err
	}
	ct, err := mycocrypto.Encrypt(ks.msg, msg, mycocrypto.Single)
	if err != nil {
		return err
	}

	c.epoch++
	if err := c.s1.QueueWrite(ct, f, kOblvT, []byte(c.id)); err != nil {
		return fmt.Errorf("queue write failed: %w", err)
	}
	return nil
}

// readQuery is one conversation's derived lookup state for a read epoch.
type readQuery struct {
	path   dtypes.Path
	kMsg   []byte
	kOblvT []byte
}

// AsyncRead looks up one message per conversation key, all written by peer
// cs at the epoch epochPast epochs in the past. The result has exactly
// len(keys) entries in key order; entries with no recoverable message are
// nil.
func (c *Client) AsyncRead(keys []dtypes.Key, cs string, epochPast int, batchSize int) ([][]byte, error) {
	if len(keys) != batchSize {
		return nil, fmt.Errorf("%w: %d keys for batch size %d", ErrInvalidBatchSize, len(keys), batchSize)
	}
	if uint64(epochPast) >= c.epoch {
		return nil, ErrNoMessageFound
	}
	readEpoch := c.epoch - 1 - uint64(epochPast)

	serverKeys, err := c.s2.GetPrfKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prf keys: %w", err)
	}
	if len(serverKeys) == 0 || epochPast >= len(serverKeys) {
		return nil, ErrNoMessageFound
	}
	kS1T := serverKeys[len(serverKeys)-1-epochPast]

	queries := make([]readQuery, 0, len(keys))
	paths := make([]dtypes.Path, 0, len(keys))
	for _, k := range keys {
		ks, ok := c.keys[k]
		if !ok {
			return nil, ErrUnknownKey
		}
		f, err := mycocrypto.Prf(ks.prf, epochBytes(readEpoch))
		if err != nil {
			return nil, err
		}
		l, err := mycocrypto.Prf(kS1T.Bytes(), append(f, []byte(cs)...))
		if err != nil {
			return nil, err
		}
		kOblvT, err := mycocrypto.Kdf(ks.oblv, strconv.FormatUint(readEpoch, 10))
		if err != nil {
			return nil, err
		}
		path := dtypes.PathFromBytes(l, c.params.D)
		queries = append(queries, readQuery{path: path, kMsg: ks.msg, kOblvT: kOblvT})
		paths = append(paths, path)
	}

	indices := tree.PathIndices(paths)
	buckets, err := c.s2.ReadPathsClient(indices)
	if err != nil {
		return nil, fmt.Errorf("failed to read paths: %w", err)
	}
	pathset, err := tree.NewSparse(buckets, indices, c.params.D)
	if err != nil {
		return nil, err
	}

	results := make([][]byte, len(queries))
	found := false
	for i, q := range queries {
		for _, bucket := range pathset.NodesAlongPath(q.path) {
			msg, ok := tryDecryptBucket(bucket, q.kOblvT, q.kMsg)
			if ok {
				results[i] = msg
				found = true
				break
			}
		}
	}
	if !found {
		return results, ErrNoMessageFound
	}
	return results, nil
}

// tryDecryptBucket walks a bucket's blocks and returns the first message
// that opens under both layers.
func tryDecryptBucket(bucket dtypes.Bucket, kOblvT, kMsg []byte) ([]byte, bool) {
	for _, block := range bucket.Blocks {
		inner, err := mycocrypto.Decrypt(kOblvT, block)
		if err != nil {
			continue
		}
		outer, err := mycocrypto.Decrypt(kMsg, inner)
		if err != nil {
			continue
		}
		return mycocrypto.TrimZeros(outer), true
	}
	return nil, false
}

// FakeWrite submits a dummy write that Server1 cannot tell apart from a
// real one: uniform random path seed, oblivious key, and ciphertext. The
// fake ciphertext has the exact length of a real single-encrypted message
// so the queue entry is length-indistinguishable too.
func (c *Client) FakeWrite() error {
	f := make([]byte, 32)
	if _, err := rand.Read(f); err != nil {
		return err
	}
	kOblvT, err := dtypes.RandomKey()
	if err != nil {
		return err
	}
	ct := make([]byte, dtypes.InnerBlockSize)
	if _, err := rand.Read(ct); err != nil {
		return err
	}
	return c.s1.QueueWrite(ct, f, kOblvT, []byte(c.id))
}

// FakeRead performs a dummy path read that Server2 cannot tell apart from
// a real one.
func (c *Client) FakeRead() error {
	path, err := dtypes.RandomPath(c.params.D)
	if err != nil {
		return err
	}
	_, err = c.s2.ReadPathsClient(tree.PathIndices([]dtypes.Path{path}))
	return err
}

// epochBytes is the PRF input encoding of an epoch: 8 big-endian bytes.
func epochBytes(epoch uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], epoch)
	return buf[:]
}
