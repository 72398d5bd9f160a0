//go:build !noenc

package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/myco/client"
	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/netapi"
	"github.com/rpcpool/myco/server1"
	"github.com/rpcpool/myco/server2"
	"github.com/rpcpool/myco/tree"
)

// deployment is an in-process two-server setup shared by the end-to-end
// scenarios. Z is sized so that the worst-case collision of every live
// message into one bucket still fits.
type deployment struct {
	params dtypes.Params
	s1     *server1.Server1
	s2     *server2.Server2
	s1Acc  *netapi.LocalServer1
	s2Acc  *netapi.LocalServer2
}

func newDeployment(t *testing.T, params dtypes.Params) *deployment {
	t.Helper()
	s2, err := server2.New(params)
	require.NoError(t, err)
	s2Acc := netapi.NewLocalServer2(s2)
	s1, err := server1.New(params, s2Acc)
	require.NoError(t, err)
	return &deployment{
		params: params,
		s1:     s1,
		s2:     s2,
		s1Acc:  netapi.NewLocalServer1(s1),
		s2Acc:  s2Acc,
	}
}

func (d *deployment) newClient(t *testing.T, name string) *client.Client {
	t.Helper()
	cl, err := client.New(name, d.params, d.s1Acc, d.s2Acc)
	require.NoError(t, err)
	return cl
}

func smallParams() dtypes.Params {
	return dtypes.Params{D: 3, Z: 8, Delta: 4, Nu: 1}
}

func TestClientSetup(t *testing.T) {
	d := newDeployment(t, smallParams())
	alice := d.newClient(t, "Alice")

	k, err := dtypes.RandomKey()
	require.NoError(t, err)
	require.NoError(t, alice.Setup(k))
	assert.True(t, alice.HasKey(k))

	require.NoError(t, alice.Setup(k), "setup is idempotent")
}

func TestWriteAndRead(t *testing.T) {
	d := newDeployment(t, smallParams())
	alice := d.newClient(t, "Alice")

	k, err := dtypes.RandomKey()
	require.NoError(t, err)
	require.NoError(t, alice.Setup(k))

	require.NoError(t, d.s1.BatchInit(1))
	require.NoError(t, alice.AsyncWrite([]byte{1}, k))
	require.NoError(t, d.s1.BatchWrite())

	got, err := alice.AsyncRead([]dtypes.Key{k}, "Alice", 0, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1}, got[0])
}

// Scenario: two clients exchange one message each over two shared keys.
func TestTwoClientsExchange(t *testing.T) {
	d := newDeployment(t, smallParams())
	alice := d.newClient(t, "Alice")
	bob := d.newClient(t, "Bob")

	k1, err := dtypes.RandomKey()
	require.NoError(t, err)
	k2, err := dtypes.RandomKey()
	require.NoError(t, err)
	for _, cl := range []*client.Client{alice, bob} {
		require.NoError(t, cl.Setup(k1))
		require.NoError(t, cl.Setup(k2))
	}

	require.NoError(t, d.s1.BatchInit(2))
	require.NoError(t, alice.AsyncWrite([]byte{0x01}, k1))
	require.NoError(t, bob.AsyncWrite([]byte{0x02}, k2))
	require.NoError(t, d.s1.BatchWrite())

	got, err := alice.AsyncRead([]dtypes.Key{k2}, "Bob", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, got[0])

	got, err = bob.AsyncRead([]dtypes.Key{k1}, "Alice", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got[0])
}

func TestMultipleClientsMultipleEpochs(t *testing.T) {
	d := newDeployment(t, smallParams())
	alice := d.newClient(t, "Alice")
	bob := d.newClient(t, "Bob")

	for epoch := 0; epoch < 5; epoch++ {
		kAliceToBob, err := dtypes.RandomKey()
		require.NoError(t, err)
		kBobToAlice, err := dtypes.RandomKey()
		require.NoError(t, err)
		for _, cl := range []*client.Client{alice, bob} {
			require.NoError(t, cl.Setup(kAliceToBob))
			require.NoError(t, cl.Setup(kBobToAlice))
		}

		require.NoError(t, d.s1.BatchInit(2))
		aliceMsg := []byte(fmt.Sprintf("alice-%d", epoch))
		bobMsg := []byte(fmt.Sprintf("bob-%d", epoch))
		require.NoError(t, alice.AsyncWrite(aliceMsg, kAliceToBob))
		require.NoError(t, bob.AsyncWrite(bobMsg, kBobToAlice))
		require.NoError(t, d.s1.BatchWrite())

		got, err := alice.AsyncRead([]dtypes.Key{kBobToAlice}, "Bob", 0, 1)
		require.NoError(t, err)
		assert.Equal(t, bobMsg, got[0], "epoch %d", epoch)

		got, err = bob.AsyncRead([]dtypes.Key{kAliceToBob}, "Alice", 0, 1)
		require.NoError(t, err)
		assert.Equal(t, aliceMsg, got[0], "epoch %d", epoch)
	}
	assert.Equal(t, uint64(5), alice.Epoch(), "epoch counts successful writes")
}

// Scenario: a message stays readable for exactly Delta epochs, write epoch
// included, and expires afterwards. The writer keeps writing dummies so its
// local epoch counter tracks the server's.
func TestPersistenceAcrossEpochsAndExpiry(t *testing.T) {
	params := smallParams() // Delta = 4
	d := newDeployment(t, params)
	alice := d.newClient(t, "Alice")

	kReal, err := dtypes.RandomKey()
	require.NoError(t, err)
	kDummy, err := dtypes.RandomKey()
	require.NoError(t, err)
	require.NoError(t, alice.Setup(kReal))
	require.NoError(t, alice.Setup(kDummy))

	m1 := []byte{0x11, 0x22, 0x33}
	require.NoError(t, d.s1.BatchInit(1))
	require.NoError(t, alice.AsyncWrite(m1, kReal))
	require.NoError(t, d.s1.BatchWrite())

	// Delta-1 more epochs of filler traffic.
	for epoch := 1; epoch < params.Delta; epoch++ {
		require.NoError(t, d.s1.BatchInit(1))
		require.NoError(t, alice.AsyncWrite([]byte("filler"), kDummy))
		require.NoError(t, d.s1.BatchWrite())

		got, err := alice.AsyncRead([]dtypes.Key{kReal}, "Alice", epoch, 1)
		require.NoError(t, err, "epoch_past %d within the lifetime", epoch)
		assert.Equal(t, m1, got[0])
	}

	// One more epoch pushes m1 past its lifetime.
	require.NoError(t, d.s1.BatchInit(1))
	require.NoError(t, alice.AsyncWrite([]byte("filler"), kDummy))
	require.NoError(t, d.s1.BatchWrite())

	_, err = alice.AsyncRead([]dtypes.Key{kReal}, "Alice", params.Delta, 1)
	assert.ErrorIs(t, err, client.ErrNoMessageFound, "expired after Delta epochs")
}

// Scenario: 128-key read fan-out returns exactly the one written message,
// positionally aligned with its key.
func TestReadBatchFanOut(t *testing.T) {
	params := dtypes.Params{D: 6, Z: 8, Delta: 4, Nu: 1}
	d := newDeployment(t, params)
	cl := d.newClient(t, "C")

	const numKeys = 128
	const hit = 17
	keys := make([]dtypes.Key, numKeys)
	for i := range keys {
		var err error
		keys[i], err = dtypes.RandomKey()
		require.NoError(t, err)
		require.NoError(t, cl.Setup(keys[i]))
	}

	msg := []byte("needle")
	require.NoError(t, d.s1.BatchInit(1))
	require.NoError(t, cl.AsyncWrite(msg, keys[hit]))
	require.NoError(t, d.s1.BatchWrite())

	got, err := cl.AsyncRead(keys, "C", 0, numKeys)
	require.NoError(t, err)
	require.Len(t, got, numKeys)
	for i, m := range got {
		if i == hit {
			assert.Equal(t, msg, m)
		} else {
			assert.Nil(t, m, "key %d must not yield a message", i)
		}
	}

	_, err = cl.AsyncRead(keys[:10], "C", 0, numKeys)
	assert.ErrorIs(t, err, client.ErrInvalidBatchSize)
}

// Scenario: a fake write flows through the full epoch like a real one and
// leaves only undecryptable data behind.
func TestFakeWriteShape(t *testing.T) {
	params := smallParams()
	d := newDeployment(t, params)
	faker := d.newClient(t, "Faker")
	reader := d.newClient(t, "Reader")

	k, err := dtypes.RandomKey()
	require.NoError(t, err)
	require.NoError(t, reader.Setup(k))

	require.NoError(t, d.s1.BatchInit(1))
	require.NoError(t, faker.FakeWrite())
	require.NoError(t, d.s1.BatchWrite())

	// Same observable shape as a real epoch: full key ring entry, all
	// touched buckets padded to Z.
	assert.Len(t, d.s2.GetPrfKeys(), 1)
	storage := d.s2.Tree()
	touched := 0
	for idx := 1; idx <= storage.NumNodes(); idx++ {
		bucket, _ := storage.GetIndex(idx)
		require.LessOrEqual(t, bucket.Len(), params.Z)
		if bucket.Len() > 0 {
			touched++
			assert.Equal(t, params.Z, bucket.Len())
		}
	}
	assert.Greater(t, touched, 0)

	require.NoError(t, reader.FakeRead(), "fake reads touch no shared state")
}

// Scenario: the two server trees round-trip through the snapshot format.
func TestTreeStateSerializationRoundTrip(t *testing.T) {
	d := newDeployment(t, smallParams())
	alice := d.newClient(t, "Alice")

	k, err := dtypes.RandomKey()
	require.NoError(t, err)
	require.NoError(t, alice.Setup(k))

	require.NoError(t, d.s1.BatchInit(1))
	require.NoError(t, alice.AsyncWrite([]byte("snapshot me"), k))
	require.NoError(t, d.s1.BatchWrite())

	data, err := tree.SerializeTrees(d.s2.Tree(), d.s1.MetadataTree())
	require.NoError(t, err)

	gotBuckets, gotMetadata, err := tree.DeserializeTrees(data)
	require.NoError(t, err)

	for idx := 1; idx <= d.s2.Tree().NumNodes(); idx++ {
		wantB, _ := d.s2.Tree().GetIndex(idx)
		gotB, ok := gotBuckets.GetIndex(idx)
		require.True(t, ok)
		assert.Equal(t, wantB, gotB, "bucket %d", idx)

		wantM, _ := d.s1.MetadataTree().GetIndex(idx)
		gotM, ok := gotMetadata.GetIndex(idx)
		require.True(t, ok)
		assert.Equal(t, wantM, gotM, "metadata %d", idx)
	}

	// Serializing the restored trees again reproduces the snapshot byte for
	// byte.
	reserialized, err := tree.SerializeTrees(gotBuckets, gotMetadata)
	require.NoError(t, err)
	assert.Equal(t, data, reserialized)
}

func TestReadMissesReportNoMessage(t *testing.T) {
	d := newDeployment(t, smallParams())
	alice := d.newClient(t, "Alice")

	k, err := dtypes.RandomKey()
	require.NoError(t, err)
	require.NoError(t, alice.Setup(k))

	// No writes at all: nothing to index into.
	_, err = alice.AsyncRead([]dtypes.Key{k}, "Alice", 0, 1)
	assert.ErrorIs(t, err, client.ErrNoMessageFound)

	// One write, but epoch_past points past the key ring.
	require.NoError(t, d.s1.BatchInit(1))
	require.NoError(t, alice.AsyncWrite([]byte{1}, k))
	require.NoError(t, d.s1.BatchWrite())

	_, err = alice.AsyncRead([]dtypes.Key{k}, "Alice", 5, 1)
	assert.ErrorIs(t, err, client.ErrNoMessageFound)
}

func TestUnknownKeyRejected(t *testing.T) {
	d := newDeployment(t, smallParams())
	alice := d.newClient(t, "Alice")
	k, err := dtypes.RandomKey()
	require.NoError(t, err)
	err = alice.AsyncWrite([]byte{1}, k)
	assert.ErrorIs(t, err, client.ErrUnknownKey)
}
