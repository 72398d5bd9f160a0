package netapi

import (
	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/server1"
	"github.com/rpcpool/myco/server2"
)

// LocalServer1 adapts an in-process Server1 to the client's access
// interface. Server1 carries its own locking, so the adapter is a straight
// pass-through.
type LocalServer1 struct {
	S1 *server1.Server1
}

func NewLocalServer1(s1 *server1.Server1) *LocalServer1 {
	return &LocalServer1{S1: s1}
}

func (l *LocalServer1) QueueWrite(ct, f []byte, kOblvT dtypes.Key, cs []byte) error {
	return l.S1.QueueWrite(ct, f, kOblvT, cs)
}

// LocalServer2 adapts an in-process Server2 to both access interfaces: the
// coordinator-facing one (ReadPaths / Write) and the client-facing one
// (GetPrfKeys / ReadPathsClient).
type LocalServer2 struct {
	S2 *server2.Server2
}

func NewLocalServer2(s2 *server2.Server2) *LocalServer2 {
	return &LocalServer2{S2: s2}
}

func (l *LocalServer2) ReadPaths(indices []int) ([]dtypes.Bucket, error) {
	return l.S2.ReadAndStorePathIndices(indices)
}

func (l *LocalServer2) Write(buckets []dtypes.Bucket, prfKey dtypes.Key) error {
	return l.S2.Write(buckets, prfKey)
}

func (l *LocalServer2) GetPrfKeys() ([]dtypes.Key, error) {
	return l.S2.GetPrfKeys(), nil
}

func (l *LocalServer2) ReadPathsClient(indices []int) ([]dtypes.Bucket, error) {
	return l.S2.ReadPathsClient(indices)
}
