package netapi

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"k8s.io/klog/v2"

	"github.com/rpcpool/myco/dtypes"
)

// RemoteOption configures a remote adapter.
type RemoteOption func(*fasthttp.Client)

// WithTimeout sets both read and write timeouts on the underlying HTTP
// client. The protocol itself carries no timeouts; the transport does.
func WithTimeout(d time.Duration) RemoteOption {
	return func(c *fasthttp.Client) {
		c.ReadTimeout = d
		c.WriteTimeout = d
	}
}

func newHTTPClient(opts ...RemoteOption) *fasthttp.Client {
	c := &fasthttp.Client{
		MaxResponseBodySize: 2 * dtypes.MaxRequestSizeReadPaths,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func postWire(client *fasthttp.Client, url string, req wireMarshaler, resp wireUnmarshaler) error {
	var body []byte
	if req != nil {
		var err error
		body, err = marshalWire(req)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	hreq := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(hreq)
	hresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(hresp)

	hreq.SetRequestURI(url)
	hreq.Header.SetMethod(fasthttp.MethodPost)
	hreq.Header.SetContentType(contentTypeBinary)
	hreq.SetBody(body)

	if err := client.Do(hreq, hresp); err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	if hresp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", url, hresp.StatusCode(), hresp.Body())
	}
	if resp != nil {
		if err := unmarshalWire(hresp.Body(), resp); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", url, err)
		}
	}
	return nil
}

// RemoteServer1 is the client's HTTP adapter to a remote write
// coordinator.
type RemoteServer1 struct {
	baseURL string
	http    *fasthttp.Client
}

func NewRemoteServer1(baseURL string, opts ...RemoteOption) *RemoteServer1 {
	return &RemoteServer1{baseURL: baseURL, http: newHTTPClient(opts...)}
}

func (r *RemoteServer1) QueueWrite(ct, f []byte, kOblvT dtypes.Key, cs []byte) error {
	var resp SuccessResponse
	err := postWire(r.http, r.baseURL+PathQueueWrite, QueueWriteRequest{Ct: ct, F: f, KOblvT: kOblvT, Cs: cs}, &resp)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("queue_write rejected")
	}
	return nil
}

// BatchInit drives a remote epoch start. Exposed for drivers and
// benchmarks; clients only queue writes.
func (r *RemoteServer1) BatchInit(n int) error {
	var resp SuccessResponse
	return postWire(r.http, r.baseURL+PathBatchInit, BatchInitRequest{NumWrites: uint64(n)}, &resp)
}

// BatchWrite drives a remote epoch close.
func (r *RemoteServer1) BatchWrite() error {
	var resp SuccessResponse
	return postWire(r.http, r.baseURL+PathBatchWrite, nil, &resp)
}

// RemoteServer2 is the HTTP adapter to a remote storage server. It
// transparently switches to the chunked endpoints once a transfer would
// exceed the request size cap.
type RemoteServer2 struct {
	baseURL string
	params  dtypes.Params
	http    *fasthttp.Client
}

func NewRemoteServer2(baseURL string, params dtypes.Params, opts ...RemoteOption) *RemoteServer2 {
	return &RemoteServer2{baseURL: baseURL, params: params, http: newHTTPClient(opts...)}
}

func (r *RemoteServer2) ReadPaths(indices []int) ([]dtypes.Bucket, error) {
	chunkSize := r.params.NumBucketsPerReadPathsChunk()
	if len(indices) <= chunkSize {
		var resp BucketsResponse
		if err := postWire(r.http, r.baseURL+PathReadPaths, ReadPathsRequest{Indices: indicesToUint64s(indices)}, &resp); err != nil {
			return nil, err
		}
		return resp.Buckets, nil
	}

	// Large path set: register it once, then pull it chunk by chunk.
	var stored SuccessResponse
	if err := postWire(r.http, r.baseURL+PathStorePathIndices, StorePathIndicesRequest{Pathset: indicesToUint64s(indices)}, &stored); err != nil {
		return nil, err
	}
	numChunks := (len(indices) + chunkSize - 1) / chunkSize
	klog.V(2).Infof("netapi: reading path set of %d buckets in %d chunks", len(indices), numChunks)
	out := make([]dtypes.Bucket, 0, len(indices))
	for chunkIdx := 0; chunkIdx < numChunks; chunkIdx++ {
		var resp BucketsResponse
		if err := postWire(r.http, r.baseURL+PathChunkReadPaths, ChunkReadPathsRequest{ChunkIdx: uint64(chunkIdx)}, &resp); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", chunkIdx, err)
		}
		out = append(out, resp.Buckets...)
	}
	if len(out) != len(indices) {
		return nil, fmt.Errorf("chunked read returned %d buckets for %d indices", len(out), len(indices))
	}
	return out, nil
}

func (r *RemoteServer2) Write(buckets []dtypes.Bucket, prfKey dtypes.Key) error {
	chunkSize := r.params.NumBucketsPerBatchWriteChunk()
	if len(buckets) <= chunkSize {
		var resp SuccessResponse
		return postWire(r.http, r.baseURL+PathWrite, WriteRequest{Buckets: buckets, PrfKey: prfKey}, &resp)
	}

	numChunks := (len(buckets) + chunkSize - 1) / chunkSize
	klog.V(2).Infof("netapi: writing %d buckets in %d chunks", len(buckets), numChunks)
	for chunkIdx := 0; chunkIdx < numChunks; chunkIdx++ {
		end := (chunkIdx + 1) * chunkSize
		if end > len(buckets) {
			end = len(buckets)
		}
		var resp SuccessResponse
		req := ChunkWriteRequest{
			Buckets:  buckets[chunkIdx*chunkSize : end],
			ChunkIdx: uint64(chunkIdx),
			PrfKey:   prfKey,
		}
		if err := postWire(r.http, r.baseURL+PathChunkWrite, req, &resp); err != nil {
			return fmt.Errorf("chunk %d: %w", chunkIdx, err)
		}
	}
	var resp SuccessResponse
	return postWire(r.http, r.baseURL+PathFinalizeEpoch, FinalizeEpochRequest{PrfKey: prfKey}, &resp)
}

func (r *RemoteServer2) GetPrfKeys() ([]dtypes.Key, error) {
	var resp PrfKeysResponse
	if err := postWire(r.http, r.baseURL+PathGetPrfKeys, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (r *RemoteServer2) ReadPathsClient(indices []int) ([]dtypes.Bucket, error) {
	chunkSize := r.params.NumBucketsPerReadPathsChunk()
	if len(indices) <= chunkSize {
		var resp BucketsResponse
		if err := postWire(r.http, r.baseURL+PathReadPathsClient, ReadPathsClientRequest{Indices: indicesToUint64s(indices)}, &resp); err != nil {
			return nil, err
		}
		return resp.Buckets, nil
	}

	numChunks := (len(indices) + chunkSize - 1) / chunkSize
	out := make([]dtypes.Bucket, 0, len(indices))
	for chunkIdx := 0; chunkIdx < numChunks; chunkIdx++ {
		var resp BucketsResponse
		req := ChunkReadPathsClientRequest{
			Indices:  indicesToUint64s(indices),
			ChunkIdx: uint64(chunkIdx),
		}
		if err := postWire(r.http, r.baseURL+PathChunkReadPathsClient, req, &resp); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", chunkIdx, err)
		}
		out = append(out, resp.Buckets...)
	}
	if len(out) != len(indices) {
		return nil, fmt.Errorf("chunked client read returned %d buckets for %d indices", len(out), len(indices))
	}
	return out, nil
}
