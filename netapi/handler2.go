package netapi

import (
	"net/http"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"k8s.io/klog/v2"

	"github.com/rpcpool/myco/server2"
)

const contentTypeBinary = "application/octet-stream"

// NewServer2Handler binds a Server2 to the storage RPC surface. All
// protocol endpoints take and return the deterministic binary wire forms;
// /metrics serves Prometheus.
func NewServer2Handler(s2 *server2.Server2) fasthttp.RequestHandler {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(ctx *fasthttp.RequestCtx) {
		endpoint := string(ctx.Path())
		if endpoint == "/metrics" {
			metricsHandler(ctx)
			return
		}
		startedAt := time.Now()
		metricsRequestsByEndpoint.WithLabelValues(endpoint).Inc()
		defer func() {
			metricsResponseTimeHistogram.WithLabelValues(endpoint).Observe(time.Since(startedAt).Seconds())
			metricsCurrentEpoch.Set(float64(s2.Epoch()))
		}()

		if !ctx.IsPost() {
			replyError(ctx, endpoint, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		body := ctx.Request.Body()

		switch endpoint {
		case PathStorePathIndices:
			var req StorePathIndicesRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			s2.StorePathIndices(indicesToInts(req.Pathset))
			replySuccess(ctx, endpoint)

		case PathReadPaths:
			var req ReadPathsRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			buckets, err := s2.ReadAndStorePathIndices(indicesToInts(req.Indices))
			if err != nil {
				replyError(ctx, endpoint, http.StatusInternalServerError, err.Error())
				return
			}
			replyWire(ctx, endpoint, BucketsResponse{Buckets: buckets})

		case PathChunkReadPaths:
			var req ChunkReadPathsRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			buckets, err := s2.ReadPathsetChunk(int(req.ChunkIdx))
			if err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			replyWire(ctx, endpoint, BucketsResponse{Buckets: buckets})

		case PathReadPathsClient:
			var req ReadPathsClientRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			buckets, err := s2.ReadPathsClient(indicesToInts(req.Indices))
			if err != nil {
				replyError(ctx, endpoint, http.StatusInternalServerError, err.Error())
				return
			}
			replyWire(ctx, endpoint, BucketsResponse{Buckets: buckets})

		case PathChunkReadPathsClient:
			var req ChunkReadPathsClientRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			buckets, err := s2.ReadPathsClientChunk(int(req.ChunkIdx), indicesToInts(req.Indices))
			if err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			replyWire(ctx, endpoint, BucketsResponse{Buckets: buckets})

		case PathChunkWrite:
			var req ChunkWriteRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			if err := s2.ChunkWrite(req.Buckets, int(req.ChunkIdx)); err != nil {
				replyError(ctx, endpoint, http.StatusInternalServerError, err.Error())
				return
			}
			replySuccess(ctx, endpoint)

		case PathWrite:
			var req WriteRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			if err := s2.Write(req.Buckets, req.PrfKey); err != nil {
				replyError(ctx, endpoint, http.StatusInternalServerError, err.Error())
				return
			}
			replySuccess(ctx, endpoint)

		case PathFinalizeEpoch:
			var req FinalizeEpochRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			s2.FinalizeEpoch(req.PrfKey)
			replySuccess(ctx, endpoint)

		case PathGetPrfKeys:
			replyWire(ctx, endpoint, PrfKeysResponse{Keys: s2.GetPrfKeys()})

		default:
			replyError(ctx, endpoint, http.StatusNotFound, "unknown endpoint")
		}
	}
}

func replyWire(ctx *fasthttp.RequestCtx, endpoint string, m wireMarshaler) {
	// Encode into a pooled buffer; fasthttp copies the body on SetBody.
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := m.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		klog.Errorf("failed to marshal %s response: %v", endpoint, err)
		replyError(ctx, endpoint, http.StatusInternalServerError, "encoding failed")
		return
	}
	ctx.SetContentType(contentTypeBinary)
	ctx.SetStatusCode(http.StatusOK)
	ctx.SetBody(buf.Bytes())
	metricsResponseBytes.WithLabelValues(endpoint).Add(float64(buf.Len()))
	metricsEndpointToStatus.WithLabelValues(endpoint, "success").Inc()
}

func replySuccess(ctx *fasthttp.RequestCtx, endpoint string) {
	replyWire(ctx, endpoint, SuccessResponse{Success: true})
}

func replyError(ctx *fasthttp.RequestCtx, endpoint string, code int, msg string) {
	klog.Errorf("%s: %s", endpoint, msg)
	ctx.SetStatusCode(code)
	ctx.SetBodyString(msg)
	metricsEndpointToStatus.WithLabelValues(endpoint, "failure").Inc()
}
