package netapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/rpcpool/myco/server1"
)

// NewServer1Handler binds a Server1 to the coordinator RPC surface.
func NewServer1Handler(s1 *server1.Server1) fasthttp.RequestHandler {
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
			metricsCurrentEpoch.Set(float64(s1.Epoch()))
		}()

		if !ctx.IsPost() {
			replyError(ctx, endpoint, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		body := ctx.Request.Body()

		switch endpoint {
		case PathQueueWrite:
			var req QueueWriteRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			if err := s1.QueueWrite(req.Ct, req.F, req.KOblvT, req.Cs); err != nil {
				replyError(ctx, endpoint, http.StatusInternalServerError, err.Error())
				return
			}
			replySuccess(ctx, endpoint)

		case PathBatchInit:
			var req BatchInitRequest
			if err := unmarshalWire(body, &req); err != nil {
				replyError(ctx, endpoint, http.StatusBadRequest, err.Error())
				return
			}
			if err := s1.BatchInit(int(req.NumWrites)); err != nil {
				replyError(ctx, endpoint, http.StatusInternalServerError, err.Error())
				return
			}
			replySuccess(ctx, endpoint)

		case PathBatchWrite:
			if err := s1.BatchWrite(); err != nil {
				replyError(ctx, endpoint, http.StatusInternalServerError, err.Error())
				return
			}
			replySuccess(ctx, endpoint)

		default:
			replyError(ctx, endpoint, http.StatusNotFound, "unknown endpoint")
		}
	}
}
