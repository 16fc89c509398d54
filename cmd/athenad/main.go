// Command athenad runs the Athena memory substrate as a standalone HTTP
// service: ten operation families dispatching into internal/memcore,
// fronted by a recover/log/CORS/OTel middleware chain with a metrics
// endpoint and graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/memcore"
	"github.com/athenamind/athena/pkg/metrics"
	"github.com/athenamind/athena/pkg/mid"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := memcore.LoadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("athenad exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg memcore.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := memcore.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close(context.Background())

	reg := metrics.New()
	requestsTotal := reg.Counter("athena_requests_total", "total requests handled, by operation")
	requestSeconds := reg.Histogram("athena_request_seconds", "request latency by operation", nil)
	reg.ServeAsync(cfg.MetricsPort)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	registerOperation(mux, "POST /v1/remember", requestsTotal, requestSeconds, logger, core.Remember)
	registerOperation(mux, "POST /v1/episodic", requestsTotal, requestSeconds, logger, core.Episodic)
	registerOperation(mux, "POST /v1/recall", requestsTotal, requestSeconds, logger, core.Recall)
	registerOperation(mux, "POST /v1/consolidate", requestsTotal, requestSeconds, logger, core.Consolidate)
	registerOperation(mux, "POST /v1/graph", requestsTotal, requestSeconds, logger, core.Graph)
	registerOperation(mux, "POST /v1/planning", requestsTotal, requestSeconds, logger, core.Planning)
	registerOperation(mux, "POST /v1/planning/update", requestsTotal, requestSeconds, logger, core.PlanningUpdate)
	registerOperation(mux, "POST /v1/planning/transition", requestsTotal, requestSeconds, logger, core.PlanningTransition)
	registerOperation(mux, "POST /v1/planning/delete", requestsTotal, requestSeconds, logger, core.PlanningDelete)
	registerOperation(mux, "POST /v1/procedural", requestsTotal, requestSeconds, logger, core.Procedural)
	registerOperation(mux, "POST /v1/prospective", requestsTotal, requestSeconds, logger, core.Prospective)
	registerOperation(mux, "POST /v1/rag", requestsTotal, requestSeconds, logger, core.RAG)
	registerOperation(mux, "POST /v1/code", requestsTotal, requestSeconds, logger, core.Code)
	registerOperation(mux, "POST /v1/agent", requestsTotal, requestSeconds, logger, core.Agent)

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("athenad"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("athenad starting", "port", cfg.HTTPPort, "metrics_port", cfg.MetricsPort)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// registerOperation wires one operation family's handler function (one of
// internal/memcore's typed Core methods) behind a JSON decode/encode
// boundary, with per-operation metrics and classified-error rendering
// through the unified envelope.
func registerOperation[Req, Resp any](
	mux *http.ServeMux,
	pattern string,
	requests *metrics.Counter,
	latency *metrics.Histogram,
	logger *slog.Logger,
	op func(context.Context, Req) (envelope.Envelope[Resp], error),
) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer latency.Since(start)
		requests.Inc()

		var req Req
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeEnvelope(w, envelope.Failed[Resp](envelope.New(envelope.KindInvalidInput, "malformed request body"), envelope.Metadata{}))
				return
			}
		}

		env, err := op(r.Context(), req)
		if err != nil {
			logger.Warn("operation failed", "path", pattern, "err", err)
			writeEnvelope(w, envelope.Failed[Resp](err, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}))
			return
		}
		writeEnvelope(w, env)
	})
}

func writeEnvelope[T any](w http.ResponseWriter, env envelope.Envelope[T]) {
	w.Header().Set("Content-Type", "application/json")
	switch env.Status {
	case envelope.StatusError:
		w.WriteHeader(statusForKind(env.Error.Kind))
	case envelope.StatusPartial:
		w.WriteHeader(http.StatusPartialContent)
	default:
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(env)
}

func statusForKind(kind string) int {
	switch kind {
	case "InvalidInput":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "Duplicate":
		return http.StatusConflict
	case "RateLimited":
		return http.StatusTooManyRequests
	case "AlreadyRunning":
		return http.StatusConflict
	case "DependencyUnavailable":
		return http.StatusServiceUnavailable
	case "Timeout":
		return http.StatusGatewayTimeout
	case "CorruptState":
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
