package memcore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/athenamind/athena/internal/consolidate"
	"github.com/athenamind/athena/internal/eventbus"
	"github.com/athenamind/athena/internal/eventlog"
	"github.com/athenamind/athena/internal/factstore"
	"github.com/athenamind/athena/internal/graphstore"
	"github.com/athenamind/athena/internal/metastore"
	"github.com/athenamind/athena/internal/procedure"
	"github.com/athenamind/athena/internal/provider"
	"github.com/athenamind/athena/internal/ratelimit"
	"github.com/athenamind/athena/internal/router"
	"github.com/athenamind/athena/internal/storage"
	"github.com/athenamind/athena/internal/task"
	"github.com/athenamind/athena/internal/vectorindex"
	"github.com/athenamind/athena/internal/writepipeline"
	"github.com/athenamind/athena/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Core is the single root object. It owns the relational database, the
// graph driver, the embedding index, and every store built over them, plus
// the consolidator and router assembled from those stores. Construct one
// per process; there are no package-level store singletons anywhere else
// in this module.
type Core struct {
	cfg Config
	log *slog.Logger

	DB     *storage.DB
	Neo4j  neo4j.DriverWithContext
	Vector vectorindex.Capability

	Events     *eventlog.Store
	Facts      *factstore.Store
	Procedures *procedure.Store
	Tasks      *task.Store
	Graph      *graphstore.Store
	Meta       *metastore.Store

	Pipeline     *writepipeline.Pipeline
	Consolidator *consolidate.Engine
	Router       *router.Router
	RateLimits   *ratelimit.Envelope
	Bus          *eventbus.Bus

	embedder  provider.EmbeddingProvider
	validator provider.LLMValidator
}

// Open wires every store, the embedding index, and the consolidator/router
// on top of them, per cfg. Callers must call Close when done.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Core, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := storage.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("memcore: open storage: %w", err)
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("memcore: neo4j driver: %w", err)
	}

	var vector vectorindex.Capability
	if cfg.QdrantAddr != "" {
		idx, err := vectorindex.Open(cfg.QdrantAddr, cfg.Collection)
		if err != nil {
			log.Warn("qdrant unavailable, falling back to in-memory index", "err", err)
			vector = vectorindex.NewMemoryIndex()
		} else if err := idx.Ensure(ctx, cfg.EmbeddingDimension); err != nil {
			log.Warn("qdrant collection ensure failed, falling back to in-memory index", "err", err)
			vector = vectorindex.NewMemoryIndex()
		} else {
			vector = idx
		}
	} else {
		vector = vectorindex.NewMemoryIndex()
	}

	var embedder provider.EmbeddingProvider
	if cfg.EmbedEndpoint != "" {
		embedder = provider.NewHTTPEmbedder(cfg.EmbedEndpoint, cfg.EmbeddingDimension, nil)
	}

	var validator provider.LLMValidator
	if cfg.ValidateEndpoint != "" {
		validator = provider.NewCachedValidator(provider.NewHTTPValidator(cfg.ValidateEndpoint, nil), cfg.FrozenValidator)
	}

	events := eventlog.New(db.Writer(), db.Reader())
	facts := factstore.New(db.Writer(), db.Reader(), vector, embedder)
	procedures := procedure.New(db.Writer(), db.Reader(), events)
	tasks := task.New(db.Writer(), db.Reader())
	graph := graphstore.New(driver, db.Writer())
	meta := metastore.New(db.Writer(), db.Reader())

	consolidateCfg := consolidate.ProfileConfig(consolidate.Profile(cfg.ConsolidatorStrategy))
	consolidateCfg.UncertaintySlowThreshold = float32(cfg.UncertaintySlowThreshold)
	consolidateCfg.LLMBudget = cfg.ConsolidatorLLMBudget

	llmLimiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: 1, Burst: consolidateCfg.LLMInFlight})
	engine := consolidate.New(consolidateCfg, events, facts, graph, procedures, meta, embedder, validator, llmLimiter)

	pipelineCfg := writepipeline.DefaultConfig
	pipelineCfg.DedupWindow = time.Duration(cfg.DedupWindowSeconds) * time.Second
	pipeline := writepipeline.New(events, pipelineCfg)

	rt := router.New(map[router.Layer]router.Searcher{
		router.LayerEvent:     router.EventSearcher{Store: events},
		router.LayerFact:      router.FactSearcher{Store: facts},
		router.LayerProcedure: router.ProcedureSearcher{Store: procedures},
		router.LayerTask:      router.TaskSearcher{Store: tasks},
		router.LayerGraph:     router.GraphSearcher{Store: graph},
		router.LayerMeta:      router.MetaSearcher{Store: meta},
	})

	core := &Core{
		cfg:          cfg,
		log:          log,
		DB:           db,
		Neo4j:        driver,
		Vector:       vector,
		Events:       events,
		Facts:        facts,
		Procedures:   procedures,
		Tasks:        tasks,
		Graph:        graph,
		Meta:         meta,
		Pipeline:     pipeline,
		Consolidator: engine,
		Router:       rt,
		RateLimits:   ratelimit.New(ratelimit.DefaultBudgets),
		embedder:     embedder,
		validator:    validator,
	}

	if cfg.NATSURL != "" {
		bus, err := eventbus.Connect(cfg.NATSURL, pipeline, engine, log)
		if err != nil {
			log.Warn("nats unavailable, ingest/consolidation bus disabled", "err", err)
		} else if err := bus.Start(ctx); err != nil {
			log.Warn("nats subscribe failed, ingest/consolidation bus disabled", "err", err)
			bus.Close()
		} else {
			core.Bus = bus
		}
	}

	return core, nil
}

// Close tears down every connection Open acquired.
func (c *Core) Close(ctx context.Context) error {
	var firstErr error
	if c.Bus != nil {
		c.Bus.Close()
	}
	if c.Neo4j != nil {
		if err := c.Neo4j.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if idx, ok := c.Vector.(interface{ Close() error }); ok {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
