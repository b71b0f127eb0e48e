package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/ggg436/greenloops/feed-sync/config"
	"github.com/ggg436/greenloops/feed-sync/internal/adapters/secondary/eventbroker"
	"github.com/ggg436/greenloops/feed-sync/internal/adapters/secondary/livefeed"
	"github.com/ggg436/greenloops/feed-sync/internal/adapters/secondary/memory"
	"github.com/ggg436/greenloops/feed-sync/internal/adapters/secondary/repository"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

// backends are the driven adapters the engine runs on.
type backends struct {
	posts    ports.PostStore
	scanner  ports.PostScanner
	profiles ports.ProfileStore
	graph    ports.FollowGraph

	// nc is nil in the in-memory mode.
	nc      *nats.Conn
	closers []func()
}

func (b *backends) Close() {
	for _, c := range slices.Backward(b.closers) {
		c()
	}
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	if cfg.InMemory() {
		store := memory.New()
		slog.Info("Running on the in-memory store")
		return &backends{posts: store, scanner: store, profiles: store, graph: store}, nil
	}

	b := &backends{}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	// 1. Postgres (posts, comments, reports)
	dbConfig, err := pgxpool.ParseConfig(cfg.DBUrl)
	if err != nil {
		return nil, fmt.Errorf("parse DB config: %w", err)
	}
	dbConfig.ConnConfig.Tracer = otelpgx.NewTracer()
	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	b.closers = append(b.closers, dbPool.Close)
	postRepo := repository.NewPostgresRepo(dbPool)
	if err := postRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure post schema: %w", err)
	}
	slog.Info("✅ Connected to Postgres")

	// 2. Redis (profiles)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	b.closers = append(b.closers, func() { _ = rdb.Close() })
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, fmt.Errorf("instrument redis: %w", err)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	profileRepo := repository.NewRedisProfileRepo(rdb)
	slog.Info("✅ Connected to Redis")

	// 3. Neo4j (follow relations)
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	b.closers = append(b.closers, func() { _ = driver.Close(context.Background()) })
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connect to neo4j: %w", err)
	}
	graphRepo := repository.NewNeo4jRepo(driver)
	if err := graphRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure graph schema: %w", err)
	}
	slog.Info("✅ Connected to Neo4j")

	// 4. NATS (change notifications)
	nc, err := nats.Connect(cfg.NatsUrl)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	b.closers = append(b.closers, nc.Close)
	slog.Info("✅ Connected to NATS")

	channel := livefeed.NewPostChannel(postRepo, eventbroker.NewNatsBroker(nc))
	b.posts = channel
	b.scanner = channel
	b.profiles = profileRepo
	b.graph = livefeed.NewFollowGraph(graphRepo, profileRepo)
	b.nc = nc

	ok = true
	return b, nil
}
