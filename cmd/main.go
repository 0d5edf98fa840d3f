package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Drivers
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	// Interne
	"github.com/jupiterclapton/cercle/config"
	"github.com/jupiterclapton/cercle/internal/adapters/primary/events"
	"github.com/jupiterclapton/cercle/internal/adapters/primary/rpc"
	"github.com/jupiterclapton/cercle/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/cercle/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/cercle/internal/adapters/secondary/unreadcache"
	"github.com/jupiterclapton/cercle/internal/core/services"
)

func main() {
	// 1. Charger la Config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Initialiser le Logger (slog JSON pour la prod, Text pour le dev)
	initLogger(cfg)
	slog.Info("🚀 Starting Cercle Core", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialiser le Tracing (OpenTelemetry)
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				slog.Error("Error shutting down tracer", "error", err)
			}
		}()
	}

	// 4. Infrastructure : Postgres (comptes + ledger de conversations)
	dbConfig, err := pgxpool.ParseConfig(cfg.DBUrl)
	if err != nil {
		slog.Error("Unable to parse DB config", "error", err)
		os.Exit(1)
	}
	// On injecte le tracer OpenTelemetry : chaque requête SQL devient un span
	dbConfig.ConnConfig.Tracer = otelpgx.NewTracer()

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		slog.Error("Unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Vérification connectivité immédiate (Fail Fast)
	if err := dbPool.Ping(ctx); err != nil {
		slog.Error("Database ping failed", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Database connected")

	// 5. Infrastructure : Neo4j (graphe relationnel)
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		slog.Error("Failed to create neo4j driver", "error", err)
		os.Exit(1)
	}
	defer driver.Close(context.Background())

	connCtx, connCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connCancel()
	if err := driver.VerifyConnectivity(connCtx); err != nil {
		slog.Error("Failed to connect to Neo4j", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Neo4j")

	// 6. Infrastructure : Redis (cache des compteurs non-lus)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		slog.Warn("Redis tracing instrumentation failed", "error", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("✅ Redis connected")

	// 7. Infrastructure : NATS JetStream (events in & out)
	// Une seule connexion, partagée entre le publisher et le consumer.
	nc, err := nats.Connect(cfg.NatsUrl)
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	broker, err := eventbroker.NewNatsBrokerWithConn(nc)
	if err != nil {
		slog.Error("Failed to init JetStream", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ NATS JetStream connected")

	// 8. Wiring (Injection de dépendances) - Adapters -> Services
	accountRepo := repository.NewPostgresAccountRepo(dbPool)
	convRepo := repository.NewPostgresConversationRepo(dbPool)
	graphRepo := repository.NewNeo4jGraphRepo(driver)
	unreadCache := unreadcache.NewRedisUnreadCache(redisClient)

	// Init Schema (tables, contraintes, index) — idempotent
	for name, ensure := range map[string]func(context.Context) error{
		"accounts":      accountRepo.EnsureSchema,
		"conversations": convRepo.EnsureSchema,
		"graph":         graphRepo.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			slog.Error("Schema init failed", "schema", name, "error", err)
			os.Exit(1)
		}
	}

	resolver := services.NewIdentityResolver(accountRepo)
	relationshipService := services.NewRelationshipService(resolver, graphRepo, broker)
	conversationService := services.NewConversationService(resolver, convRepo, graphRepo, unreadCache, broker, cfg.MaxMessageRunes)

	// 9. Adapters Primaires : consumer des events d'identité + API request-reply
	// Le consumer est l'unique chemin de provisioning des comptes en production.
	handler := events.NewEventHandler(resolver)
	sub, err := nc.QueueSubscribe(events.SubjectUserRegistered, cfg.ServiceName, handler.HandleUserRegistered)
	if err != nil {
		slog.Error("Failed to subscribe", "subject", events.SubjectUserRegistered, "error", err)
		os.Exit(1)
	}
	slog.Info("📢 Listening for identity events", "subject", events.SubjectUserRegistered)

	rpcServer := rpc.NewServer(relationshipService, conversationService)
	if err := rpcServer.Register(nc, cfg.ServiceName); err != nil {
		slog.Error("Failed to register rpc handlers", "error", err)
		os.Exit(1)
	}
	slog.Info("🚀 RPC API ready", "subjects", "rpc.relation.>, rpc.chat.>")

	// 10. Graceful Shutdown (Attente des signaux OS)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	sig := <-quit // Bloquant
	slog.Info("⚠️  Signal received, shutting down...", "signal", sig)

	// On draine les subscriptions : les requêtes en vol finissent d'être traitées
	rpcServer.Drain()
	if err := sub.Drain(); err != nil {
		slog.Warn("Subscription drain failed", "error", err)
	}

	slog.Info("👋 Service stopped")
}

// --- HELPERS ---

func initLogger(cfg *config.Config) {
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	// Exporteur OTLP (gRPC)
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(), // En prod, gérez le TLS
	)
	if err != nil {
		return nil, err
	}

	// Ressource (Nom du service, version...)
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	// Propagateur global : le trace-id circule entre les services via NATS
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
