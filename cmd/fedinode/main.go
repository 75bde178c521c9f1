package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/cloudillo/federation/client"
	"github.com/cloudillo/federation/internal/config"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/internal/infra/blob"
	"github.com/cloudillo/federation/internal/infra/database"
	"github.com/cloudillo/federation/internal/infra/gateway"
	"github.com/cloudillo/federation/internal/infra/repository"
	"github.com/cloudillo/federation/internal/present/rest"
	"github.com/cloudillo/federation/internal/present/rest/middleware"
	"github.com/cloudillo/federation/internal/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the node configuration")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		cleanup, err := setupTraceProvider(ctx, conf)
		if err != nil {
			slog.Error("failed to set up tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer cleanup()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		panic("failed to connect database")
	}
	if err := database.MigratePostgres(db); err != nil {
		panic("failed to migrate database")
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, conf.Server.RedisPassword, conf.Server.RedisDB)

	var mc *memcache.Client
	if conf.Server.MemcachedAddr != "" {
		mc = database.NewMemcached(conf.Server.MemcachedAddr)
	}

	blobs, err := blob.NewFileStore(conf.Server.BlobPath)
	if err != nil {
		panic("failed to open blob store")
	}

	actionRepo := repository.NewActionRepository(db)
	profileRepo := repository.NewProfileRepository(db, mc)
	tenantRepo := repository.NewTenantRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)

	if err := bootstrapNodeKey(ctx, tenantRepo, conf.Node); err != nil {
		slog.Error("failed to register node key", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cl := client.New(conf.Node.UserAgent)
	signalService := service.NewSignalService(rdb)
	queue := gateway.NewDeliveryQueue(rdb)

	engine := service.NewEngine(service.EngineDeps{
		Node:     conf.Node,
		Client:   cl,
		Actions:  actionRepo,
		Profiles: profileRepo,
		Tenants:  tenantRepo,
		Blobs:    blobs,
		Meta:     attachmentRepo,
		Queue:    queue,
		Signal:   signalService,
	})

	worker := gateway.NewDeliveryWorker(queue, cl)
	go worker.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware(conf.Node.IDTag))
	}

	authMiddleware := middleware.NewAuthMiddleware(engine.Auth)
	e.Use(authMiddleware.IdentifyRequester)

	handler := rest.NewHandler(
		conf.Node,
		engine.Inbound,
		engine.Outbound,
		engine.Auth,
		tenantRepo,
		actionRepo,
		blobs,
		attachmentRepo,
		signalService,
	)
	handler.RegisterRoutes(e)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.Shutdown(shutdownCtx)
	}()

	e.Logger.Fatal(e.Start(conf.Server.Listen))
}

// bootstrapNodeKey registers the configured node key as a tenant signing
// key. StoreKey is a no-op when the key is already known.
func bootstrapNodeKey(ctx context.Context, tenants *repository.TenantRepository, node config.Node) error {
	return tenants.StoreKey(ctx, domain.TenantKey{
		Tenant:     node.IDTag,
		KeyID:      node.KeyID,
		PublicKey:  node.PublicKey,
		PrivateKey: node.PrivateKey,
	})
}

func setupTraceProvider(ctx context.Context, conf config.Config) (func(), error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(conf.Server.TraceEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("fedinode"),
		semconv.ServiceInstanceID(conf.Node.IDTag),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}, nil
}
