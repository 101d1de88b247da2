package main

import (
	"log"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"packetwatch/internal/config"
	"packetwatch/internal/db"
	"packetwatch/internal/dispatch"
	"packetwatch/internal/http/handlers"
	appmw "packetwatch/internal/http/middleware"
	"packetwatch/internal/metrics"
	"packetwatch/internal/objstore"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	if err := db.EnsureBootstrapAccount(sqlDB, cfg); err != nil {
		log.Fatalf("failed to ensure bootstrap account: %v", err)
	}

	rawStore, err := objstore.NewS3Store(cfg)
	if err != nil {
		log.Fatalf("failed to initialize object store: %v", err)
	}

	metrics.Init()

	store := &dispatch.GormStore{DB: sqlDB}
	disp := dispatch.New(store, dispatch.Options{
		Workers:            cfg.DispatchWorkers,
		QueueCap:           cfg.DispatchQueueCap,
		Timeout:            cfg.DispatchTimeout,
		UnhealthyThreshold: cfg.UnhealthyThreshold,
	})
	disp.Start()

	dispatch.NewHealthChecker(store, cfg.HealthCheckInterval, cfg.HealthCheckTimeout).Start()

	db.StartRetentionWorker(sqlDB, cfg.DispatchRetentionDays)

	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", handlers.MetricsHandler())

	ingestAuth := appmw.BearerAuth(cfg.IngestToken)
	r.POST("/v1/ingest", ingestAuth(handlers.IngestHandler(sqlDB, rawStore, disp, cfg)))
	r.POST("/v1/handshake", ingestAuth(handlers.HandshakeHandler(sqlDB)))

	adminAuth := appmw.AdminAuth(sqlDB)
	r.POST("/v1/servers/{server_id}/modules", adminAuth(handlers.RegisterModule(sqlDB)))
	r.GET("/v1/servers/{server_id}/modules", adminAuth(handlers.ListModules(sqlDB)))
	r.POST("/v1/servers/{server_id}/link", adminAuth(handlers.LinkServerHandler(sqlDB)))

	callbackAuth := appmw.BearerAuth(cfg.CallbackToken)
	r.POST("/v1/callbacks/findings", callbackAuth(handlers.FindingsCallback(sqlDB)))
	r.POST("/v1/callbacks/player-states/batch-get", callbackAuth(handlers.StateBatchGet(sqlDB)))
	r.POST("/v1/callbacks/player-states/batch-set", callbackAuth(handlers.StateBatchSet(sqlDB)))
	r.POST("/v1/callbacks/global-state/get", callbackAuth(handlers.GlobalStateGet(sqlDB)))
	r.POST("/v1/callbacks/global-state/set", callbackAuth(handlers.GlobalStateSet(sqlDB)))

	handler := handlers.RequestLogger(r.Handler)

	log.Printf("packetwatch listening on %s", cfg.ListenAddr)
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
