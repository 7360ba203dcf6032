package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sidra.tn/internal/grant"
	"sidra.tn/internal/httpapi"
	"sidra.tn/internal/obs"
	"sidra.tn/internal/patient"
	"sidra.tn/internal/realtime"
	"sidra.tn/internal/sequence"
	"sidra.tn/internal/store/pg"

	"sidra.tn/internal/auth"
)

var version = "1.0.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("SIDRA_COMMIT"))

	// Postgres when a DSN is given, in-memory stores otherwise. The
	// memory fallback keeps local development free of infrastructure.
	var (
		pgStore      *pg.Store
		patientStore patient.Store
		grantStore   grant.Store
		counters     sequence.CounterStore
		probe        httpapi.ReadyProbe
	)
	if dsn := os.Getenv("SIDRA_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		patientStore = pgStore.Patients()
		grantStore = pgStore.Grants()
		counters = pgStore.Counters()
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Print("SIDRA_PG_DSN not set, using in-memory stores")
		patientStore = patient.NewInMemory()
		grantStore = grant.NewInMemory()
		counters = sequence.NewInMemoryCounters()
	}

	checker, err := grant.NewChecker(grantStore, time.Now)
	if err != nil {
		log.Fatalf("grant checker: %v", err)
	}
	engine, err := auth.NewEngine(checker)
	if err != nil {
		log.Fatalf("auth engine: %v", err)
	}
	alloc, err := sequence.NewAllocator(counters)
	if err != nil {
		log.Fatalf("sequence allocator: %v", err)
	}

	hub := realtime.NewHub(realtime.NewAuthenticator(nil))
	svc, err := patient.NewService(patientStore, engine, checker, alloc,
		patient.WithNotifier(realtime.NewFederationNotifier(hub)))
	if err != nil {
		log.Fatalf("patient service: %v", err)
	}

	api := httpapi.New(probe, version,
		httpapi.WithPatientService(svc),
		httpapi.WithGrantStore(grantStore),
		httpapi.WithHub(hub),
		httpapi.WithDevTokens(os.Getenv("SIDRA_DEV_TOKENS") == "1"),
	)

	handler := httpapi.RequestID(
		httpapi.Logging(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), 50, 25),
						1<<20)))))

	addr := os.Getenv("SIDRA_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /v1/stream holds connections open.
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	grpcSrv := httpapi.NewGRPCServer(probe)
	grpcAddr := os.Getenv("SIDRA_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = ":9090"
	}
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		log.Printf("grpc health on %s", grpcAddr)
		if err := grpcSrv.Serve(ctx, lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	log.Printf("starting sidra-api %s on %s", version, srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Print("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Print("stopped")
}
