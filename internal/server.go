package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/lifti/internal/config"
	"github.com/2beens/lifti/internal/exercises"
	"github.com/2beens/lifti/internal/metrics"
	"github.com/2beens/lifti/internal/middleware"
	"github.com/2beens/lifti/internal/plans"
	"github.com/2beens/lifti/internal/sessions"
	"github.com/2beens/lifti/internal/store"
	"github.com/2beens/lifti/internal/telemetry/tracing"
	"github.com/2beens/lifti/pkg"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	apiSecret         string // shared secret checked by the auth middleware
	versionInfo       string

	config *config.Config
	db     *store.DB

	exercisesRepo *exercises.CachedRepo
	plansRepo     *plans.Repo
	sessionsRepo  *sessions.Repo

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	APISecret               string
	VersionInfo             string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	db, err := store.Open(ctx, params.Config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open entity store: %w", err)
	}

	promRegistry := metrics.SetupPrometheus()
	metricsManager := metrics.NewManager("lifti", "backend", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0) // will be set to 1 when all is set and ran

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "lifti-backend")
	if err != nil {
		return nil, err
	}

	exercisesRepo := exercises.NewRepo(db)
	if params.Config.CatalogSeedPath != "" {
		seeded, err := exercisesRepo.SeedFromFile(ctx, params.Config.CatalogSeedPath)
		if err != nil {
			return nil, fmt.Errorf("seed exercise catalog: %w", err)
		}
		log.Debugf("exercise catalog seeded, %d new exercises", seeded)
	}

	return &Server{
		config:      params.Config,
		db:          db,
		apiSecret:   params.APISecret,
		versionInfo: params.VersionInfo,

		exercisesRepo: exercises.NewCachedRepo(exercisesRepo),
		plansRepo:     plans.NewRepo(db),
		sessionsRepo:  sessions.NewRepo(db),

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("lifti-router"))

	exercisesHandler := exercises.NewHandler(s.exercisesRepo)
	r.HandleFunc("/exercises", exercisesHandler.HandleList).Methods("GET", "OPTIONS").Name("list-exercises")
	r.HandleFunc("/exercises/options", exercisesHandler.HandleGetOptions).Methods("GET", "OPTIONS").Name("exercise-options")
	r.HandleFunc("/exercises/{id}", exercisesHandler.HandleGet).Methods("GET", "OPTIONS").Name("get-exercise")

	plansHandler := plans.NewHandler(
		s.plansRepo,
		plans.NewProjector(s.exercisesRepo),
		s.metricsManager,
	)
	r.HandleFunc("/plans", plansHandler.HandleList).Methods("GET", "OPTIONS").Name("list-plans")
	r.HandleFunc("/plans", plansHandler.HandleUpsert).Methods("POST", "OPTIONS").Name("upsert-plan")
	r.HandleFunc("/plans/{id}", plansHandler.HandleGet).Methods("GET", "OPTIONS").Name("get-plan")
	r.HandleFunc("/plans/{id}", plansHandler.HandleDelete).Methods("DELETE", "OPTIONS").Name("delete-plan")

	sessionsHandler := sessions.NewHandler(s.sessionsRepo, s.plansRepo, s.metricsManager)
	r.HandleFunc("/sessions/start", sessionsHandler.HandleStart).Methods("POST", "OPTIONS").Name("start-session")
	r.HandleFunc("/sessions", sessionsHandler.HandleList).Methods("GET", "OPTIONS").Name("list-sessions")
	r.HandleFunc("/sessions/{id}", sessionsHandler.HandleGet).Methods("GET", "OPTIONS").Name("get-session")
	r.HandleFunc("/sessions/{id}", sessionsHandler.HandleUpdate).Methods("PUT", "OPTIONS").Name("update-session")
	r.HandleFunc("/sessions/{id}", sessionsHandler.HandleDelete).Methods("DELETE", "OPTIONS").Name("delete-session")
	r.HandleFunc("/sessions/{id}/finish", sessionsHandler.HandleFinish).Methods("POST", "OPTIONS").Name("finish-session")

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		pkg.WriteResponse(w, pkg.ContentType.Text, "ok")
	}).Methods("GET").Name("health")
	r.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		pkg.WriteResponse(w, pkg.ContentType.Text, s.versionInfo)
	}).Methods("GET").Name("version")

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.apiSecret)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors())
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) Serve(_ context.Context, host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("lifti service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Errorf("failed to close entity store: %s", err)
		}
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown http server")
	}
	log.Warnln("server shut down")

	if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown metrics http server")
	}
	log.Warnln("metrics server shut down")
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
