package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2beens/lifti/internal/backup"
	"github.com/2beens/lifti/internal/config"
	"github.com/2beens/lifti/internal/drive"
	"github.com/2beens/lifti/internal/logging"
	"github.com/2beens/lifti/internal/metrics"
	"github.com/2beens/lifti/internal/plans"
	"github.com/2beens/lifti/internal/sessions"
	"github.com/2beens/lifti/internal/store"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// lifti google drive sync cmd - pushes the local plans and sessions
// into the Drive appData folder and pulls back remote-only aggregates

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	logsPath := flag.String("logs-path", "", "logs file path (empty for stdout)")
	destroy := flag.Bool("destroy", false, "destroy all remote plan and session files (warning!!)")
	flag.Parse()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	logging.Setup(logging.LoggerSetupParams{
		LogFileName: *logsPath,
		LogToStdout: true,
		LogLevel:    cfg.LogLevel,
		Environment: cfg.Environment,
	})

	log.Println("starting lifti drive sync ...")

	accessToken := os.Getenv("LIFTI_DRIVE_ACCESS_TOKEN")
	if accessToken == "" {
		log.Fatalln("drive access token not set, use LIFTI_DRIVE_ACCESS_TOKEN env var to set it")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("open entity store: %s", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("close entity store: %s", err)
		}
	}()

	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
			Base:   otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	driveClient, err := drive.NewClient(ctx, drive.NewClientParams{
		CallTimeout: time.Duration(cfg.DriveCallTimeoutSeconds) * time.Second,
		ClientOptions: []option.ClientOption{
			option.WithHTTPClient(httpClient),
		},
	})
	if err != nil {
		log.Fatalf("new drive client: %s", err)
	}

	metricsManager := metrics.NewManager("lifti", "drive_sync", metrics.SetupPrometheus())

	service := backup.NewService(backup.NewServiceParams{
		Client:         driveClient,
		LocalPlans:     plans.NewRepo(db),
		LocalSessions:  sessions.NewRepo(db),
		RemotePlans:    plans.NewDriveRepo(driveClient),
		RemoteSessions: sessions.NewDriveRepo(driveClient),
		Meta:           db,
		Metrics:        metricsManager,
	})

	if *destroy {
		log.Warnln("!! attention: destroying all remote files ...")
		deleted, err := service.DestroyAllFiles(ctx)
		if err != nil {
			log.Fatalf("destroy failed: %s", err)
		}
		log.Printf("destroy done, %d files deleted", deleted)
		return
	}

	if _, err := service.DoSync(ctx); err != nil {
		log.Fatalf("drive sync failed: %s", err)
	}
}
