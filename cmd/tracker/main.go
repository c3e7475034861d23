package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/caltopo"
	"github.com/aaron-iles/ultra-tracker/internal/config"
	"github.com/aaron-iles/ultra-tracker/internal/course"
	"github.com/aaron-iles/ultra-tracker/internal/db"
	"github.com/aaron-iles/ultra-tracker/internal/geo"
	"github.com/aaron-iles/ultra-tracker/internal/race"
	"github.com/aaron-iles/ultra-tracker/internal/server"
	"github.com/aaron-iles/ultra-tracker/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jasonlvhit/gocron"
	"github.com/peterbourgon/ff"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	parseFlags      func(config.Config, []string) config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		parseFlags:      parseFlags,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

// parseFlags layers command line flags over the environment config. Each
// flag also resolves from its SCREAMING_SNAKE environment variable via ff.
func parseFlags(cfg config.Config, args []string) config.Config {
	fs := flag.NewFlagSet("tracker", flag.ExitOnError)
	var (
		raceConfig     = fs.String("race-config", cfg.RaceConfigPath, "path to the race YAML file")
		updateMarkers  = fs.Bool("update-markers", cfg.UpdateMarkers, "move the runner marker on the map as fixes arrive")
		caltopoSession = fs.String("caltopo-session", cfg.CaltopoSession, "CalTopo session cookie")
		serverPort     = fs.String("server-port", cfg.ServerPort, "listen address")
	)
	_ = ff.Parse(fs, args, ff.WithEnvVarNoPrefix())

	cfg.RaceConfigPath = *raceConfig
	cfg.UpdateMarkers = *updateMarkers
	cfg.CaltopoSession = *caltopoSession
	cfg.ServerPort = *serverPort
	return cfg
}

func realMain(deps mainDeps) {
	cfg := deps.parseFlags(deps.loadConfig(), os.Args[1:])

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed: %v", err)
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, signals, nil); err != nil {
		log.Printf("tracker exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

var newCaltopoClient = caltopo.NewClient

// checkpointIntervalSeconds is how often race state is saved outside the
// ping path.
const checkpointIntervalSeconds = 60

// Run builds the course and race from the CalTopo map, restores any saved
// state, and serves until a termination signal arrives.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	rc, err := config.LoadRaceConfig(cfg.RaceConfigPath)
	if err != nil {
		return err
	}

	client := newCaltopoClient(rc.MapID, cfg.CaltopoSession)
	features, err := client.MapFeatures()
	if err != nil {
		return err
	}

	defs := make([]course.AidStationDef, len(rc.AidStations))
	for i, as := range rc.AidStations {
		defs[i] = course.AidStationDef{Name: as.Name, MileMark: as.MileMark, Comments: as.Comments}
	}

	crs, err := course.NewCourse(features, rc.RouteName, defs, rc.MinPointSpacing, rc.MaxPointSpacing, client, rc.Location())
	if err != nil {
		return err
	}
	log.Printf("course %q built: %.1f mi, %d elements", rc.RouteName, crs.Route.Length, len(crs.Elements))

	var store race.Store
	if pg != nil {
		store = race.NewPostgresStore(pg)
	}

	runner := race.NewRunner(crs, rc.Start(), rc.PaceFloor)
	if cfg.UpdateMarkers {
		worker := caltopo.NewPostWorker(10, 64)
		defer worker.Stop()

		at := geo.Point{Lat: rc.StartLocation.Latitude, Lon: rc.StartLocation.Longitude}
		if at.IsZero() {
			at = crs.Route.Start()
		}
		markerID, err := client.GetOrCreateMarker(features, rc.RunnerMarkerName, at)
		if err != nil {
			log.Printf("runner marker unavailable, updates disabled: %v", err)
		} else {
			runner.SetMarkerUpdater(caltopo.NewMarkerUpdater(client, worker, markerID, rc.RunnerMarkerName), true)
		}
	}

	hub := stream.NewHub(rdb)
	ra := race.NewRace(rc.Name, crs, rc.Start(), runner, store, hub, "https://caltopo.com/m/"+rc.MapID)

	restoreCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ra.Restore(restoreCtx); err != nil {
		log.Printf("state restore failed, starting fresh: %v", err)
	}
	cancel()

	sched := gocron.NewScheduler()
	sched.Every(checkpointIntervalSeconds).Seconds().Do(ra.Checkpoint)
	go sched.Start()
	defer sched.Clear()

	srv := server.NewServer(cfg, ra, hub)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	ra.Checkpoint()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
