package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "thermocycler/docs"
	"thermocycler/internal/config"
	"thermocycler/internal/control"
	"thermocycler/internal/device"
	"thermocycler/internal/handlers"
	"thermocycler/internal/logger"
	"thermocycler/internal/models"
	"thermocycler/internal/repository"
	"thermocycler/internal/repository/db"
	"thermocycler/internal/server"
	"thermocycler/internal/service"
	"thermocycler/internal/telemetry"
)

const (
	simEmitPeriod   = 250 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

// @title                       Thermocycler API
// @version                     1.0
// @description                 Runs PCR protocols on the front and back peltiers and streams telemetry.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	log := logger.Get(logger.InfoLevel)

	cfg, err := config.Load("configs")
	if err != nil {
		log.Fatalw("error reading config", "err", err)
	}
	log.SetLevel(cfg.Log.Level)
	if cfg.Auth.SigningKey == "" {
		log.Warnw("auth.signing_key is empty; sign-in will fail until THERMO_AUTH_SIGNING_KEY is set")
	}

	conn, err := openDB(cfg, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()
	repos := repository.NewRepository(conn)

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port, err := openDevice(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to open device", "mode", cfg.Device.Mode, "err", err)
	}
	writer := device.NewWriter(port, log.Component("device"))

	scheme, _ := telemetry.ParseScheme(cfg.Device.Scheme)
	table := telemetry.NewTable()
	router, err := telemetry.NewRouter(scheme, table, telemetry.WithLogger(log.Component("telemetry")))
	if err != nil {
		log.Fatalw("failed to build telemetry router", "err", err)
	}

	sink, csv, err := buildSink(cfg, repos)
	if err != nil {
		log.Fatalw("failed to open sample log", "dir", cfg.Log.Dir, "err", err)
	}
	engine, err := buildEngine(cfg, writer, table, sink, log)
	if err != nil {
		log.Fatalw("failed to build controllers", "err", err)
	}

	services := service.NewService(repos, service.Deps{
		Engine:      engine,
		Table:       table,
		Router:      router,
		Sender:      writer,
		Clock:       control.SystemClock{},
		Tick:        cfg.Control.Tick,
		Calibration: cfg.ProtocolCalibration(),
		BoardFrames: cfg.Device.BoardFrames,
		Auth:        service.AuthConfig{SigningKey: cfg.Auth.SigningKey, TokenTTL: cfg.Auth.TokenTTL},
		Log:         log,
	})
	apiHandler := handlers.NewHandler(services, log)

	go readTelemetry(ctx, port, router, engine, writer, log)

	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	waitForShutdown(cancel, srv, log)

	engine.Shutdown()
	writer.Close()
	if err := port.Close(); err != nil {
		log.Warnw("device_close_failed", "err", err)
	}
	if csv != nil {
		if err := csv.Close(); err != nil {
			log.Warnw("sample_log_close_failed", "err", err)
		}
	}
}

// openDB initializes the SQLite database using configuration.
func openDB(cfg config.Config, log *logger.Logger) (*sql.DB, error) {
	log.Infow("opening database", "path", cfg.DB.Path)
	return db.InitDB(cfg.DB.Path)
}

// openDevice opens the serial port, or starts the simulated board when
// device.mode is sim.
func openDevice(ctx context.Context, cfg config.Config, log *logger.Logger) (device.Port, error) {
	if cfg.Device.Mode == config.ModeSerial {
		log.Infow("opening serial port", "port", cfg.Device.Port, "baud", cfg.Device.Baud)
		return device.OpenSerial(cfg.SerialConfig())
	}
	scheme, _ := telemetry.ParseScheme(cfg.Device.Scheme)
	sim := device.NewSimulator(device.SimConfig{
		Scheme:    scheme,
		Commands:  cfg.CommandSets(),
		TimeScale: cfg.Device.TimeScale,
		Log:       log.Component("sim"),
	})
	log.Infow("running against simulated board", "scheme", scheme, "time_scale", cfg.Device.TimeScale)
	go sim.Run(ctx, simEmitPeriod)
	return sim, nil
}

// buildSink logs samples to sqlite and, when log.dir is set, to per-run CSV
// files. The CSV sink is returned separately so main can close it.
func buildSink(cfg config.Config, repos *repository.Repository) (control.Sink, *control.CSVSink, error) {
	sinks := control.MultiSink{repos.SampleRepo}
	if cfg.Log.Dir == "" {
		return sinks, nil, nil
	}
	csv, err := control.NewCSVSink(cfg.Log.Dir)
	if err != nil {
		return nil, nil, err
	}
	return append(sinks, csv), csv, nil
}

func buildEngine(cfg config.Config, sender control.Sender, table *telemetry.Table, sink control.Sink, log *logger.Logger) (*control.Engine, error) {
	onComplete, err := control.ParseOnComplete(cfg.Control.OnComplete)
	if err != nil {
		return nil, err
	}
	average, err := cfg.AverageChannels()
	if err != nil {
		return nil, err
	}
	sets := cfg.CommandSets()

	var ctrls []*control.Controller
	for _, ch := range []models.ChannelID{models.Front, models.Back} {
		c, err := control.NewController(control.ControllerConfig{
			Channel:    ch,
			Commands:   sets[ch],
			Tick:       cfg.Control.Tick,
			Average:    average,
			OnComplete: onComplete,
			StaleAfter: cfg.Control.StaleAfter,
			Sender:     sender,
			Readings:   table,
			Sink:       sink,
			Log:        log.Component("control"),
		})
		if err != nil {
			return nil, err
		}
		ctrls = append(ctrls, c)
	}
	return control.NewEngine(log.Component("engine"), ctrls...), nil
}

// readTelemetry feeds the table until shutdown. A lost link fails every
// running controller and refuses further writes.
func readTelemetry(ctx context.Context, port device.Port, router *telemetry.Router, engine *control.Engine, writer *device.Writer, log *logger.Logger) {
	err := telemetry.NewReader(port, router, log.Component("telemetry")).Run(ctx)
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, telemetry.ErrLinkLost) {
		log.Errorw("device_link_lost", "err", err)
		engine.Fail(err)
		writer.Close()
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
	log.Infow("http server started", "port", port)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops background
// goroutines and drains in-flight requests.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
