package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/twinlens/twinlens/backend/reaper"
	"github.com/twinlens/twinlens/backend/registry"
	httpServer "github.com/twinlens/twinlens/backend/server/http"
	websocketServer "github.com/twinlens/twinlens/backend/server/websocket"
	"github.com/twinlens/twinlens/backend/service"
	"github.com/twinlens/twinlens/backend/stitch"
	"github.com/twinlens/twinlens/backend/switchboard"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr  = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr   = fs.StringP("ws-listen-addr", "w", ":8888", "websocket signaling listen address")
		logLevel       = fs.StringP("log-level", "l", "debug", "log level")
		mediaDir       = fs.String("media-dir", "./media", "directory for composed images")
		publicBaseURL  = fs.String("public-base-url", "http://localhost:8080", "public base url for composed image links")
		reaperInterval = fs.Duration("reaper-interval", reaper.DefaultInterval, "stale room sweep interval")
		roomMaxAge     = fs.Duration("room-max-age", reaper.DefaultMaxAge, "maximum room age before eviction")
		pongWait       = fs.Duration("pong-wait", 0, "websocket idle bound (0 for default)")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	rooms := registry.New()
	svc := service.NewService(service.Config{
		Rooms: rooms,
		Router: switchboard.New(switchboard.Config{
			Logger: &logger,
			Rooms:  rooms,
		}),
		Logger: &logger,
	})

	mediaStore, err := stitch.NewFSStore(*mediaDir, *publicBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init media store")
	}
	stitcher := stitch.NewService(stitch.Config{
		Logger: &logger,
		Store:  mediaStore,
	})

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Rooms:      rooms,
		Stitcher:   stitcher,
		MediaDir:   mediaStore.Dir(),
		ListenAddr: *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:           &logger,
		SignalingService: svc,
		ListenAddr:       *wsListenAddr,
		PongWait:         *pongWait,
	})
	sweeper := reaper.New(reaper.Config{
		Logger:   &logger,
		Rooms:    rooms,
		Interval: *reaperInterval,
		MaxAge:   *roomMaxAge,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)
	go sweeper.Run(ctx, wg)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
