// Command footfall-host receives detection frames from a sensor, keeps
// the footfall heatmaps and serves the composited output over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/banshee-data/footfall/internal/api"
	"github.com/banshee-data/footfall/internal/config"
	"github.com/banshee-data/footfall/internal/pipeline"
	"github.com/banshee-data/footfall/internal/transport"
	"github.com/banshee-data/footfall/internal/version"
	"github.com/banshee-data/footfall/internal/video"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("footfall-host: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("footfall-host", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (optional)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	noVideo := fs.Bool("no-video", false, "Render the heat overlay on a blank canvas instead of captured frames")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String("footfall-host"))
		return nil
	}

	cfg, err := config.Load(config.RoleHost, *configPath)
	if err != nil {
		return err
	}
	log.Printf("%s starting", version.String("footfall-host"))

	ep, err := cfg.Transport.Endpoint()
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	// release undoes startup until the host's Run takes over closing.
	release := func() {}
	defer func() { release() }()

	// Bind now so a port clash fails at startup rather than in the
	// reconnect loop.
	if l, ok := ep.(*transport.TCPListener); ok {
		if err := l.Bind(ctx); err != nil {
			return err
		}
		log.Printf("waiting for sensor on %s", l.ListenAddr())
		release = func() { _ = l.Close() }
	}

	var src video.Source
	if !*noVideo {
		src, err = video.Open(cfg.Video.Source, cfg.Video.Device, cfg.Video.Width, cfg.Video.Height, cfg.Video.FPS, nil)
		if err != nil {
			return fmt.Errorf("video: %w", err)
		}
		closeEndpoint := release
		release = func() {
			_ = src.Close()
			closeEndpoint()
		}
	}

	host, err := pipeline.NewHost(cfg, src, ep, nil)
	if err != nil {
		return err
	}
	// The host owns the endpoint and the video source from here on.
	release = host.Close

	if cfg.HTTP.Listen != "" {
		ln, err := net.Listen("tcp", cfg.HTTP.Listen)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		srv := api.NewServer(host)
		host.Coordinator.Add(srv.Hub())
		host.Coordinator.Add(&api.Service{
			Server:          &http.Server{Handler: api.LoggingMiddleware(srv.ServeMux())},
			Listener:        ln,
			ShutdownTimeout: cfg.Shutdown.Timeout,
		})
	}

	release = func() {}
	if err := host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Print("footfall-host stopped")
	return nil
}
