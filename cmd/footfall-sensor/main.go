// Command footfall-sensor captures frames, tracks people in them and
// streams the detections to a footfall host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/banshee-data/footfall/internal/config"
	"github.com/banshee-data/footfall/internal/detect"
	"github.com/banshee-data/footfall/internal/pipeline"
	"github.com/banshee-data/footfall/internal/version"
	"github.com/banshee-data/footfall/internal/video"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("footfall-sensor: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("footfall-sensor", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (optional)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String("footfall-sensor"))
		return nil
	}

	cfg, err := config.Load(config.RoleSensor, *configPath)
	if err != nil {
		return err
	}
	log.Printf("%s starting", version.String("footfall-sensor"))

	ep, err := cfg.Transport.Endpoint()
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	src, err := video.Open(cfg.Video.Source, cfg.Video.Device, cfg.Video.Width, cfg.Video.Height, cfg.Video.FPS, nil)
	if err != nil {
		return fmt.Errorf("video: %w", err)
	}
	det := detect.NewSynthetic(cfg.Detector.People, cfg.Detector.Seed)

	sensor, err := pipeline.NewSensor(cfg, src, det, ep, nil)
	if err != nil {
		_ = src.Close()
		return err
	}
	if err := sensor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Print("footfall-sensor stopped")
	return nil
}
