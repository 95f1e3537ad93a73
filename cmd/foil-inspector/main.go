package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"foil-inspector/internal/app"
	"foil-inspector/internal/config"
)

func main() {
	var opts app.Options
	flag.StringVar(&opts.ConfigPath, "config", "", "YAML configuration file")
	flag.StringVar(&opts.MaskDir, "mask-dir", "", "folder holding one mask per scan, same file names")
	flag.StringVar(&opts.OutputDir, "out", "Output", "output folder")
	flag.StringVar(&opts.Name, "name", "foil", "name of the run, used as output sub-folder and report title")
	flag.Float64Var(&opts.Resolution, "res", 0, "pixel area in square microns (overrides the configuration)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error")
	flag.BoolVar(&opts.LogJSON, "log-json", false, "log JSON lines instead of console output")
	flag.StringVar(&opts.LogBackend, "log-backend", "", "JSON log backend: zerolog or logrus (overrides the configuration)")
	flag.IntVar(&opts.Workers, "workers", 0, "scans analyzed in parallel (overrides the configuration)")
	flag.BoolVar(&opts.KeepPoster, "poster", false, "also write the quantized poster of every scan")
	flag.BoolVar(&opts.PosterOnly, "poster-only", false, "only build and write the shading posters")
	flag.BoolVar(&opts.NoMaps, "no-maps", false, "skip writing platinum and dirt maps")
	flag.BoolVar(&opts.Standards, "standards", false, "treat inputs as standard folders and score them against their reference maps")
	writeConfig := flag.String("write-config", "", "write the default configuration to this path and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] scan-or-folder...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *writeConfig != "" {
		if err := config.SaveConfig(config.DefaultConfig(), *writeConfig); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		return
	}

	opts.Inputs = flag.Args()
	if len(opts.Inputs) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	application, err := app.NewApplication(opts)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	runErr := application.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		log.Printf("Shutdown incomplete: %v", err)
	}

	if runErr != nil {
		if app.Cancelled(runErr) {
			os.Exit(130)
		}
		log.Fatalf("Run failed: %v", runErr)
	}
}
