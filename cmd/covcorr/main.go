package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"covcorr/internal/utils"
	"covcorr/pkg/batch"
	"covcorr/pkg/config"
	"covcorr/pkg/tiffio"
	"covcorr/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "covcorr.yaml", "YAML configuration file (optional)")
	envFile := flag.String("env", ".env", "File with COVCORR_* variables (optional)")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	dataFolder := flag.String("data", "", "Data root; every sub-directory is one channel")
	reference := flag.String("reference", "", "Channel plotted on the x axis (default: base name of -data)")
	outputRoot := flag.String("output", "", "Directory receiving corr_<image> folders (default: parent of -data)")
	scale := flag.Float64("scale", 0, "Downscale factor in (0, 1) applied before analysis")
	maxLag := flag.Int("lag", 0, "Largest temporal offset in frames")
	workers := flag.Int("workers", 0, "Number of images processed concurrently")
	numCores := flag.Int("cores", 0, "Number of goroutines used inside one computation (default: all available)")
	plots := flag.Bool("plots", true, "Render CoV against cross-correlation figures")
	logLevel := flag.String("log-level", "", "One of debug, info, warn, error")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Defaults, then the YAML file, then the environment, then flags
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ApplyEnv(*envFile); err != nil {
		log.Fatalf("Failed to read environment: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.Data.Folder = *dataFolder
		case "reference":
			cfg.Data.ReferenceChannel = *reference
		case "output":
			cfg.Data.OutputRoot = *outputRoot
		case "scale":
			cfg.Processing.ScaleFactor = *scale
		case "lag":
			cfg.Processing.MaxLag = *maxLag
		case "workers":
			cfg.Processing.Workers = *workers
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "plots":
			cfg.Output.Plots = *plots
		case "log-level":
			cfg.Output.LogLevel = *logLevel
		}
	})

	if cfg.Data.Folder == "" {
		flag.Usage()
		os.Exit(1)
	}

	rc, err := cfg.RunConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := utils.NewLogger(cfg.Output.LogLevel)

	fmt.Println("================================")
	fmt.Println("COEFFICIENT OF VARIATION AND LAGGED CROSS-CORRELATION OF TIME-LAPSE STACKS")
	fmt.Println("================================")
	fmt.Printf("Data root:         %s\n", rc.DataFolder)
	fmt.Printf("Output root:       %s\n", rc.OutputRoot)
	fmt.Printf("Reference channel: %s\n", rc.ReferenceChannel)
	fmt.Printf("Scale factor:      %g\n", rc.ScaleFactor)
	fmt.Printf("Max lag:           %d frames\n", rc.MaxLag)
	fmt.Printf("Workers / cores:   %d / %d\n\n", rc.Workers, rc.NumCores)

	var renderer batch.ScatterRenderer
	if rc.Plots {
		renderer = visualization.NewScatterRenderer(rc.ReferenceChannel)
	}
	orchestrator := batch.New(rc, tiffio.NewLoader(), tiffio.NewWriter(), renderer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := orchestrator.Run(ctx)
	if summary != nil {
		fmt.Println()
		summary.Report(os.Stdout)
	}
	if err != nil {
		logger.Error("Run did not complete: %v", err)
		os.Exit(1)
	}
	if !summary.OK() {
		os.Exit(2)
	}
}
