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
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ctroistats/pkg/batch"
	"ctroistats/pkg/config"
	"ctroistats/pkg/dicomio"
	"ctroistats/pkg/report"
	"ctroistats/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "ctroistats.yaml", "YAML configuration file (defaults are used when missing)")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file to -config and exit")
	inputDir := flag.String("input", "", "Directory containing CT series and RTSTRUCT files")
	regions := flag.String("regions", "", "Comma-separated region names to analyse (default: all)")
	csvPath := flag.String("csv", "", "Output CSV filename")
	sqlitePath := flag.String("sqlite", "", "SQLite database to append the run to")
	metricsFile := flag.String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	qaDir := flag.String("qa-dir", "", "Directory to save QA overlay images")
	qaSeries := flag.Bool("qa-series", false, "Also save the windowed axial series of each volume under -qa-dir")
	verbose := flag.Bool("verbose", false, "Print step banners and per-unit progress")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// flags override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input.Root = *inputDir
		case "regions":
			cfg.Regions.Include = strings.Split(*regions, ",")
		case "csv":
			cfg.Output.CSV = *csvPath
		case "sqlite":
			cfg.Output.SQLite = *sqlitePath
		case "metrics-file":
			cfg.Output.MetricsFile = *metricsFile
		case "qa-dir":
			cfg.Output.QADir = *qaDir
		case "qa-series":
			cfg.Output.QASeries = *qaSeries
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	opts, err := cfg.BatchOptions()
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	logger := log.New(io.Discard, "", 0)
	if cfg.Output.Verbose {
		logger = log.New(os.Stdout, "", 0)
		fmt.Println("================================")
		fmt.Println("CT REGION-OF-INTEREST HU STATISTICS")
		fmt.Println("================================")
		fmt.Printf("Input: %s\n", cfg.Input.Root)
	}

	reader := dicomio.NewReader()
	scanner := dicomio.NewScanner(cfg.Input.Root, reader, logger)
	scanner.NamingFallback = cfg.Input.NamingFallback

	orchestrator, err := batch.NewOrchestrator(opts, scanner, reader)
	if err != nil {
		log.Printf("Failed to create orchestrator: %v", err)
		return 1
	}
	orchestrator.SetLogger(logger)

	registry := prometheus.NewRegistry()
	orchestrator.SetMetrics(batch.NewMetrics(registry))

	if cfg.Output.Verbose {
		orchestrator.SetProgressCallback(func(completed, total int, message string) {
			fmt.Printf("[%d/%d] %s\n", completed, total, message)
		})
	}

	if cfg.Output.QADir != "" {
		snapshotter, err := visualization.NewSnapshotter(cfg.Output.QADir, visualization.Window{
			Center: cfg.Output.QAWindow.Center,
			Width:  cfg.Output.QAWindow.Width,
		})
		if err != nil {
			log.Printf("Failed to prepare QA overlays: %v", err)
			return 1
		}
		snapshotter.DumpSeries(cfg.Output.QASeries)
		orchestrator.SetSnapshotter(snapshotter)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	startTime := time.Now()
	rep, runErr := orchestrator.Run(ctx)

	for _, d := range rep.Diagnostics {
		fmt.Fprintln(os.Stderr, d)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return 1
	}

	status := 0
	if cfg.Output.CSV != "" {
		if err := report.SaveCSV(cfg.Output.CSV, rep.Records); err != nil {
			log.Printf("Failed to write CSV: %v", err)
			status = 1
		}
	}
	if cfg.Output.SQLite != "" {
		if err := saveRun(ctx, cfg.Output.SQLite, startTime, rep); err != nil {
			log.Printf("Failed to write SQLite database: %v", err)
			status = 1
		}
	}
	if cfg.Output.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.Output.MetricsFile, registry); err != nil {
			log.Printf("Warning: failed to write metrics: %v", err)
		}
	}

	if cfg.Output.Verbose {
		fmt.Printf("\nCompleted %d of %d units in %.2f seconds\n", rep.UnitsCompleted, rep.UnitsTotal, time.Since(startTime).Seconds())
		fmt.Printf("- Records: %d\n", len(rep.Records))
		fmt.Printf("- Diagnostics: %d\n", len(rep.Diagnostics))
		if cfg.Output.CSV != "" {
			fmt.Printf("Results saved to: %s\n", cfg.Output.CSV)
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Interrupted: %v\n", runErr)
		return 1
	}
	return status
}

func saveRun(ctx context.Context, path string, startTime time.Time, rep *batch.Report) error {
	store, err := report.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	// the run context may already be cancelled; partial results are still stored
	_, err = store.SaveRun(context.WithoutCancel(ctx), report.Run{
		StartedAt:      startTime,
		UnitsTotal:     rep.UnitsTotal,
		UnitsCompleted: rep.UnitsCompleted,
		Records:        rep.Records,
		Diagnostics:    rep.Diagnostics,
	})
	return err
}
