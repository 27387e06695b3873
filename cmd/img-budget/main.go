package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"img-budget-go/internal/batch"
	"img-budget-go/internal/compressor"
	"img-budget-go/internal/config"
	"img-budget-go/internal/logger"
	"img-budget-go/internal/probe"
	"img-budget-go/internal/runner"
	"img-budget-go/internal/statistics"
	"img-budget-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	sourceDir   string
	outputDir   string
	backupDir   string
	targetBytes int64
	dryRun      bool
	stamp       bool
	verbose     bool
	quiet       bool
	port        int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "img-budget",
	Short: "Compress a directory of images until it fits a byte budget",
	Long: `img-budget re-encodes every image of a directory as JPEG into a sibling
directory, retrying with lower quality and width until the whole set fits the
byte budget. On success the original directory is kept as a backup and the
compressed directory takes its name.

Run without arguments it compresses ./img into ./img_compressed with a 1 MiB
budget and backs the originals up to ./img_original.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress()
	},
}

// scanCmd shows what a run would work on without writing anything.
var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "List the images of a directory and their properties without compressing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(args)
	},
}

// probeCmd inspects a single file.
var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Show dimensions, colour mode and EXIF data of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(args[0])
	},
}

// serveCmd starts the web API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts an HTTP server that can trigger runs and report on them:
- POST /api/run      start a run (one at a time)
- GET  /api/status   running flag and live counters
- GET  /api/report   per-file results of the last run
- GET  /ws           progress events`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&sourceDir, "source", "", "directory holding the images (default img)")

	rootCmd.Flags().StringVar(&outputDir, "output", "", "directory receiving compressed images (default img_compressed)")
	rootCmd.Flags().StringVar(&backupDir, "backup", "", "name the originals are moved to on success (default img_original)")
	rootCmd.Flags().Int64Var(&targetBytes, "budget", 0, "target aggregate size in bytes (default 1 MiB)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compress but do not swap directories")
	rootCmd.Flags().BoolVar(&stamp, "stamp", false, "stamp outputs with a Software EXIF tag (needs exiftool)")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
}

// runCompress executes the fixed pipeline.
func runCompress() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	stamper := setupStamper(cfg, log)
	if stamper != nil {
		defer stamper.Close()
	}

	stats := statistics.NewStatistics()
	r := runner.NewRunner(cfg, log, stats, nil, stamper, os.Stdout)

	_, err = r.Run(context.Background())
	if errors.Is(err, runner.ErrNoAssets) {
		fmt.Printf("Nothing to compress in %s\n", cfg.SourceDirectory)
		return nil
	}
	if err != nil {
		return err
	}

	if verbose {
		fmt.Println("\n" + stats.GetSummary())
		fmt.Println(stats.GetErrorSummary())
	}
	return nil
}

// runScan prints the batch a run would process.
func runScan(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(args) > 0 {
		cfg.SourceDirectory = args[0]
	}

	log := setupLogger(cfg)
	b, err := batch.Discover(cfg.SourceDirectory, cfg.SupportedExtensions, cfg.OutputExtension)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	prober := probe.NewProber(log)
	fmt.Printf("Scanning directory: %s\n", cfg.SourceDirectory)
	for _, a := range b.Assets {
		info, err := prober.Inspect(a.Path)
		if err != nil {
			fmt.Printf("  %-40s %10s  unreadable: %v\n", a.Path, statistics.FormatBytes(a.Size), err)
			continue
		}
		note := ""
		if info.Width > cfg.Budget.Moderate.MaxWidth {
			note = fmt.Sprintf(" -> %dpx wide", cfg.Budget.Moderate.MaxWidth)
		}
		fmt.Printf("  %-40s %10s  %dx%d %s%s\n", a.Path, statistics.FormatBytes(a.Size),
			info.Width, info.Height, info.Mode, note)
	}
	for _, s := range b.Skipped {
		fmt.Printf("  %-40s skipped: %s\n", s.Path, s.Reason)
	}

	fmt.Printf("\nFound %d image files, %s in total, budget %s (%s per file if split evenly)\n",
		len(b.Assets), statistics.FormatBytes(b.TotalSize()), statistics.FormatBytes(cfg.Budget.TargetBytes),
		statistics.FormatBytes(evenShare(cfg.Budget.TargetBytes, len(b.Assets))))
	return nil
}

// runProbe prints what is known about a single image.
func runProbe(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	info, err := probe.NewProber(log).Inspect(filePath)
	if err != nil {
		return err
	}

	fmt.Printf("File:       %s\n", info.Path)
	fmt.Printf("Format:     %s\n", info.Format)
	fmt.Printf("Size:       %s\n", statistics.FormatBytes(info.Size))
	fmt.Printf("Dimensions: %dx%d\n", info.Width, info.Height)
	fmt.Printf("Mode:       %s (flatten before JPEG: %t)\n", info.Mode, info.NeedsFlatten())
	if info.EXIF == nil {
		fmt.Println("EXIF:       none")
		return nil
	}
	if info.EXIF.DateTime != nil {
		fmt.Printf("Taken:      %s\n", info.EXIF.DateTime.Format("2006-01-02 15:04:05"))
	}
	if info.EXIF.Make != "" || info.EXIF.Model != "" {
		fmt.Printf("Camera:     %s %s\n", info.EXIF.Make, info.EXIF.Model)
	}
	if info.EXIF.Rotated() {
		fmt.Printf("Orientation: %d (applied before resizing)\n", info.EXIF.Orientation)
	}
	if info.EXIF.Software != "" {
		fmt.Printf("Software:   %s\n", info.EXIF.Software)
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	stamper := setupStamper(cfg, log)
	if stamper != nil {
		defer stamper.Close()
	}
	server := web.NewServer(cfg, log, compressor.NewImagingEncoder(), stamper)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("img-budget API listening on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if sourceDir != "" {
		cfg.SourceDirectory = sourceDir
	}
	if outputDir != "" {
		cfg.OutputDirectory = outputDir
	}
	if backupDir != "" {
		cfg.BackupDirectory = backupDir
	}
	if targetBytes > 0 {
		cfg.Budget.TargetBytes = targetBytes
	}
	if dryRun {
		cfg.Security.DryRun = true
	}
	if stamp {
		cfg.Metadata.StampSoftware = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	// progress already goes to stdout; console logs only carry problems
	// unless asked for
	if !verbose && cfg.Logging.FilePath == "" && loggerCfg.Level == "info" {
		loggerCfg.Level = "warn"
	}
	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// setupStamper starts exiftool when stamping is enabled. A missing exiftool
// binary disables stamping with a warning rather than failing the run.
func setupStamper(cfg *config.Config, log *logrus.Logger) compressor.Stamper {
	if !cfg.Metadata.StampSoftware {
		return nil
	}
	s, err := compressor.NewExiftoolStamper(cfg.Metadata.SoftwareTag)
	if err != nil {
		logger.WithOperation(log, "stamp").Warnf("Stamping disabled: %v", err)
		return nil
	}
	return s
}

func evenShare(budget int64, n int) int64 {
	if n == 0 {
		return budget
	}
	return budget / int64(n)
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
