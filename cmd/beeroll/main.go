package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/john-rock/beeroll/internal/capture"
	"github.com/john-rock/beeroll/internal/compress"
	"github.com/john-rock/beeroll/internal/config"
	"github.com/john-rock/beeroll/internal/ffcap"
	"github.com/john-rock/beeroll/internal/journal"
	"github.com/john-rock/beeroll/internal/logging"
	"github.com/john-rock/beeroll/internal/server"
	"github.com/john-rock/beeroll/internal/store"
)

var (
	version = "0.1.0"
	cfgFile string
	quality string
)

var rootCmd = &cobra.Command{
	Use:   "beeroll",
	Short: "beeroll screen recorder",
	Long:  `beeroll - local screen capture and compression service`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture service",
	Run: func(cmd *cobra.Command, args []string) {
		serve()
	},
}

var recordCmd = &cobra.Command{
	Use:   "record [seconds]",
	Short: "Record the screen for a fixed number of seconds",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		record(args[0])
	},
}

var compressCmd = &cobra.Command{
	Use:   "compress [file]",
	Short: "Compress an existing recording",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		compressFile(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("beeroll v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the user config dir)")
	rootCmd.PersistentFlags().StringVar(&quality, "quality", "", "quality profile: high, balanced or compressed")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	return cfg
}

func buildComponents(cfg *config.Config) (*capture.Controller, *compress.Pipeline, *store.RecordingStore, *ffcap.Device) {
	device := ffcap.NewDevice(cfg.FFmpegPath)
	recorder := ffcap.NewRecorder(cfg.FFmpegPath)
	ctrl := capture.NewController(device, recorder)

	engine := compress.NewFFmpegEngine(cfg.FFmpegPath)
	pipe := compress.NewPipeline(engine)

	rec, err := store.NewRecordingStore(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open recording store: %v\n", err)
		os.Exit(1)
	}
	return ctrl, pipe, rec, device
}

func serve() {
	cfg := loadConfig()
	ctrl, pipe, rec, device := buildComponents(cfg)

	if cfg.RetentionDays > 0 {
		if n, err := rec.Prune(time.Duration(cfg.RetentionDays) * 24 * time.Hour); err == nil && n > 0 {
			fmt.Printf("Pruned %d expired recordings\n", n)
		}
	}

	prefs := config.NewPreferenceStore(cfg, cfgFile)
	hist, err := journal.Open(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History disabled: %v\n", err)
	}
	srv := server.New(*cfg, prefs, ctrl, pipe, rec, device, hist)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("beeroll v%s listening on %s\n", version, cfg.ListenAddr)
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		os.Exit(1)
	}
}

func record(secondsArg string) {
	cfg := loadConfig()
	ctrl, _, rec, _ := buildComponents(cfg)

	var seconds int
	if _, err := fmt.Sscanf(secondsArg, "%d", &seconds); err != nil || seconds <= 0 {
		fmt.Fprintln(os.Stderr, "Duration must be a positive number of seconds.")
		os.Exit(1)
	}

	q := quality
	if q == "" {
		q = cfg.Quality
	}

	ctx := context.Background()
	opts := capture.Options{
		Video:   true,
		Audio:   capture.AudioRouting{System: true, Microphone: true},
		Quality: q,
	}
	if err := ctrl.Start(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start recording: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Recording for %ds...\n", seconds)
	time.Sleep(time.Duration(seconds) * time.Second)

	art, err := ctrl.Stop(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop recording: %v\n", err)
		os.Exit(1)
	}

	path, err := rec.Save(*art, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save recording: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved %s (%d bytes)\n", path, art.Size())
}

func compressFile(path string) {
	cfg := loadConfig()
	_, pipe, rec, _ := buildComponents(cfg)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
		os.Exit(1)
	}

	q := quality
	if q == "" {
		q = cfg.Quality
	}
	profile, ok := capture.ProfileByName(q)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown quality profile %q.\n", q)
		os.Exit(1)
	}

	art := capture.Artifact{
		ID:        path,
		MimeType:  mimeForPath(path),
		Data:      data,
		CreatedAt: time.Now(),
	}

	res, err := pipe.Compress(context.Background(), art, profile, func(pct float64, stage string) {
		fmt.Printf("\r%-48s %5.1f%%", stage, pct)
	})
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compression failed: %v\n", err)
		os.Exit(1)
	}

	out, err := rec.Save(res.Artifact, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved %s (%s, %.1f%% smaller)\n", out, res.Strategy, res.Reduction)
}

func mimeForPath(path string) string {
	switch {
	case len(path) > 5 && path[len(path)-5:] == ".webm":
		return "video/webm"
	case len(path) > 4 && path[len(path)-4:] == ".mp4":
		return "video/mp4"
	case len(path) > 4 && path[len(path)-4:] == ".mkv":
		return "video/x-matroska"
	default:
		return "video/webm"
	}
}
