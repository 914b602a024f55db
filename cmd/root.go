package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/store"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// Store is the identity store opened for the current command
	Store store.Store
	// Logger carries structured diagnostics; user-facing output goes through fmt
	Logger = slog.Default()

	configPath string
	rootFlags  struct {
		dataDir  string
		dbURL    string
		ledger   string
		camera   string
		logLevel string
	}
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "rollcall",
	Short:   "Face recognition attendance from a camera feed",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyRootFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		Cfg = cfg
		Logger = newLogger(cfg.LogLevel)

		if !needsStore(cmd) {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		Store, err = store.Open(cmd.Context(), cfg.StoreOptions(), Logger)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Store != nil {
			// The main context might be cancelled already (Ctrl+C) and the store still has to close
			Store.Close(context.Background())
			Store = nil
		}
	},
}

func Execute() {
	// Ctrl+C or SIGTERM stops the camera and ends the running session
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file (default: ./rollcall.yaml if present)")
	pf.StringVar(&rootFlags.dataDir, "data-dir", "", "Directory holding enrolled identities (file store)")
	pf.StringVar(&rootFlags.dbURL, "db", "", "PostgreSQL connection string; selects the postgres identity store")
	pf.StringVar(&rootFlags.ledger, "ledger", "", "Attendance ledger CSV path")
	pf.StringVar(&rootFlags.camera, "camera", "", "Capture device, or dir:<path> to replay still images")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Diagnostic log level: debug, info, warn, error")
}

// applyRootFlags puts explicitly set flags on top of file and environment values.
func applyRootFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = rootFlags.dataDir
	}
	if flags.Changed("db") {
		cfg.Store.Backend = store.BackendPostgres
		cfg.Store.DatabaseURL = rootFlags.dbURL
	}
	if flags.Changed("ledger") {
		cfg.LedgerPath = rootFlags.ledger
	}
	if flags.Changed("camera") {
		cfg.Camera.Device = rootFlags.camera
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = rootFlags.logLevel
	}
}

// needsStore is false for commands that only touch the ledger.
func needsStore(cmd *cobra.Command) bool {
	return cmd.Annotations["store"] != "none"
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
