// Command minutes turns meeting recordings, documents and captions into
// reviewed meeting minutes. It runs the API server and workers, and is the
// client for submitting, reviewing and exporting jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/minutes/client"
	"github.com/otherjamesbrown/minutes/cmd"
	"github.com/otherjamesbrown/minutes/config"
	"github.com/otherjamesbrown/minutes/pkg/logging"
)

// Global flags.
var (
	cfgFile      string
	serverURL    string
	timeout      time.Duration
	outputFormat string
	debug        bool
)

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.ServiceConfig, error) {
	var (
		cfg *config.ServiceConfig
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile, true)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if serverURL != "" {
		cfg.Client.ServerURL = serverURL
	}
	if timeout > 0 {
		cfg.Client.Timeout = timeout
	}
	if outputFormat != "" {
		format := config.OutputFormat(outputFormat)
		if !format.IsValid() {
			return nil, fmt.Errorf("invalid output format %q: must be text, json, or yaml", outputFormat)
		}
		cfg.Client.OutputFormat = format
	}
	if debug {
		cfg.Log.Level = string(logging.LevelDebug)
	}
	return cfg, nil
}

func newDeps() *cmd.CommandDeps {
	return &cmd.CommandDeps{
		LoadConfig: loadConfig,
		NewClient: func(cfg *config.ServiceConfig) (*client.Client, error) {
			return client.FromConfig(cfg.Client)
		},
	}
}

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "minutes",
	Short: "Meeting minutes engine",
	Long: `minutes turns meeting recordings, documents and captions into minutes.

Each job runs a pipeline of stages: extraction of text and audio from the
inputs, a speaker-attributed draft transcript, validation against grammar and
a locale dictionary, optional human review, refinement into summary,
decisions and action items, and optional narration audio.

Run 'minutes serve' to start the API and workers, then submit jobs from any
machine that can reach it:

  minutes job submit meeting.mp3 slides.pdf --user alice --wait
  minutes review show <job-id>
  minutes export <job-id> --format markdown

Configuration is read from ~/.minutes/config.yaml (override with --config or
MINUTES_CONFIG). A .env file in the working directory is loaded first.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		level := logging.LevelWarn
		if debug {
			level = logging.LevelDebug
		}
		logging.SetGlobal(logging.NewLogger(&logging.Config{
			Level:       level,
			ServiceName: "minutes-cli",
			Output:      os.Stderr,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.minutes/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API server URL (e.g., http://localhost:8080)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "request timeout (e.g., 30s, 1m)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "jobs", Title: "Jobs:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	deps := newDeps()
	add := func(group string, c *cobra.Command) {
		c.GroupID = group
		rootCmd.AddCommand(c)
	}

	add("jobs", cmd.NewJobCommand(deps))
	add("jobs", cmd.NewReviewCommand(deps))
	add("jobs", cmd.NewExportCommand(deps))

	add("ops", cmd.NewServeCommand(deps))
	add("ops", cmd.NewWorkerCommand(deps))
	add("ops", cmd.NewMigrateCommand(&cmd.MigrateCommandDeps{
		LoadConfig:  loadConfig,
		ConnectToDB: cmd.DefaultMigrateDeps().ConnectToDB,
	}))

	add("setup", cmd.NewKeysCommand(nil))
	add("setup", cmd.NewConfigCommand(deps))
	add("setup", cmd.NewVersionCommand(deps))
}

// loadDotEnv loads .env from the working directory when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}
}

func main() {
	loadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
