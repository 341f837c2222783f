package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"moodledl/internal/components/restyutil"
	"moodledl/internal/components/serviceutil"
	"moodledl/internal/components/telemetry"
	"moodledl/internal/db"
	"moodledl/internal/history"
	"moodledl/internal/pipeline"
	"moodledl/internal/scrapers/moodle"

	"github.com/spf13/cobra"
)

var (
	outputDir    string
	workers      int
	keepArchives bool
)

func init() {
	downloadCmd.Flags().StringVarP(&outputDir, "output", "o", "", "The directory courses are extracted into.")
	downloadCmd.Flags().IntVarP(&workers, "workers", "w", 0, "The amount of courses downloaded at once.")
	downloadCmd.Flags().BoolVar(&keepArchives, "keep-archives", false, "Keep the downloaded archives after extracting them.")
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download [course urls...]",
	Short: "Downloads and extracts the content of every given course.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cmd.Flags().Changed("output") {
			cfg.OutputDir = outputDir
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers = workers
		}
		if cmd.Flags().Changed("keep-archives") {
			cfg.KeepArchives = keepArchives
		}

		err = completeConfig(&cfg, args, newPrompter(os.Stdin, os.Stderr))
		if err != nil {
			serviceutil.Fatal("failed to read input", err)
		}

		ctx := serviceutil.SignalContext(cmd.Context())
		run, err := download(ctx, cfg)
		if err != nil {
			serviceutil.Fatal("download failed", err)
		}
		renderRun(cmd.OutOrStdout(), run)
	},
}

// completeConfig fills in positional urls and prompts for anything that is
// still missing.
func completeConfig(cfg *Config, args []string, p prompter) error {
	if len(args) > 0 {
		cfg.Courses = args
	}

	var err error
	if cfg.Username == "" {
		cfg.Username, err = p.Line("Username")
		if err != nil {
			return fmt.Errorf("username: %w", err)
		}
	}
	if cfg.Password == "" {
		cfg.Password, err = p.Password("Password")
		if err != nil {
			return fmt.Errorf("password: %w", err)
		}
	}
	if len(cfg.Courses) == 0 {
		cfg.Courses, err = p.Urls("Course urls")
		if err != nil {
			return fmt.Errorf("course urls: %w", err)
		}
	}
	if len(cfg.Courses) == 0 {
		return fmt.Errorf("no course urls given")
	}
	return nil
}

func download(ctx context.Context, cfg Config) (pipeline.Run, error) {
	otel, err := telemetry.Setup(ctx, "moodledl", cfg.Otlp)
	if err != nil {
		return pipeline.Run{}, fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := otel.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err)
		}
	}()

	tel := telemetry.SlogAPI{}

	var output telemetry.MessageOutput
	if cfg.DumpHttpDir != "" {
		fsOutput, err := restyutil.NewFilesystemOutput(cfg.DumpHttpDir)
		if err != nil {
			return pipeline.Run{}, fmt.Errorf("prepare http dump directory: %w", err)
		}
		output = fsOutput
	}

	clientOpts, err := cfg.clientOptions(tel, output)
	if err != nil {
		return pipeline.Run{}, err
	}

	opts := pipeline.Options{
		OutputDir:    cfg.OutputDir,
		Workers:      cfg.Workers,
		KeepArchives: cfg.KeepArchives,
		Telemetry:    tel,
	}

	if path := cfg.historyPath(); path != "" {
		err = os.MkdirAll(cfg.OutputDir, 0755)
		if err != nil {
			return pipeline.Run{}, fmt.Errorf("create output directory: %w", err)
		}
		database, err := db.Open(path)
		if err != nil {
			return pipeline.Run{}, fmt.Errorf("open history db: %w", err)
		}
		defer database.Close()
		opts.Recorder = history.NewStore(database)
	}

	p := pipeline.New(pipeline.MoodleAuthenticator(clientOpts), opts)
	return p.Run(ctx, moodle.Credentials{
		Username: cfg.Username,
		Password: cfg.Password,
	}, cfg.Courses)
}
