// Command interval runs the biometric derivation pipeline headless and logs
// what it derives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/interval/internal/ambient"
	"github.com/talgya/interval/internal/api"
	"github.com/talgya/interval/internal/audio"
	"github.com/talgya/interval/internal/config"
	"github.com/talgya/interval/internal/engine"
	"github.com/talgya/interval/internal/entropy"
	"github.com/talgya/interval/internal/persistence"
)

type runFlags struct {
	configPath  string
	seed        int64
	duration    time.Duration
	speed       float64
	audio       bool
	environment string
	journal     string
	snapshot    bool
	listen      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f runFlags

	root := &cobra.Command{
		Use:          "interval",
		Short:        "Derive attention, crystals, harmonics and breath sync from synthetic biometrics",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, f)
		},
	}
	root.Flags().StringVarP(&f.configPath, "config", "c", "interval.yaml", "path to YAML config")
	root.Flags().Int64Var(&f.seed, "seed", 0, "random seed (0 uses crypto randomness)")
	root.Flags().DurationVar(&f.duration, "duration", 0, "stop after this much logical time (0 runs until interrupted)")
	root.Flags().Float64Var(&f.speed, "speed", 1, "logical seconds per wall second")
	root.Flags().BoolVar(&f.audio, "audio", false, "enable the audio side channel")
	root.Flags().StringVar(&f.environment, "environment", "", "ambient environment preset")
	root.Flags().StringVar(&f.journal, "journal", "", "session journal path (\":memory:\" keeps nothing)")
	root.Flags().BoolVar(&f.snapshot, "snapshot", false, "print the final snapshot as JSON")
	root.Flags().StringVar(&f.listen, "listen", "", "serve the HTTP API on this address (empty disables)")

	root.AddCommand(newInitCmd(), newEnvironmentsCmd())
	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "interval.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

func newEnvironmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "environments",
		Short: "List ambient environment presets",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, key := range ambient.EnvironmentKeys() {
				env := ambient.Environments[key]
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-18s hue %3.0f  %s\n", env.Key, env.Name, env.BaseHue, env.Description)
			}
		},
	}
}

// loadConfig reads the config file and applies flags that were set explicitly.
func loadConfig(cmd *cobra.Command, f runFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = f.seed
	}
	if flags.Changed("speed") {
		cfg.Engine.Speed = f.speed
	}
	if flags.Changed("audio") {
		cfg.Audio.Enabled = f.audio
	}
	if flags.Changed("environment") {
		cfg.Ambient.Environment = f.environment
	}
	if flags.Changed("journal") {
		cfg.Journal.Path = f.journal
	}
	if flags.Changed("listen") {
		cfg.API.Listen = f.listen
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, f runFlags) error {
	logger := slog.New(cfg.NewLogHandler(os.Stdout))
	slog.SetDefault(logger)

	// ── Journal ───────────────────────────────────────────────────────
	journal, err := persistence.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()
	slog.Info("journal opened", "path", cfg.Journal.Path)

	// ── Pipeline ──────────────────────────────────────────────────────
	poetryCfg, err := cfg.GetPoetryConfig()
	if err != nil {
		return err
	}
	var opener audio.Opener
	if cfg.Audio.Device == config.DeviceLog {
		opener = audio.LogOpener(audio.NewLogDevice(logger))
	}

	start := time.Now()
	pipeline, err := engine.NewPipeline(engine.Options{
		Rand:        entropy.New(cfg.Seed),
		NoiseSeed:   cfg.Seed,
		Start:       start,
		Crystal:     cfg.GetCrystalConfig(),
		Poetry:      poetryCfg,
		Environment: cfg.Ambient.Environment,
		Audio:       opener,
	})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if cfg.Audio.Enabled {
		// Failure is logged by the synth and the run continues silently.
		_ = pipeline.EnableAudio()
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(start)
	eng.Interval = cfg.GetTick()
	eng.SetSpeed(cfg.Engine.Speed)
	pipeline.Attach(eng, cfg.GetTiming())

	eng.Schedule("journal", engine.Every(cfg.GetJournalFlush()), func(time.Time) {
		if err := journal.SaveSession(pipeline, eng.Tick()); err != nil {
			slog.Error("journal flush failed", "error", err)
		}
	})
	eng.Schedule("summary", engine.Every(cfg.GetSummary()), func(time.Time) {
		logSummary(pipeline, eng)
	})
	if f.duration > 0 {
		eng.Schedule("deadline", engine.Every(f.duration), func(time.Time) {
			slog.Info("duration reached", "duration", f.duration)
			eng.Stop()
		})
	}

	if err := journal.SaveMeta("started_at", start.Format(time.RFC3339)); err != nil {
		slog.Warn("journal meta write failed", "error", err)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.Listen != "" {
		srv := &api.Server{
			Pipeline: pipeline,
			Eng:      eng,
			Journal:  journal,
			Addr:     cfg.API.Listen,
			AdminKey: cfg.API.AdminKey,
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("HTTP API shutdown", "error", err)
			}
		}()
	}

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("interval running",
		"seed", cfg.Seed,
		"environment", cfg.Ambient.Environment,
		"speed", cfg.Engine.Speed,
		"audio", pipeline.AudioEnabled(),
	)
	eng.Run(ctx)

	// Final flush on shutdown.
	logSummary(pipeline, eng)
	if err := journal.SaveSession(pipeline, eng.Tick()); err != nil {
		slog.Error("final journal flush failed", "error", err)
	}

	if f.snapshot {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(pipeline.Snapshot()); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
	}
	return nil
}

func logSummary(p *engine.Pipeline, eng *engine.Engine) {
	v := p.Biometrics()
	phase := p.Phase()
	sync := p.Sync()
	stats := p.Stats()
	slog.Info("status",
		"elapsed", engine.Elapsed(eng.Tick(), eng.Interval),
		"phase", phase.Name,
		"intensity", fmt.Sprintf("%.2f", phase.Intensity),
		"heart", fmt.Sprintf("%.2f", v.HeartRate),
		"harmony", fmt.Sprintf("%.2f", p.Ambient().Harmony),
		"resonance", fmt.Sprintf("%.2f", sync.Resonance),
		"crystals", len(p.Crystals()),
		"partials", len(p.Harmonics()),
		"transitions", stats.PhaseTransitions,
		"poetry", p.Poetry().Text,
	)
}
