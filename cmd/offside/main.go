package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/tjfontaine/offside-zero/internal/analysis"
	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/overlay"
	"github.com/tjfontaine/offside-zero/internal/pkg/config"
	"github.com/tjfontaine/offside-zero/internal/runtime"
	"github.com/tjfontaine/offside-zero/internal/telemetry"
	"github.com/tjfontaine/offside-zero/internal/video"
)

func main() {
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "offside",
		Usage: "analyse football clips for offside and handball incidents",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: config.DefaultPath, Usage: "path to config.yaml"},
			&cli.BoolFlag{Name: "debug", Usage: "verbose logging"},
		},
		Commands: []*cli.Command{
			{
				Name:  "analyze",
				Usage: "run the agent swarm over one clip",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "video", Aliases: []string{"v"}, Required: true, Usage: "path to the clip"},
					&cli.FloatFlag{Name: "timestamp", Aliases: []string{"t"}, Usage: "second of the clip to centre the frame window on"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "directory for annotated frames and the verdict"},
					&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model to try first for every agent"},
				},
				Action: analyze,
			},
			{
				Name:      "ask",
				Usage:     "ask a follow-up question about a saved analysis",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "analysis", Aliases: []string{"a"}, Required: true, Usage: "path to a <clip>_swarm_analysis.json file"},
				},
				Action: ask,
			},
			{
				Name:   "models",
				Usage:  "list models available to the configured API key",
				Action: listModels,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel()
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func analyze(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if cfg.Gemini.APIKey == "" {
		return errors.New("no API key: set GEMINI_API_KEY or gemini.api_key")
	}
	if m := cmd.String("model"); m != "" {
		cfg.Models.Agents = config.Prefer(cfg.Models.Agents, m)
		cfg.Models.Manager = config.Prefer(cfg.Models.Manager, m)
		cfg.Models.Synthesizer = config.Prefer(cfg.Models.Synthesizer, m)
	}
	if out := cmd.String("output"); out != "" {
		cfg.Paths.OutputDir = out
	}

	shutdownTracer, err := telemetry.Setup(cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	svc := analysis.NewService(
		video.NewOpener(video.WithBinaries(cfg.Frames.FFmpegPath, cfg.Frames.FFprobePath), video.WithLogger(logger)),
		overlay.New(),
		runtime.BuildCoordinator(cfg, runtime.NewAnalyzer(cfg.Gemini), runtime.NewTokenCounter(), logger),
		analysis.WithOutputDir(cfg.Paths.OutputDir),
		analysis.WithFrameWindow(cfg.Frames.WindowSeconds, cfg.Frames.Count),
		analysis.WithLogger(logger),
	)

	var opts analysis.Options
	if cmd.IsSet("timestamp") {
		ts := cmd.Float("timestamp")
		opts.Timestamp = &ts
	}

	verdict, err := svc.AnalyzeClip(ctx, cmd.String("video"), opts)
	if verdict == nil {
		return err
	}

	fmt.Printf("Decision:    %s\n", verdict.Decision)
	fmt.Printf("Confidence:  %.0f%%\n", verdict.Confidence*100)
	fmt.Printf("Explanation: %s\n", verdict.Explanation)
	if verdict.VisualCues != "" {
		fmt.Printf("Visual cues: %s\n", verdict.VisualCues)
	}
	for _, name := range verdict.AnnotatedFrames {
		fmt.Printf("Frame:       %s/%s\n", cfg.Paths.OutputDir, name)
	}
	return err
}

func ask(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if cfg.Gemini.APIKey == "" {
		return errors.New("no API key: set GEMINI_API_KEY or gemini.api_key")
	}
	question := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return errors.New("a question is required")
	}

	data, err := os.ReadFile(cmd.String("analysis"))
	if err != nil {
		return err
	}
	var verdict domain.ClipVerdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		return fmt.Errorf("failed to read analysis: %w", err)
	}

	answer, err := runtime.BuildAdvisor(cfg, runtime.NewAnalyzer(cfg.Gemini), logger).Ask(ctx, question, &verdict)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func listModels(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	if cfg.Gemini.APIKey == "" {
		return errors.New("no API key: set GEMINI_API_KEY or gemini.api_key")
	}

	models, err := runtime.NewAnalyzer(cfg.Gemini).Client().ListModels(ctx)
	if err != nil {
		return err
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID() < models[j].ID() })
	for _, m := range models {
		if !m.SupportsGenerateContent() {
			continue
		}
		fmt.Printf("%-40s %s\n", m.ID(), m.DisplayName)
	}
	return nil
}
