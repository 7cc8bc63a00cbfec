package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"askzine/pkg/cache"
	"askzine/pkg/config"
	"askzine/pkg/core"
	"askzine/pkg/curator"
	"askzine/pkg/db"
	"askzine/pkg/dedup"
	"askzine/pkg/executor"
	"askzine/pkg/llm"
	"askzine/pkg/llm/failover"
	"askzine/pkg/llm/gemini"
	"askzine/pkg/llm/mock"
	"askzine/pkg/llm/together"
	"askzine/pkg/logging"
	"askzine/pkg/model"
	"askzine/pkg/pool"
	"askzine/pkg/tracker"
	"askzine/pkg/version"
)

var (
	configPath = flag.String("config", "configs/askzine.yaml", "Path to config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	theme      = flag.String("generate", "", "Run a generation round for the given theme")
	curate     = flag.String("curate", "", "Run a curation round for a period (daily, weekly, monthly, quarterly)")
	renderDir  = flag.String("renders", "data/renders", "Directory for generated content")
	outDir     = flag.String("out", "data/manifests", "Directory for volume manifests")
	health     = flag.Bool("health", false, "Check provider connectivity and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// API keys may live in a local env file.
	_ = godotenv.Load("ask.env")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("askzine started", "version", version.Version)

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	if pruneAfter := time.Duration(cfg.Cache.PruneAfter); pruneAfter > 0 {
		if n, err := dbConn.PruneCache(pruneAfter); err != nil {
			slog.Warn("Cache pruning failed", "error", err)
		} else if n > 0 {
			slog.Info("Pruned stale cache entries", "count", n)
		}
	}

	tr := tracker.New()
	provider, err := buildProvider(cfg, tr)
	if err != nil {
		return err
	}

	if *health {
		if err := provider.HealthCheck(ctx); err != nil {
			return fmt.Errorf("provider health check failed: %w", err)
		}
		fmt.Println("Providers healthy.")
		return nil
	}

	renders, err := core.NewFileRenderStore(*renderDir)
	if err != nil {
		return err
	}
	publisher, err := core.NewManifestWriter(*outDir)
	if err != nil {
		return err
	}

	contentCache := cache.NewSQLiteCache(dbConn)
	orch := core.New(cfg, provider,
		executor.New(cfg.Generator, time.Duration(cfg.Cache.TTL), contentCache, tr),
		dedup.New(cfg.Dedup, tr),
		pool.New(dbConn),
		curator.New(cfg.Curator, len(cfg.Styles)),
		renders, publisher, contentCache, tr)

	if err := orch.SeedCaptionHistory(ctx); err != nil {
		slog.Warn("Could not seed caption history", "error", err)
	}

	ran := false
	if *theme != "" {
		ran = true
		if err := runGeneration(ctx, orch, *theme, tr); err != nil {
			return err
		}
	}
	if *curate != "" {
		ran = true
		manifests, err := orch.RunCurationRound(ctx, model.Period(*curate))
		if err != nil {
			return err
		}
		slog.Info("Curation finished", "period", *curate, "volumes", len(manifests))
	}

	if !ran {
		flag.Usage()
		return fmt.Errorf("nothing to do: pass -generate or -curate")
	}
	return nil
}

func runGeneration(ctx context.Context, orch *core.Orchestrator, theme string, tr *tracker.Tracker) error {
	requests, err := orch.BuildRequests(ctx, theme, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build requests: %w", err)
	}

	report, err := orch.RunGenerationRound(ctx, requests)
	if err != nil {
		return err
	}

	stats := tr.Pipeline()
	slog.Info("Generation finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"captions_rejected", stats.CaptionsRejected,
		"captions_fallback", stats.CaptionsFallback)
	return nil
}

// buildProvider constructs the configured text/image provider, wrapping both
// real backends in a failover chain when more than one has credentials.
func buildProvider(cfg *config.Config, tr *tracker.Tracker) (llm.Provider, error) {
	var chain []llm.Provider
	var names []string

	add := func(name string) error {
		switch name {
		case "together":
			c, err := together.NewClient(cfg.LLM, cfg.Image, tr)
			if err != nil {
				return err
			}
			chain = append(chain, c)
		case "gemini":
			llmCfg := cfg.LLM
			if cfg.LLM.Provider != "gemini" {
				// Fallback role: drop the primary's model/profile settings so
				// the client falls back to its own defaults.
				llmCfg.Model = ""
				llmCfg.BaseURL = ""
				llmCfg.Profiles = nil
			}
			if key := os.Getenv("GEMINI_API_KEY"); key != "" {
				llmCfg.Key = key
			}
			c, err := gemini.NewClient(llmCfg, cfg.Image, cfg.Log.Requests.Path, tr)
			if err != nil {
				return err
			}
			chain = append(chain, c)
		case "mock":
			chain = append(chain, mock.New())
		default:
			return fmt.Errorf("unknown provider %q", name)
		}
		names = append(names, name)
		return nil
	}

	if err := add(cfg.LLM.Provider); err != nil {
		return nil, err
	}

	// Secondary backend joins the chain when its key is configured.
	if cfg.LLM.Provider == "together" && os.Getenv("GEMINI_API_KEY") != "" {
		if err := add("gemini"); err != nil {
			slog.Warn("Skipping gemini fallback", "error", err)
		}
	}

	if len(chain) == 1 {
		return chain[0], nil
	}
	return failover.New(chain, names, tr)
}
