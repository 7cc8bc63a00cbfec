package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Generator GeneratorConfig `yaml:"generator"`
	Cache     CacheConfig     `yaml:"cache"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Curator   CuratorConfig   `yaml:"curator"`
	LLM       LLMConfig       `yaml:"llm"`
	Image     ImageConfig     `yaml:"image"`
	Styles    []StyleConfig   `yaml:"styles"`
	Log       LogConfig       `yaml:"log"`
	DB        DBConfig        `yaml:"db"`
}

// GeneratorConfig holds settings for the generation pipeline.
type GeneratorConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	RateLimit       int           `yaml:"rate_limit"`  // calls per window
	RateWindow      Duration      `yaml:"rate_window"` // trailing window length
	MaxAttempts     int           `yaml:"max_attempts"`
	Backoff         BackoffConfig `yaml:"backoff"`
	BatchBudget     Duration      `yaml:"batch_budget"`      // wall clock for a whole round, 0 = unlimited
	PromptsPerRound int           `yaml:"prompts_per_round"` // image prompts fanned out per theme
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL        Duration `yaml:"ttl"`
	PruneAfter Duration `yaml:"prune_after"` // entries older than this are swept at startup
}

// DedupConfig holds caption deduplication settings.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxAttempts         int     `yaml:"max_attempts"`  // regeneration attempts before fallback
	RecentWindow        int     `yaml:"recent_window"` // compare against last N accepted, 0 = all
}

// PeriodConfig holds per-period curation targets.
type PeriodConfig struct {
	TargetCount   int    `yaml:"target_count"` // K
	MaxPages      int    `yaml:"max_pages"`    // page budget per volume
	TitleTemplate string `yaml:"title_template"`
}

// CuratorConfig holds selection and packing settings.
type CuratorConfig struct {
	RecencyWeight  float64                 `yaml:"recency_weight"`
	QualityWeight  float64                 `yaml:"quality_weight"`
	PerStyleCap    int                     `yaml:"per_style_cap"` // 0 = derive ceil(K / styles)
	PagesPerItem   int                     `yaml:"pages_per_item"`
	FrontBackPages int                     `yaml:"front_back_pages"`
	Periods        map[string]PeriodConfig `yaml:"periods"`
}

// LLMConfig holds settings for the text generation provider.
type LLMConfig struct {
	Provider string            `yaml:"provider"` // "gemini", "together", "mock"
	Model    string            `yaml:"model"`
	Key      string            `yaml:"key"`
	BaseURL  string            `yaml:"base_url"` // OpenAI-compatible endpoint, together only
	Profiles map[string]string `yaml:"profiles"` // intent -> model
}

// ImageConfig holds settings for the image generation provider.
type ImageConfig struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	Key           string  `yaml:"key"`
	BaseURL       string  `yaml:"base_url"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	Steps         int     `yaml:"steps"`
	GuidanceScale float64 `yaml:"guidance_scale"`
}

// StyleConfig describes a visual style applied to image prompts.
type StyleConfig struct {
	Name           string `yaml:"name"`
	PromptSuffix   string `yaml:"prompt_suffix"`
	NegativePrompt string `yaml:"negative_prompt"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Generator: GeneratorConfig{
			Concurrency: 4,
			RateLimit:   10,
			RateWindow:  Duration(60 * time.Second),
			MaxAttempts: 5,
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(60 * time.Second),
			},
			BatchBudget:     Duration(45 * time.Minute),
			PromptsPerRound: 8,
		},
		Cache: CacheConfig{
			TTL:        Duration(24 * time.Hour),
			PruneAfter: Duration(7 * Day),
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.3,
			MaxAttempts:         5,
			RecentWindow:        200,
		},
		Curator: CuratorConfig{
			RecencyWeight:  0.6,
			QualityWeight:  0.4,
			PerStyleCap:    0,
			PagesPerItem:   2,
			FrontBackPages: 2,
			Periods: map[string]PeriodConfig{
				"daily":     {TargetCount: 8, MaxPages: 32, TitleTemplate: "ASK Daily Zine {date}"},
				"weekly":    {TargetCount: 10, MaxPages: 32, TitleTemplate: "ASK Weekly Volume {week}"},
				"monthly":   {TargetCount: 32, MaxPages: 64, TitleTemplate: "ASK Monthly Volume {month}"},
				"quarterly": {TargetCount: 96, MaxPages: 96, TitleTemplate: "ASK Quarterly Volume {quarter}"},
			},
		},
		LLM: LLMConfig{
			Provider: "together",
			Model:    "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free",
			BaseURL:  "https://api.together.xyz/v1",
			Profiles: map[string]string{
				"prompts":  "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free",
				"captions": "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free",
			},
		},
		Image: ImageConfig{
			Provider:      "together",
			Model:         "black-forest-labs/FLUX.1-schnell-free",
			BaseURL:       "https://api.together.xyz/v1",
			Width:         1024,
			Height:        1024,
			Steps:         4,
			GuidanceScale: 7.5,
		},
		Styles: []StyleConfig{
			{Name: "futuristic", PromptSuffix: ", futuristic architecture, sci-fi aesthetic, advanced technology", NegativePrompt: "traditional, classical, rustic, old"},
			{Name: "minimalist", PromptSuffix: ", minimalist architecture, clean lines, simple forms", NegativePrompt: "ornate, decorative, busy, cluttered"},
			{Name: "abstract", PromptSuffix: ", abstract architecture, conceptual design, artistic interpretation", NegativePrompt: "literal, representational, traditional"},
			{Name: "brutalist", PromptSuffix: ", brutalist architecture, raw concrete, massive forms", NegativePrompt: "delicate, refined, elegant"},
			{Name: "organic", PromptSuffix: ", organic architecture, flowing forms, natural curves", NegativePrompt: "geometric, angular, rigid"},
			{Name: "parametric", PromptSuffix: ", parametric architecture, algorithmic design, computational forms", NegativePrompt: "traditional, manual, handcrafted"},
			{Name: "watercolor", PromptSuffix: ", watercolor architecture, artistic painting style, soft brushstrokes", NegativePrompt: "photographic, realistic, sharp"},
			{Name: "modernist", PromptSuffix: ", modernist architecture, functional design, clean lines", NegativePrompt: "decorative, ornate, elaborate"},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/askzine.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/askzine.db",
		},
	}
}

// StyleNames returns the configured style names in declaration order.
func (c *Config) StyleNames() []string {
	names := make([]string, 0, len(c.Styles))
	for _, s := range c.Styles {
		names = append(names, s.Name)
	}
	return names
}

// StyleByName looks up a style config. Falls back to the first style if the
// name is unknown so a stale style name never breaks a round.
func (c *Config) StyleByName(name string) (StyleConfig, bool) {
	for _, s := range c.Styles {
		if s.Name == name {
			return s, true
		}
	}
	if len(c.Styles) > 0 {
		return c.Styles[0], false
	}
	return StyleConfig{}, false
}

// DailyStyle returns the style for a given date, rotating by day of year.
func (c *Config) DailyStyle(t time.Time) StyleConfig {
	if len(c.Styles) == 0 {
		return StyleConfig{}
	}
	return c.Styles[t.YearDay()%len(c.Styles)]
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT
// save back to disk (to preserve user formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	applyEnvKeys(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvKeys fills in API keys from the environment when the config file
// leaves them empty. Keys never get written back to disk.
func applyEnvKeys(cfg *Config) {
	if cfg.LLM.Key == "" {
		if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
			cfg.LLM.Key = key
		}
	}
	if cfg.LLM.Key == "" && cfg.LLM.Provider == "gemini" {
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			cfg.LLM.Key = key
		}
	}
	if cfg.Image.Key == "" {
		cfg.Image.Key = cfg.LLM.Key
	}
}

func (c *Config) validate() error {
	if c.Generator.Concurrency < 1 {
		return fmt.Errorf("generator.concurrency must be >= 1, got %d", c.Generator.Concurrency)
	}
	if c.Generator.RateLimit < 1 {
		return fmt.Errorf("generator.rate_limit must be >= 1, got %d", c.Generator.RateLimit)
	}
	if c.Generator.MaxAttempts < 1 {
		return fmt.Errorf("generator.max_attempts must be >= 1, got %d", c.Generator.MaxAttempts)
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0, 1], got %v", c.Dedup.SimilarityThreshold)
	}
	if c.Curator.PagesPerItem < 1 {
		return fmt.Errorf("curator.pages_per_item must be >= 1, got %d", c.Curator.PagesPerItem)
	}
	for name, p := range c.Curator.Periods {
		usable := p.MaxPages - c.Curator.FrontBackPages
		if usable < c.Curator.PagesPerItem {
			return fmt.Errorf("curator.periods.%s: max_pages %d leaves no room for items", name, p.MaxPages)
		}
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# askzine Configuration
# ---------------------
# Durations accept: ns, us (or µs), ms, s, m, h, d (day), w (week)
# API keys may be left empty and supplied via TOGETHER_API_KEY / GEMINI_API_KEY.

`)
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateDefault creates a default config file at the given path.
func GenerateDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return Save(path, DefaultConfig())
}
