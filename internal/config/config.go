package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Ollama     OllamaConfig
	Embedding  EmbeddingConfig
	Vector     VectorConfig
	Retrieval  RetrievalConfig
	Composer   ComposerConfig
	Generation GenerationConfig
	Feedback   FeedbackConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins string
	APIToken    string
}

type LogConfig struct {
	Level string
	File  string
}

type StorageConfig struct {
	DataDir string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
}

type EmbeddingConfig struct {
	Dimensions int
	Timeout    string
}

// VectorConfig selects and configures the k-NN store.
type VectorConfig struct {
	Backend         string
	ElasticURL      string
	ElasticIndex    string
	ElasticUsername string
	ElasticPassword string
	PostgresDSN     string
}

type RetrievalConfig struct {
	TopK          int
	NumCandidates int
	SearchTimeout string
}

type ComposerConfig struct {
	GoodFeedbackCap int
	BadFeedbackCap  int
	ExampleCap      int
}

type GenerationConfig struct {
	Backend           string
	Model             string
	Timeout           string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	GigaChatAPIKey    string
	GigaChatScope     string
}

type FeedbackConfig struct {
	LedgerPath      string
	Threshold       float64
	PromoteInterval string
}

const (
	VectorSQLite        = "sqlite"
	VectorElasticsearch = "elasticsearch"
	VectorPostgres      = "postgres"

	GenerationOllama     = "ollama"
	GenerationOpenRouter = "openrouter"
	GenerationGigaChat   = "gigachat"
)

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			CORSOrigins: "http://localhost:5173",
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "all-minilm",
			ChatModel:  "llama3.1",
		},
		Embedding: EmbeddingConfig{
			Dimensions: 384,
			Timeout:    "10s",
		},
		Vector: VectorConfig{
			Backend:      VectorSQLite,
			ElasticURL:   "http://localhost:9200",
			ElasticIndex: "dql_schema",
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			NumCandidates: 100,
			SearchTimeout: "5s",
		},
		Composer: ComposerConfig{
			GoodFeedbackCap: 3,
			BadFeedbackCap:  2,
			ExampleCap:      3,
		},
		Generation: GenerationConfig{
			Backend:           GenerationOllama,
			Timeout:           "60s",
			OpenRouterBaseURL: "https://openrouter.ai/api/v1",
			GigaChatScope:     "GIGACHAT_API_PERS",
		},
		Feedback: FeedbackConfig{
			Threshold: 0,
		},
	}
}

// Load reads configuration in layers: defaults, the JSON file at
// $XDG_CONFIG_HOME/dqlgen/config.json, a .env file in the working directory,
// and finally DQLGEN_* environment variables. Secrets are only read from the
// environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, dotenv string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if dotenv != "" {
		// godotenv.Load never overrides variables that are already set.
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v\n", dotenv, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enum keys, positive sizes and duration syntax.
func (c Config) Validate() error {
	var errs []error

	switch c.Vector.Backend {
	case VectorSQLite, VectorElasticsearch, VectorPostgres:
	default:
		errs = append(errs, fmt.Errorf("vector.backend must be one of sqlite, elasticsearch, postgres (got %q)", c.Vector.Backend))
	}
	if c.Vector.Backend == VectorPostgres && c.Vector.PostgresDSN == "" {
		errs = append(errs, errors.New("vector.backend=postgres requires DQLGEN_POSTGRES_DSN"))
	}

	switch c.Generation.Backend {
	case GenerationOllama, GenerationOpenRouter, GenerationGigaChat:
	default:
		errs = append(errs, fmt.Errorf("generation.backend must be one of ollama, openrouter, gigachat (got %q)", c.Generation.Backend))
	}

	for key, v := range map[string]int{
		"server.port":              c.Server.Port,
		"embedding.dimensions":     c.Embedding.Dimensions,
		"retrieval.top_k":          c.Retrieval.TopK,
		"retrieval.num_candidates": c.Retrieval.NumCandidates,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %d)", key, v))
		}
	}
	for key, v := range map[string]int{
		"composer.good_feedback_cap": c.Composer.GoodFeedbackCap,
		"composer.bad_feedback_cap":  c.Composer.BadFeedbackCap,
		"composer.example_cap":       c.Composer.ExampleCap,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %d)", key, v))
		}
	}

	for key, v := range map[string]string{
		"embedding.timeout":         c.Embedding.Timeout,
		"retrieval.search_timeout":  c.Retrieval.SearchTimeout,
		"generation.timeout":        c.Generation.Timeout,
		"feedback.promote_interval": c.Feedback.PromoteInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

// EmbedTimeout returns the parsed per-call embedding timeout.
func (c Config) EmbedTimeout() time.Duration {
	return parseDurationOr(c.Embedding.Timeout, 10*time.Second)
}

// SearchTimeout returns the parsed retrieval timeout.
func (c Config) SearchTimeout() time.Duration {
	return parseDurationOr(c.Retrieval.SearchTimeout, 5*time.Second)
}

// GenerationTimeout returns the parsed generation timeout.
func (c Config) GenerationTimeout() time.Duration {
	return parseDurationOr(c.Generation.Timeout, 60*time.Second)
}

// PromoteInterval returns the periodic promotion interval; zero disables it.
func (c Config) PromoteInterval() time.Duration {
	return parseDurationOr(c.Feedback.PromoteInterval, 0)
}

// LedgerPath returns the feedback ledger location, defaulting into the data dir.
func (c Config) LedgerPath() string {
	if c.Feedback.LedgerPath != "" {
		return c.Feedback.LedgerPath
	}
	return filepath.Join(c.Storage.DataDir, "feedback.csv")
}

// DBPath returns the SQLite database location.
func (c Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "dqlgen.db")
}

// Origins splits the comma-separated CORS origin list.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.Server.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// OllamaModels lists the models that must be present locally. The embedding
// model is always needed; the chat model only with the ollama backend.
func (c Config) OllamaModels() []string {
	models := []string{c.Ollama.EmbedModel}
	if c.Generation.Backend == GenerationOllama {
		models = append(models, c.GenerationModel())
	}
	return models
}

// GenerationModel returns the chat model for the selected backend.
func (c Config) GenerationModel() string {
	if c.Generation.Model != "" {
		return c.Generation.Model
	}
	switch c.Generation.Backend {
	case GenerationOpenRouter:
		return "openai/gpt-4o-mini"
	case GenerationGigaChat:
		return "GigaChat"
	}
	return c.Ollama.ChatModel
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "dqlgen-data"
		}
	}
	return filepath.Join(dir, "dqlgen")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "dqlgen", "config.json")
}
