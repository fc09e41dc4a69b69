package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "DQLGEN_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "DQLGEN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origins", typ: kString, env: "DQLGEN_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "server.api_token", typ: kString, env: "DQLGEN_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "DQLGEN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "DQLGEN_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DQLGEN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DQLGEN_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "DQLGEN_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "DQLGEN_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "DQLGEN_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "embedding.timeout", typ: kString, env: "DQLGEN_EMBEDDING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Timeout },
	},
	{
		key: "vector.backend", typ: kString, env: "DQLGEN_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Vector.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Backend },
	},
	{
		key: "elastic.url", typ: kString, env: "DQLGEN_ELASTIC_URL",
		apply:   func(cfg *Config, v any) { cfg.Vector.ElasticURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.ElasticURL },
	},
	{
		key: "elastic.index", typ: kString, env: "DQLGEN_ELASTIC_INDEX",
		apply:   func(cfg *Config, v any) { cfg.Vector.ElasticIndex = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.ElasticIndex },
	},
	{
		key: "elastic.username", typ: kString, env: "DQLGEN_ELASTIC_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.Vector.ElasticUsername = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.ElasticUsername },
	},
	{
		key: "elastic.password", typ: kString, env: "DQLGEN_ELASTIC_PASSWORD",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Vector.ElasticPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.ElasticPassword },
	},
	{
		key: "postgres.dsn", typ: kString, env: "DQLGEN_POSTGRES_DSN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Vector.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.PostgresDSN },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "DQLGEN_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.num_candidates", typ: kInt, env: "DQLGEN_RETRIEVAL_NUM_CANDIDATES",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.NumCandidates = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.NumCandidates },
	},
	{
		key: "retrieval.search_timeout", typ: kString, env: "DQLGEN_RETRIEVAL_SEARCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SearchTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.SearchTimeout },
	},
	{
		key: "composer.good_feedback_cap", typ: kInt, env: "DQLGEN_COMPOSER_GOOD_FEEDBACK_CAP",
		apply:   func(cfg *Config, v any) { cfg.Composer.GoodFeedbackCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Composer.GoodFeedbackCap },
	},
	{
		key: "composer.bad_feedback_cap", typ: kInt, env: "DQLGEN_COMPOSER_BAD_FEEDBACK_CAP",
		apply:   func(cfg *Config, v any) { cfg.Composer.BadFeedbackCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Composer.BadFeedbackCap },
	},
	{
		key: "composer.example_cap", typ: kInt, env: "DQLGEN_COMPOSER_EXAMPLE_CAP",
		apply:   func(cfg *Config, v any) { cfg.Composer.ExampleCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Composer.ExampleCap },
	},
	{
		key: "generation.backend", typ: kString, env: "DQLGEN_GENERATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Backend },
	},
	{
		key: "generation.model", typ: kString, env: "DQLGEN_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.timeout", typ: kString, env: "DQLGEN_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "DQLGEN_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generation.OpenRouterBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.OpenRouterBaseURL },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "DQLGEN_OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Generation.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.OpenRouterAPIKey },
	},
	{
		key: "gigachat.api_key", typ: kString, env: "DQLGEN_GIGACHAT_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Generation.GigaChatAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.GigaChatAPIKey },
	},
	{
		key: "gigachat.scope", typ: kString, env: "DQLGEN_GIGACHAT_SCOPE",
		apply:   func(cfg *Config, v any) { cfg.Generation.GigaChatScope = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.GigaChatScope },
	},
	{
		key: "feedback.ledger_path", typ: kString, env: "DQLGEN_FEEDBACK_LEDGER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Feedback.LedgerPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Feedback.LedgerPath },
	},
	{
		key: "feedback.threshold", typ: kFloat, env: "DQLGEN_FEEDBACK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Feedback.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Feedback.Threshold },
	},
	{
		key: "feedback.promote_interval", typ: kString, env: "DQLGEN_FEEDBACK_PROMOTE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Feedback.PromoteInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Feedback.PromoteInterval },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
