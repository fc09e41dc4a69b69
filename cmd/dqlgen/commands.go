package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/dqlgen/internal/config"
	"github.com/kalambet/dqlgen/internal/engine"
	"github.com/kalambet/dqlgen/internal/feedback"
	"github.com/kalambet/dqlgen/internal/indexer"
	"github.com/kalambet/dqlgen/internal/knowledge"
)

// --- generate / prompt ---

type generateResult struct {
	ID       string `json:"id"`
	DQL      string `json:"dql"`
	Degraded bool   `json:"degraded"`
}

var generateCmd = &cobra.Command{
	Use:   "generate <request>",
	Short: "Generate a DQL query",
	Long: `Generate a DQL query for a natural-language request. The query is
printed to stdout.

Examples:
  dqlgen generate "all documents created by jsmith last week"
  dqlgen generate --remote "folders under /Finance"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		utterance := strings.Join(args, " ")
		remote, _ := cmd.Flags().GetBool("remote")

		var res generateResult
		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if res, err = generateRemote(cmd.Context(), client, utterance); err != nil {
				return err
			}
		} else {
			err := withApp(cmd.Context(), true, func(ctx context.Context, a *app) error {
				out, err := a.service.Generate(ctx, utterance)
				res = generateResult{ID: out.ID, DQL: out.Query, Degraded: out.Degraded}
				return err
			})
			if err != nil {
				return err
			}
		}

		if res.Degraded {
			printWarning("knowledge base unavailable; query generated without context")
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.DQL)
		return nil
	},
}

func generateRemote(ctx context.Context, c *apiClient, utterance string) (generateResult, error) {
	resp, err := c.post(ctx, "/generate", map[string]string{"query": utterance})
	if err != nil {
		return generateResult{}, err
	}
	var res generateResult
	if err := decodeJSON(resp, &res); err != nil {
		return generateResult{}, err
	}
	return res, nil
}

var promptCmd = &cobra.Command{
	Use:   "prompt <request>",
	Short: "Print the grounded prompt without calling the model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		utterance := strings.Join(args, " ")
		return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
			p, err := a.newService(nil).Preview(ctx, utterance)
			if err != nil {
				return err
			}
			if p.Degraded {
				printWarning("retrieval failed; prompt has no context")
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.Prompt)
			printStatus("Context items", "%d", p.Bundle.Len())
			return nil
		})
	},
}

func init() {
	generateCmd.Flags().Bool("remote", false, "send the request to a running server")
}

// --- feedback / promote ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record a verdict on a generated query",
	Long: `Record a verdict on a generated query. Run promote (or enable
feedback.promote_interval) to make it retrievable.

Example:
  dqlgen feedback --input "all cabinets" --query "SELECT * FROM dm_cabinet" --verdict good`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		query, _ := cmd.Flags().GetString("query")
		verdictStr, _ := cmd.Flags().GetString("verdict")
		comment, _ := cmd.Flags().GetString("comment")
		remote, _ := cmd.Flags().GetBool("remote")

		verdict, err := feedback.ParseVerdict(verdictStr)
		if err != nil {
			return err
		}
		rec := feedback.Record{Input: input, Query: query, Verdict: verdict, Comment: comment}
		if err := rec.Validate(); err != nil {
			return err
		}

		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := submitFeedbackRemote(cmd.Context(), client, rec); err != nil {
				return err
			}
		} else {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := feedback.NewLedger(cfg.LedgerPath()).Append(cmd.Context(), rec); err != nil {
				return err
			}
		}
		printSuccess("Feedback recorded (%s)", verdict)
		return nil
	},
}

func submitFeedbackRemote(ctx context.Context, c *apiClient, rec feedback.Record) error {
	resp, err := c.post(ctx, "/feedback", map[string]string{
		"input":   rec.Input,
		"query":   rec.Query,
		"verdict": string(rec.Verdict),
		"comment": rec.Comment,
	})
	if err != nil {
		return err
	}
	var out map[string]string
	return decodeJSON(resp, &out)
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Embed ledger feedback and upsert it into the vector store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
			printStep("Promoting feedback from %s", a.ledger.Path())
			n, err := a.promoter.PromoteAndStore(ctx, a.store)
			if err != nil {
				return err
			}
			printSuccess("Promoted %d feedback items", n)
			return nil
		})
	},
}

func init() {
	feedbackCmd.Flags().String("input", "", "the original request")
	feedbackCmd.Flags().String("query", "", "the generated DQL query")
	feedbackCmd.Flags().String("verdict", "", "good or bad")
	feedbackCmd.Flags().String("comment", "", "why the query is right or wrong")
	feedbackCmd.Flags().Bool("remote", false, "send the feedback to a running server")
	feedbackCmd.MarkFlagRequired("verdict")
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Load seed files into the knowledge base",
	Long: `Load seed files into the knowledge base. JSON files hold documents (an
array, or an object keyed by type); PDF, HTML, text and Markdown files are
split into guideline chunks.

Examples:
  dqlgen index --file schema.json --type schema
  dqlgen index --file all_embeddings.json --rebuild
  dqlgen index --file dql_reference.pdf --type guideline`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringSlice("file")
		typ, _ := cmd.Flags().GetString("type")
		rebuild, _ := cmd.Flags().GetBool("rebuild")
		if len(files) == 0 {
			return fmt.Errorf("--file is required")
		}
		if typ != "" {
			if _, err := knowledge.ParseType(typ); err != nil {
				return err
			}
		}

		var items []knowledge.Item
		for _, f := range files {
			loaded, err := indexer.LoadFile(f, typ)
			if err != nil {
				return err
			}
			printStep("%s: %d items", f, len(loaded))
			items = append(items, loaded...)
		}

		return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
			index := a.indexer.Index
			if rebuild {
				printWarning("Rebuilding: existing %s index will be dropped", a.cfg.Vector.Backend)
				index = a.indexer.Rebuild
			}
			n, err := index(ctx, items)
			if err != nil {
				return fmt.Errorf("indexed %d of %d items: %w", n, len(items), err)
			}
			printSuccess("Indexed %d items", n)
			return nil
		})
	},
}

func init() {
	indexCmd.Flags().StringSlice("file", nil, "seed file to load (repeatable)")
	indexCmd.Flags().String("type", "", "item type for untyped documents (e.g. schema, example, guideline)")
	indexCmd.Flags().Bool("rebuild", false, "drop the index before loading")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and component health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	printStatus("Server", "%s", serverState(ctx, clientFor(cfg, 2*time.Second)))

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if engine.NewOllamaEngine(cfg.Ollama.BaseURL).IsRunning(pingCtx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s (%d dims)", cfg.Ollama.EmbedModel, cfg.Embedding.Dimensions)
	printStatus("Generation", "%s / %s", cfg.Generation.Backend, cfg.GenerationModel())
	printStatus("Vector store", "%s", cfg.Vector.Backend)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		printStatus("Knowledge base", "unavailable (%v)", err)
	} else {
		defer a.Close()
		if n, err := a.store.Count(ctx); err == nil {
			printStatus("Knowledge base", "%d items", n)
		} else {
			printStatus("Knowledge base", "error (%v)", err)
		}
		if recs, err := a.ledger.Records(ctx); err == nil {
			printStatus("Feedback ledger", "%d records in %s", len(recs), a.ledger.Path())
		} else {
			printStatus("Feedback ledger", "error (%v)", err)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func serverState(ctx context.Context, c *apiClient) string {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return "stopped"
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("error (HTTP %d)", resp.StatusCode)
	}
	return "running at " + c.baseURL
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		keys := config.ShowAll(cfg)
		if asJSON {
			out := make(map[string]string, len(keys))
			for _, k := range keys {
				out[k.Key] = k.Value
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configShowCmd.Flags().Bool("json", false, "print as JSON")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
