package feedback

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

// Embedder turns texts into vectors, preserving order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter receives promoted items.
type Upserter interface {
	Upsert(ctx context.Context, items []knowledge.Item) error
}

var itemNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dqlgen:feedback"))

var promotedTags = []string{"user_curated", "feedback"}

// Promoter converts ledger records into feedback context items.
type Promoter struct {
	ledger    *Ledger
	embedder  Embedder
	threshold float64
	logger    *zap.Logger
}

func NewPromoter(ledger *Ledger, embedder Embedder, threshold float64, logger *zap.Logger) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{ledger: ledger, embedder: embedder, threshold: threshold, logger: logger}
}

// PromoteAll recomputes the promoted item for every usable ledger record, in
// ledger order. Output depends only on the ledger contents.
func (p *Promoter) PromoteAll(ctx context.Context) ([]knowledge.Item, error) {
	records, err := p.ledger.Records(ctx)
	if err != nil {
		return nil, err
	}

	usable := make([]Record, 0, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.Input) == "" || strings.TrimSpace(r.Query) == "" {
			continue
		}
		v, err := ParseVerdict(string(r.Verdict))
		if err != nil {
			p.logger.Warn("skipping feedback row", zap.Int("row", i+1), zap.Error(err))
			continue
		}
		r.Verdict = v
		usable = append(usable, r)
	}
	if len(usable) == 0 {
		return []knowledge.Item{}, nil
	}

	texts := make([]string, len(usable))
	for i, r := range usable {
		texts[i] = r.Input
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding feedback inputs: %w", err)
	}

	items := make([]knowledge.Item, len(usable))
	for i, r := range usable {
		items[i] = p.item(r, vecs[i])
	}
	return items, nil
}

func (p *Promoter) item(r Record, vec []float32) knowledge.Item {
	score := r.Verdict.Score()
	t := knowledge.TypeFeedbackPositive
	if score < p.threshold {
		t = knowledge.TypeFeedbackNegative
	}
	return knowledge.Item{
		ID:         recordID(r),
		Type:       t,
		Payload:    knowledge.ExamplePayload{NL: r.Input, Query: r.Query},
		Provenance: knowledge.ProvenanceFeedback,
		Verdict:    score,
		Comment:    r.Comment,
		Tags:       append([]string(nil), promotedTags...),
		CreatedAt:  r.Timestamp,
		Embedding:  vec,
	}
}

func recordID(r Record) string {
	key := strings.Join([]string{
		r.Input, r.Query, string(r.Verdict), r.Comment, r.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}, "\x00")
	return uuid.NewSHA1(itemNamespace, []byte(key)).String()
}

// PromoteAndStore promotes the whole ledger and upserts the result. Item IDs
// are stable, so repeated runs only overwrite identical items.
func (p *Promoter) PromoteAndStore(ctx context.Context, store Upserter) (int, error) {
	items, err := p.PromoteAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	if err := store.Upsert(ctx, items); err != nil {
		return 0, fmt.Errorf("storing promoted feedback: %w", err)
	}
	p.logger.Info("feedback promoted", zap.Int("items", len(items)))
	return len(items), nil
}
