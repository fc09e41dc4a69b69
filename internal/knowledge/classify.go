package knowledge

import (
	"errors"

	"go.uber.org/zap"
)

// Classifier routes raw search hits into bundle buckets.
type Classifier struct {
	logger *zap.Logger
}

// NewClassifier creates a Classifier. A nil logger disables warnings.
func NewClassifier(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{logger: logger}
}

// Classify partitions hits into a fresh bundle. Hits are routed by type first,
// then by feedback provenance. Anything else lands in Unhandled with a warning.
func (c *Classifier) Classify(hits []Hit) Bundle {
	b := NewBundle()
	for _, h := range hits {
		c.route(&b, h)
	}
	return b
}

func (c *Classifier) route(b *Bundle, h Hit) {
	it, err := FromDocument(h.ID, h.Document)
	if err == nil {
		it.Similarity = h.Similarity
		*b.bucket(it.Type) = append(*b.bucket(it.Type), it)
		return
	}

	if errors.Is(err, ErrUnknownType) && h.Document.Source == ProvenanceFeedback {
		if fb, ferr := feedbackFromDocument(h); ferr == nil {
			b.Feedback = append(b.Feedback, fb)
			return
		}
	}

	c.logger.Warn("unhandled context item",
		zap.String("id", h.ID),
		zap.String("type", h.Document.Type),
		zap.String("source", h.Document.Source),
		zap.Error(err),
	)
	b.Unhandled = append(b.Unhandled, h)
}

// feedbackFromDocument builds a feedback item from a hit whose type tag is
// missing or unknown but whose provenance marks it as feedback.
func feedbackFromDocument(h Hit) (Item, error) {
	d := h.Document
	if d.NL == "" || d.Query == "" {
		return Item{}, ErrInvalidPayload
	}
	d.Type = string(TypeFeedbackPositive)
	if d.Score < 0 {
		d.Type = string(TypeFeedbackNegative)
	}
	it, err := FromDocument(h.ID, d)
	if err != nil {
		return Item{}, err
	}
	it.Similarity = h.Similarity
	return it, nil
}
