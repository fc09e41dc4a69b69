package knowledge

// Bundle groups the items retrieved for one request by bucket. Every bucket is
// always present; NewBundle initialises them to empty, non-nil slices.
type Bundle struct {
	UserContext []Item `json:"user_context"`
	Glossary    []Item `json:"glossary"`
	Guideline   []Item `json:"guideline"`
	Pattern     []Item `json:"pattern"`
	Policy      []Item `json:"policy"`
	Mapping     []Item `json:"mapping"`
	IntentHint  []Item `json:"intent_hint"`
	Schema      []Item `json:"schema"`
	Example     []Item `json:"example"`

	// Feedback holds every feedback-derived hit as classified.
	Feedback []Item `json:"feedback"`
	// FeedbackGood and FeedbackBad partition Feedback by verdict sign.
	FeedbackGood []Item `json:"feedback_good"`
	FeedbackBad  []Item `json:"feedback_bad"`

	// Unhandled keeps hits that could not be routed, so nothing is lost.
	Unhandled []Hit `json:"unhandled"`
}

// NewBundle returns a bundle with every bucket present and empty.
func NewBundle() Bundle {
	return Bundle{
		UserContext:  []Item{},
		Glossary:     []Item{},
		Guideline:    []Item{},
		Pattern:      []Item{},
		Policy:       []Item{},
		Mapping:      []Item{},
		IntentHint:   []Item{},
		Schema:       []Item{},
		Example:      []Item{},
		Feedback:     []Item{},
		FeedbackGood: []Item{},
		FeedbackBad:  []Item{},
		Unhandled:    []Hit{},
	}
}

// bucket returns a pointer to the slice that holds items of type t.
func (b *Bundle) bucket(t Type) *[]Item {
	switch t {
	case TypeUserContext:
		return &b.UserContext
	case TypeGlossary:
		return &b.Glossary
	case TypeGuideline:
		return &b.Guideline
	case TypePattern:
		return &b.Pattern
	case TypePolicy:
		return &b.Policy
	case TypeMapping:
		return &b.Mapping
	case TypeIntentHint:
		return &b.IntentHint
	case TypeSchema:
		return &b.Schema
	case TypeExample:
		return &b.Example
	case TypeFeedbackPositive, TypeFeedbackNegative:
		return &b.Feedback
	}
	return nil
}

// Len returns the number of classified items, excluding the good/bad split
// (which duplicates Feedback) and counting unhandled hits.
func (b Bundle) Len() int {
	n := len(b.UserContext) + len(b.Glossary) + len(b.Guideline) + len(b.Pattern) +
		len(b.Policy) + len(b.Mapping) + len(b.IntentHint) + len(b.Schema) + len(b.Example) +
		len(b.Feedback)
	return n + len(b.Unhandled)
}

// IsBad reports whether a feedback item is a negative exemplar. The type tag
// decides; the verdict sign is consulted only for items carrying neither
// feedback type.
func IsBad(it Item) bool {
	switch it.Type {
	case TypeFeedbackNegative:
		return true
	case TypeFeedbackPositive:
		return false
	}
	return it.Verdict < 0
}

// SplitFeedback fills FeedbackGood and FeedbackBad from Feedback, preserving rank order.
func (b *Bundle) SplitFeedback() {
	good := make([]Item, 0, len(b.Feedback))
	bad := make([]Item, 0)
	for _, it := range b.Feedback {
		if IsBad(it) {
			bad = append(bad, it)
		} else {
			good = append(good, it)
		}
	}
	b.FeedbackGood = good
	b.FeedbackBad = bad
}
