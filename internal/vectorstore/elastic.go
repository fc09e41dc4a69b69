package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

var _ Store = (*ElasticStore)(nil)

// maxNumCandidates is the Elasticsearch upper bound for knn.num_candidates.
const maxNumCandidates = 10000

type ElasticConfig struct {
	URL      string
	Index    string
	Username string
	Password string
	// Transport overrides the HTTP transport; tests point it at httptest.
	Transport http.RoundTripper
}

// ElasticStore keeps items in one index with a dense_vector field and uses
// approximate kNN search.
type ElasticStore struct {
	es    *elasticsearch.Client
	index string
	dims  int
}

func NewElasticStore(cfg ElasticConfig, dims int) (*ElasticStore, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &ElasticStore{es: es, index: cfg.Index, dims: dims}, nil
}

// indexMapping declares the document fields; documents carry the stored form
// of knowledge.Document.
func (s *ElasticStore) indexMapping() string {
	return fmt.Sprintf(`{
  "mappings": {
    "properties": {
      "type":        {"type": "keyword"},
      "source":      {"type": "keyword"},
      "attribute":   {"type": "keyword"},
      "description": {"type": "text"},
      "nl":          {"type": "text"},
      "dql":         {"type": "text"},
      "title":       {"type": "text"},
      "content":     {"type": "text"},
      "score":       {"type": "float"},
      "comment":     {"type": "text"},
      "tags":        {"type": "keyword"},
      "timestamp":   {"type": "date"},
      "embedding":   {"type": "dense_vector", "dims": %d, "index": true, "similarity": "cosine"}
    }
  }
}`, s.dims)
}

type esErrorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// responseError turns a failed response into an error carrying ES's error type.
func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var eb esErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Type != "" {
		return fmt.Errorf("elasticsearch %s: %s (%d): %s", op, eb.Error.Type, res.StatusCode, eb.Error.Reason)
	}
	return fmt.Errorf("elasticsearch %s: status %d: %s", op, res.StatusCode, strings.TrimSpace(string(body)))
}

func (s *ElasticStore) EnsureIndex(ctx context.Context) error {
	res, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("checking index %s: %w", s.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = s.es.Indices.Create(s.index,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(strings.NewReader(s.indexMapping())),
	)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		err := responseError("create index", res)
		// Lost a race with another creator.
		if strings.Contains(err.Error(), "resource_already_exists_exception") {
			return nil
		}
		return err
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert writes items with one _bulk request. Indexing by _id replaces any
// existing document, so repeated upserts of the same item are idempotent.
func (s *ElasticStore) Upsert(ctx context.Context, items []knowledge.Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := validateItems(s.dims, items); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		if err := enc.Encode(map[string]any{"index": map[string]string{"_id": it.ID}}); err != nil {
			return err
		}
		if err := enc.Encode(it.Document()); err != nil {
			return fmt.Errorf("encoding item %s: %w", it.ID, err)
		}
	}

	res, err := s.es.Bulk(&buf,
		s.es.Bulk.WithContext(ctx),
		s.es.Bulk.WithIndex(s.index),
		s.es.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("bulk", res)
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}
	for _, item := range br.Items {
		for _, r := range item {
			if r.Error != nil {
				return fmt.Errorf("bulk upsert of %s failed: %s: %s", r.ID, r.Error.Type, r.Error.Reason)
			}
		}
	}
	return fmt.Errorf("bulk upsert reported errors")
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string             `json:"_id"`
			Score  float64            `json:"_score"`
			Source knowledge.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticStore) searchBody(vector []float32, k, numCandidates int) ([]byte, error) {
	if numCandidates < k {
		numCandidates = k
	}
	if numCandidates > maxNumCandidates {
		numCandidates = maxNumCandidates
	}
	return json.Marshal(map[string]any{
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
		"size":    k,
		"_source": map[string]any{"excludes": []string{"embedding"}},
	})
}

// Search issues one kNN query. ES reports cosine relevance as (1+cos)/2;
// hits are mapped back to plain cosine similarity.
func (s *ElasticStore) Search(ctx context.Context, vector []float32, k, numCandidates int) ([]knowledge.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := checkDims(s.dims, vector, "query vector"); err != nil {
		return nil, err
	}
	body, err := s.searchBody(vector, k, numCandidates)
	if err != nil {
		return nil, err
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError("search", res)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if len(sr.Hits.Hits) == 0 {
		return nil, nil
	}
	hits := make([]knowledge.Hit, len(sr.Hits.Hits))
	for i, h := range sr.Hits.Hits {
		hits[i] = knowledge.Hit{ID: h.ID, Document: h.Source, Similarity: float32(2*h.Score - 1)}
	}
	return hits, nil
}

func (s *ElasticStore) Count(ctx context.Context) (int, error) {
	res, err := s.es.Count(s.es.Count.WithContext(ctx), s.es.Count.WithIndex(s.index))
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, responseError("count", res)
	}
	var cr struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return cr.Count, nil
}

func (s *ElasticStore) Reset(ctx context.Context) error {
	res, err := s.es.Indices.Delete([]string{s.index},
		s.es.Indices.Delete.WithContext(ctx),
		s.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("deleting index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete index", res)
	}
	return s.EnsureIndex(ctx)
}

func (s *ElasticStore) Close() error { return nil }
