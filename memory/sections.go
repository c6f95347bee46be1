// Package memory indexes written sections so later sections can recall
// relevant earlier prose.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/vinayprograms/bookshelf/novel"
)

// SectionIndex is a BM25 index over completed sections.
type SectionIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	order int
}

// Config configures a SectionIndex.
type Config struct {
	// Path of an on-disk index. Empty keeps the index in memory.
	Path string
}

// SectionDocument is one indexed section.
type SectionDocument struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is one recalled section.
type Hit struct {
	ID      string
	Key     string
	Title   string
	Content string
	Order   int
	Score   float64
}

// NewSectionIndex opens or creates an index.
func NewSectionIndex(cfg Config) (*SectionIndex, error) {
	if cfg.Path == "" {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
		return &SectionIndex{index: index}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	var (
		index bleve.Index
		err   error
	)
	if _, statErr := os.Stat(cfg.Path); os.IsNotExist(statErr) {
		index, err = bleve.New(cfg.Path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	} else {
		index, err = bleve.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open bleve index: %w", err)
		}
	}

	s := &SectionIndex{index: index}
	if n, err := index.DocCount(); err == nil {
		s.order = int(n)
	}
	return s, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	keyword := bleve.NewKeywordFieldMapping()
	numeric := bleve.NewNumericFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("key", keyword)
	doc.AddFieldMappingsAt("order", numeric)
	doc.AddFieldMappingsAt("created_at", date)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// Remember indexes a completed section and returns its document ID.
func (s *SectionIndex) Remember(ctx context.Context, key, title, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := SectionDocument{
		ID:        uuid.New().String(),
		Key:       key,
		Title:     title,
		Content:   content,
		Order:     s.order,
		CreatedAt: time.Now(),
	}
	if err := s.index.Index(doc.ID, doc); err != nil {
		return "", fmt.Errorf("failed to index section: %w", err)
	}
	s.order++
	return doc.ID, nil
}

// Recall returns up to limit sections relevant to queryText, in the order
// they were written. With no usable query terms the most recent sections
// are returned.
func (s *SectionIndex) Recall(ctx context.Context, queryText string, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 3
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var req *bleve.SearchRequest
	if terms := keywords(queryText); len(terms) > 0 {
		req = bleve.NewSearchRequest(termsQuery(terms))
	} else {
		req = bleve.NewSearchRequest(bleve.NewMatchAllQuery())
		req.SortBy([]string{"-order"})
	}
	req.Size = limit
	req.Fields = []string{"*"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		hit.Key, _ = h.Fields["key"].(string)
		hit.Title, _ = h.Fields["title"].(string)
		hit.Content, _ = h.Fields["content"].(string)
		if o, ok := h.Fields["order"].(float64); ok {
			hit.Order = int(o)
		}
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Order < hits[j].Order })
	return hits, nil
}

// Summary renders recalled sections as "Title: excerpt" lines, each excerpt
// cut to the last maxChars characters.
func (s *SectionIndex) Summary(ctx context.Context, queryText string, limit, maxChars int) (string, error) {
	hits, err := s.Recall(ctx, queryText, limit)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, h := range hits {
		sb.WriteString(h.Title)
		sb.WriteString(": ")
		sb.WriteString(novel.Tail(h.Content, maxChars))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// Count returns the number of indexed sections.
func (s *SectionIndex) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Close releases the index.
func (s *SectionIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// termsQuery matches any term in title or content, favoring titles.
func termsQuery(terms []string) query.Query {
	var qs []query.Query
	for _, t := range terms {
		content := bleve.NewMatchQuery(t)
		content.SetField("content")
		title := bleve.NewMatchQuery(t)
		title.SetField("title")
		title.SetBoost(2)
		qs = append(qs, content, title)
	}
	return bleve.NewDisjunctionQuery(qs...)
}
