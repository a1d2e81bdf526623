// Package catalog provides full-text search over the adapters and
// statement-type rules an operator can route documents to.
package catalog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

// Entry kinds.
const (
	KindPlugin = "plugin"
	KindRule   = "rule"
)

// Document is one searchable catalog entry.
type Document struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
	Family     string `json:"family,omitempty"`
	Extension  string `json:"extension,omitempty"`
	Company    string `json:"company"`
	Title      string `json:"title"`
	Text       string `json:"text"` // search terms and instructions
}

// Hit is a search result with its relevance score.
type Hit struct {
	Document
	Score float64 `json:"score"`
}

// Index is an in-memory search index over one catalog state.
type Index struct {
	index bleve.Index
	mu    sync.RWMutex
}

// Build indexes the given adapters and rules.
func Build(infos []plugin.Info, rules []repository.StatementTypeRule) (*Index, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	idx := &Index{index: index}

	batch := index.NewBatch()
	for _, info := range infos {
		doc := Document{
			ID:         KindPlugin + "_" + info.Identifier,
			Kind:       KindPlugin,
			Identifier: info.Identifier,
			Family:     string(info.Family),
			Company:    info.Company,
			Title:      strings.TrimSpace(info.Company + " " + info.StatementType),
			Text:       strings.Join([]string{info.SearchString, info.Instructions}, " "),
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return nil, fmt.Errorf("failed to index plugin %s: %w", info.Identifier, err)
		}
	}
	for _, rule := range rules {
		doc := Document{
			ID:         KindRule + "_" + rule.ID.String(),
			Kind:       KindRule,
			Identifier: rule.Identifier,
			Extension:  rule.Extension,
			Company:    rule.Company,
			Title:      rule.Label(),
			Text:       strings.ReplaceAll(rule.SearchExpression, "&&", " "),
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return nil, fmt.Errorf("failed to index rule %s: %w", rule.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to execute batch index: %w", err)
	}
	return idx, nil
}

// buildIndexMapping creates the Bleve index mapping for catalog documents
func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = simple.Name

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("identifier", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("family", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("extension", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("company", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("text", textFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = simple.Name
	return indexMapping
}

// Search matches q against company, title and search terms with one edit of
// typo tolerance. kind restricts results to plugins or rules when set.
func (i *Index) Search(q, kind string, limit int) ([]Hit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	match := bleve.NewMatchQuery(q)
	match.SetFuzziness(1)

	var qry query.Query = match
	if kind != "" {
		term := bleve.NewTermQuery(kind)
		term.SetField("kind")
		qry = bleve.NewConjunctionQuery(match, term)
	}

	req := bleve.NewSearchRequest(qry)
	req.Size = limit
	req.Fields = []string{"*"}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		doc := Document{ID: h.ID}
		doc.Kind, _ = h.Fields["kind"].(string)
		doc.Identifier, _ = h.Fields["identifier"].(string)
		doc.Family, _ = h.Fields["family"].(string)
		doc.Extension, _ = h.Fields["extension"].(string)
		doc.Company, _ = h.Fields["company"].(string)
		doc.Title, _ = h.Fields["title"].(string)
		doc.Text, _ = h.Fields["text"].(string)
		hits = append(hits, Hit{Document: doc, Score: h.Score})
	}
	return hits, nil
}

// DocumentCount returns the number of indexed entries.
func (i *Index) DocumentCount() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.index.DocCount()
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}
