package icd10

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/ehr/codingassist/internal/platform/cmsfile"
)

// Indexed field names.
const (
	fieldCode      = "code"
	fieldShortDesc = "short_desc"
	fieldLongDesc  = "long_desc"
)

// indexBatchSize bounds the number of documents per bleve batch.
const indexBatchSize = 5000

type codeDoc struct {
	Code      string `json:"code"`
	ShortDesc string `json:"short_desc"`
	LongDesc  string `json:"long_desc"`
}

// BleveCodeRepo is a CodeRepository over an embedded bleve index. Phrase
// mode runs a match-phrase query on the long description, free-text mode an
// OR match query. Document IDs are CMS-format codes.
type BleveCodeRepo struct {
	index bleve.Index
}

var _ CodeRepository = (*BleveCodeRepo)(nil)

func codeIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldLongDesc, text)

	stored := bleve.NewTextFieldMapping()
	stored.Index = false
	docMapping.AddFieldMappingsAt(fieldShortDesc, stored)

	keyword := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt(fieldCode, keyword)

	im.AddDocumentMapping("code", docMapping)
	im.DefaultType = "code"
	im.DefaultMapping = docMapping
	return im
}

// OpenBleveCodeRepo opens the index at path, creating an empty one when the
// path does not exist yet.
func OpenBleveCodeRepo(path string) (*BleveCodeRepo, error) {
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open bleve index: %w", err)
		}
		return &BleveCodeRepo{index: index}, nil
	}
	index, err := bleve.New(path, codeIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &BleveCodeRepo{index: index}, nil
}

// NewMemBleveCodeRepo creates an in-memory index.
func NewMemBleveCodeRepo() (*BleveCodeRepo, error) {
	index, err := bleve.NewMemOnly(codeIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create in-memory bleve index: %w", err)
	}
	return &BleveCodeRepo{index: index}, nil
}

// IndexRecords adds or replaces records in the index.
func (r *BleveCodeRepo) IndexRecords(records []cmsfile.Record) error {
	batch := r.index.NewBatch()
	for _, rec := range records {
		code := ToCMSFormat(rec.Code)
		if code == "" {
			continue
		}
		doc := codeDoc{Code: code, ShortDesc: rec.ShortDescription, LongDesc: rec.LongDescription}
		if err := batch.Index(code, doc); err != nil {
			return fmt.Errorf("index %s: %w", code, err)
		}
		if batch.Size() >= indexBatchSize {
			if err := r.index.Batch(batch); err != nil {
				return fmt.Errorf("flush bleve batch: %w", err)
			}
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := r.index.Batch(batch); err != nil {
			return fmt.Errorf("flush bleve batch: %w", err)
		}
	}
	return nil
}

// DocCount returns the number of indexed codes.
func (r *BleveCodeRepo) DocCount() (uint64, error) {
	return r.index.DocCount()
}

// Close closes the underlying index.
func (r *BleveCodeRepo) Close() error {
	return r.index.Close()
}

func bleveQuery(query string, mode SearchMode) (blevequery.Query, error) {
	switch mode {
	case ModePhrase:
		q := bleve.NewMatchPhraseQuery(query)
		q.SetField(fieldLongDesc)
		return q, nil
	case ModeFreeText:
		q := bleve.NewMatchQuery(query)
		q.SetField(fieldLongDesc)
		q.SetOperator(blevequery.MatchQueryOperatorOr)
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported search mode %d", mode)
	}
}

// FullTextSearch scores hits as floats but reports integer ranks, so hits
// that tie on the rounded rank are reordered by code. The fetch grows until
// every hit sharing the rank at the page boundary is seen.
func (r *BleveCodeRepo) FullTextSearch(ctx context.Context, query string, mode SearchMode, limit int) ([]DbResult, error) {
	if limit < 1 {
		return []DbResult{}, nil
	}
	q, err := bleveQuery(query, mode)
	if err != nil {
		return nil, err
	}

	var out []DbResult
	for size := limit + 1; ; size *= 2 {
		req := bleve.NewSearchRequest(q)
		req.Size = size
		req.Fields = []string{fieldCode, fieldShortDesc, fieldLongDesc}
		req.SortBy([]string{"-_score", "_id"})

		res, err := r.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("icd10 %s search: %w", mode, err)
		}

		out = make([]DbResult, 0, len(res.Hits))
		for _, hit := range res.Hits {
			out = append(out, DbResult{
				Code:             hit.ID,
				ShortDescription: stringField(hit.Fields, fieldShortDesc),
				LongDescription:  stringField(hit.Fields, fieldLongDesc),
				Rank:             int(math.Round(hit.Score * 1000)),
			})
		}
		if len(out) < size || out[len(out)-1].Rank < out[limit-1].Rank {
			break
		}
	}

	sortByRank(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortByRank orders results by rank descending, then code ascending.
func sortByRank(results []DbResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank > results[j].Rank
		}
		return results[i].Code < results[j].Code
	})
}

func (r *BleveCodeRepo) CountMatches(ctx context.Context, query string, mode SearchMode) (int, error) {
	q, err := bleveQuery(query, mode)
	if err != nil {
		return 0, err
	}
	req := bleve.NewSearchRequest(q)
	req.Size = 0
	res, err := r.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("icd10 %s count: %w", mode, err)
	}
	return int(res.Total), nil
}

func (r *BleveCodeRepo) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	ids := make([]string, len(codes))
	for i, c := range codes {
		ids[i] = strings.ToUpper(c)
	}
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery(ids))
	req.Size = len(ids)
	res, err := r.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("icd10 validate codes: %w", err)
	}
	found := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		found = append(found, hit.ID)
	}
	return found, nil
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}
