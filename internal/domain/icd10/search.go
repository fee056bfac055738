package icd10

import (
	"context"
	"strings"
)

// SearchEngine runs the two-phase full-text search and answers code
// validity questions against a CodeRepository.
type SearchEngine struct {
	repo              CodeRepository
	maxAllowedResults int
}

// NewSearchEngine creates a SearchEngine. maxAllowedResults is the ceiling
// applied to every requested page size; values below 1 are treated as 1.
func NewSearchEngine(repo CodeRepository, maxAllowedResults int) *SearchEngine {
	if maxAllowedResults < 1 {
		maxAllowedResults = 1
	}
	return &SearchEngine{repo: repo, maxAllowedResults: maxAllowedResults}
}

// MaxAllowedResults returns the configured page-size ceiling.
func (e *SearchEngine) MaxAllowedResults() int {
	return e.maxAllowedResults
}

// ClampResults bounds n into [1, MaxAllowedResults].
func (e *SearchEngine) ClampResults(n int) int {
	if n < 1 {
		return 1
	}
	if n > e.maxAllowedResults {
		return e.maxAllowedResults
	}
	return n
}

// Search runs a phrase search for query and, when that matches nothing,
// a free-text search. The outcome carries the page and total count of
// whichever mode produced it. A blank query returns an empty outcome
// without touching the repository.
func (e *SearchEngine) Search(ctx context.Context, query string, maxResults int) (*SearchOutcome, error) {
	limit := e.ClampResults(maxResults)
	outcome := &SearchOutcome{DbResults: []DbResult{}, AiResults: []SuggestedResult{}}
	if strings.TrimSpace(query) == "" {
		return outcome, nil
	}

	results, total, err := e.fullTextQuery(ctx, query, ModePhrase, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		results, total, err = e.fullTextQuery(ctx, query, ModeFreeText, limit)
		if err != nil {
			return nil, err
		}
		outcome.UsedFallback = true
	}

	if results != nil {
		outcome.DbResults = results
	}
	outcome.TotalMatchCount = total
	return outcome, nil
}

// fullTextQuery fetches the page and then the total count for one mode.
func (e *SearchEngine) fullTextQuery(ctx context.Context, query string, mode SearchMode, limit int) ([]DbResult, int, error) {
	results, err := e.repo.FullTextSearch(ctx, query, mode, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := e.repo.CountMatches(ctx, query, mode)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// ValidateCodes returns the distinct codes among codes that exist in the
// code table. Codes are expected in CMS form; comparison ignores case.
func (e *SearchEngine) ValidateCodes(ctx context.Context, codes []string) (CodeSet, error) {
	valid := CodeSet{}

	seen := make(map[string]struct{}, len(codes))
	distinct := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		distinct = append(distinct, c)
	}
	if len(distinct) == 0 {
		return valid, nil
	}

	found, err := e.repo.ExistingCodes(ctx, distinct)
	if err != nil {
		return nil, err
	}
	for _, c := range found {
		c = strings.ToUpper(c)
		if _, ok := seen[c]; ok {
			valid[c] = struct{}{}
		}
	}
	return valid, nil
}
