package icd10

import "context"

// SearchMode selects how a query is matched against code descriptions.
type SearchMode int

const (
	// ModePhrase matches the query as a literal phrase.
	ModePhrase SearchMode = iota
	// ModeFreeText matches any of the query's terms by relevance.
	ModeFreeText
)

func (m SearchMode) String() string {
	switch m {
	case ModePhrase:
		return "phrase"
	case ModeFreeText:
		return "freetext"
	default:
		return "unknown"
	}
}

// CodeRepository provides the query primitives over the authoritative
// ICD-10-CM code table.
type CodeRepository interface {
	// FullTextSearch returns at most limit rows matching query in mode,
	// ordered by rank descending then code ascending.
	FullTextSearch(ctx context.Context, query string, mode SearchMode, limit int) ([]DbResult, error)

	// CountMatches returns the total number of rows matching query in mode.
	CountMatches(ctx context.Context, query string, mode SearchMode) (int, error)

	// ExistingCodes returns the codes among codes (CMS form, compared
	// case-insensitively) that exist in the table, upper-cased.
	ExistingCodes(ctx context.Context, codes []string) ([]string, error)
}
