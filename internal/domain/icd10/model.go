package icd10

// DbResult is a row returned by a full-text search over the authoritative
// ICD-10-CM code table.
type DbResult struct {
	Code             string `db:"code" json:"code"`
	ShortDescription string `db:"short_desc" json:"shortDescription,omitempty"`
	LongDescription  string `db:"long_desc" json:"description"`
	Rank             int    `db:"rank" json:"rank"`
}

// Suggestion sources reported by the language model.
const (
	SourceReranked   = "reranked"
	SourceAdditional = "additional"
)

// SuggestedResult is a code proposed by the language model. IsValid is only
// meaningful after the Validator has annotated it.
type SuggestedResult struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Rank        int     `json:"rank"`
	Reason      *string `json:"reason"`
	Source      string  `json:"source"`
	Confidence  int     `json:"confidence"`
	IsValid     bool    `json:"isValid"`
}

// SuggestionBundle is the structured payload parsed out of a model response.
type SuggestionBundle struct {
	Reranked   []SuggestedResult `json:"reranked"`
	Additional []SuggestedResult `json:"additional"`
}

// Len returns the total number of suggestions in the bundle.
func (b SuggestionBundle) Len() int {
	return len(b.Reranked) + len(b.Additional)
}

// SearchOutcome is the result of one Search call.
type SearchOutcome struct {
	UsedFallback    bool
	TotalMatchCount int
	DbResults       []DbResult
	AiResults       []SuggestedResult
}

// CodeSet is a set of CMS-format codes.
type CodeSet map[string]struct{}

// Has reports whether code, in either textual form, is in the set.
func (s CodeSet) Has(code string) bool {
	_, ok := s[ToCMSFormat(code)]
	return ok
}

// SearchRequest is the JSON body accepted by the search endpoint.
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults *int   `json:"maxResults"`
}

// SearchResponse is the JSON body returned by the search endpoint. Codes in
// both result lists are in human-readable form.
type SearchResponse struct {
	UsedFreeTextFallback bool              `json:"usedFreeTextFallback"`
	TotalSQLResultCount  int               `json:"totalSqlResultCount"`
	AIModel              string            `json:"aiModel"`
	AIVersion            string            `json:"aiVersion"`
	AITemperature        float64           `json:"aiTemperature"`
	DbResults            []DbResult        `json:"dbResults"`
	SearchResults        []SuggestedResult `json:"searchResults"`
}

// ValidateRequest is the JSON body accepted by the validate endpoint.
type ValidateRequest struct {
	Codes []string `json:"codes"`
}

// CodeValidity reports whether a single code exists in the code table.
type CodeValidity struct {
	Code    string `json:"code"`
	IsValid bool   `json:"isValid"`
}

// ValidateResponse is the JSON body returned by the validate endpoint.
type ValidateResponse struct {
	Results []CodeValidity `json:"results"`
}
