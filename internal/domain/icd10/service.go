package icd10

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrEmptyQuery is returned when a search is requested without query text.
var ErrEmptyQuery = errors.New("query is required")

// Suggester proposes codes for a diagnosis given the database results.
type Suggester interface {
	Suggest(ctx context.Context, diagnosis string, dbResults []DbResult) SuggestionBundle
}

// ServiceConfig holds the orchestration settings. FilterInvalid drops
// suggestions whose code is not in the code table.
type ServiceConfig struct {
	DefaultMaxResults int
	FilterInvalid     bool
	AIModel           string
	AIVersion         string
	AITemperature     float64
}

// Service answers search requests: database search, model suggestions,
// validation, and presentation.
type Service struct {
	search    *SearchEngine
	suggester Suggester
	validator *Validator
	cfg       ServiceConfig
	logger    zerolog.Logger
}

// NewService wires a Service. A nil suggester yields no suggestions.
func NewService(search *SearchEngine, suggester Suggester, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.DefaultMaxResults < 1 {
		cfg.DefaultMaxResults = 10
	}
	return &Service{
		search:    search,
		suggester: suggester,
		validator: NewValidator(search),
		cfg:       cfg,
		logger:    logger.With().Str("component", "icd10").Logger(),
	}
}

// HandleSearch runs the full pipeline for query. A non-positive maxResults
// selects the configured default.
func (s *Service) HandleSearch(ctx context.Context, query string, maxResults int) (*SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if maxResults <= 0 {
		maxResults = s.cfg.DefaultMaxResults
	}
	maxResults = s.search.ClampResults(maxResults)

	outcome, err := s.search.Search(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search codes: %w", err)
	}

	var bundle SuggestionBundle
	if s.suggester != nil {
		bundle = s.suggester.Suggest(ctx, query, outcome.DbResults)
	}

	suggestions := mergeSuggestions(bundle)
	for i := range suggestions {
		suggestions[i].Code = ToCMSFormat(suggestions[i].Code)
	}

	validated, err := s.validator.Validate(ctx, suggestions)
	if err != nil {
		return nil, fmt.Errorf("validate suggestions: %w", err)
	}
	if s.cfg.FilterInvalid {
		validated = keepValid(validated)
	}
	outcome.AiResults = validated

	s.logger.Debug().
		Str("query", query).
		Bool("fallback", outcome.UsedFallback).
		Int("total", outcome.TotalMatchCount).
		Int("db_results", len(outcome.DbResults)).
		Int("suggestions", len(outcome.AiResults)).
		Msg("icd10 search")

	return s.present(outcome), nil
}

// ValidateCodes reports, in input order, whether each code exists. Codes may
// be given in either textual form and are returned human-readable.
func (s *Service) ValidateCodes(ctx context.Context, codes []string) (*ValidateResponse, error) {
	cms := make([]string, 0, len(codes))
	for _, c := range codes {
		cms = append(cms, ToCMSFormat(c))
	}
	valid, err := s.search.ValidateCodes(ctx, cms)
	if err != nil {
		return nil, fmt.Errorf("validate codes: %w", err)
	}

	resp := &ValidateResponse{Results: make([]CodeValidity, 0, len(codes))}
	for _, c := range cms {
		if c == "" {
			continue
		}
		resp.Results = append(resp.Results, CodeValidity{
			Code:    ToHumanReadableFormat(c),
			IsValid: valid.Has(c),
		})
	}
	return resp, nil
}

func (s *Service) present(outcome *SearchOutcome) *SearchResponse {
	resp := &SearchResponse{
		UsedFreeTextFallback: outcome.UsedFallback,
		TotalSQLResultCount:  outcome.TotalMatchCount,
		AIModel:              s.cfg.AIModel,
		AIVersion:            s.cfg.AIVersion,
		AITemperature:        s.cfg.AITemperature,
		DbResults:            make([]DbResult, len(outcome.DbResults)),
		SearchResults:        make([]SuggestedResult, len(outcome.AiResults)),
	}
	for i, r := range outcome.DbResults {
		r.Code = ToHumanReadableFormat(r.Code)
		resp.DbResults[i] = r
	}
	for i, r := range outcome.AiResults {
		r.Code = ToHumanReadableFormat(r.Code)
		resp.SearchResults[i] = r
	}
	return resp
}

// mergeSuggestions concatenates reranked then additional suggestions,
// keeping the first occurrence of each code.
func mergeSuggestions(b SuggestionBundle) []SuggestedResult {
	out := make([]SuggestedResult, 0, b.Len())
	seen := make(map[string]struct{}, b.Len())
	for _, list := range [][]SuggestedResult{b.Reranked, b.Additional} {
		for _, r := range list {
			key := ToCMSFormat(r.Code)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func keepValid(results []SuggestedResult) []SuggestedResult {
	out := results[:0]
	for _, r := range results {
		if r.IsValid {
			out = append(out, r)
		}
	}
	return out
}
