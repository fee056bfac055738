package icd10

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ehr/codingassist/internal/platform/auditlog"
	"github.com/ehr/codingassist/internal/platform/llm"
)

// =========== Fake Repository ===========

type searchCall struct {
	Query string
	Mode  SearchMode
	Limit int
}

// fakeRepo matches rows by substring for ModePhrase and by any single word
// for ModeFreeText. Rank is the number of query words found.
type fakeRepo struct {
	mu         sync.Mutex
	rows       []DbResult
	searches   []searchCall
	counts     []searchCall
	existCalls [][]string
	searchErr  error
	countErr   error
	existErr   error
}

func newFakeRepo(rows ...DbResult) *fakeRepo {
	return &fakeRepo{rows: rows}
}

func diabetesRows() []DbResult {
	return []DbResult{
		{Code: "E119", ShortDescription: "Type 2 diabetes mellitus without complications", LongDescription: "Type 2 diabetes mellitus without complications"},
		{Code: "E109", ShortDescription: "Type 1 diabetes mellitus without complications", LongDescription: "Type 1 diabetes mellitus without complications"},
		{Code: "E1165", ShortDescription: "Type 2 diabetes w hyperglycemia", LongDescription: "Type 2 diabetes mellitus with hyperglycemia"},
		{Code: "O2441", ShortDescription: "Gestational diabetes in pregnancy", LongDescription: "Gestational diabetes mellitus in pregnancy"},
		{Code: "J449", ShortDescription: "Chronic obstructive pulmonary disease, unsp", LongDescription: "Chronic obstructive pulmonary disease, unspecified"},
		{Code: "I10", ShortDescription: "Essential (primary) hypertension", LongDescription: "Essential (primary) hypertension"},
	}
}

func (f *fakeRepo) match(query string, mode SearchMode) []DbResult {
	q := strings.ToLower(strings.TrimSpace(query))
	words := strings.Fields(q)
	var out []DbResult
	for _, r := range f.rows {
		desc := strings.ToLower(r.LongDescription)
		hits := 0
		switch mode {
		case ModePhrase:
			if strings.Contains(desc, q) {
				hits = len(words)
			}
		case ModeFreeText:
			for _, w := range words {
				if strings.Contains(desc, w) {
					hits++
				}
			}
		}
		if hits > 0 {
			r.Rank = hits * 100
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func (f *fakeRepo) FullTextSearch(_ context.Context, query string, mode SearchMode, limit int) ([]DbResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, searchCall{Query: query, Mode: mode, Limit: limit})
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	out := f.match(query, mode)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) CountMatches(_ context.Context, query string, mode SearchMode) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, searchCall{Query: query, Mode: mode})
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.match(query, mode)), nil
}

func (f *fakeRepo) ExistingCodes(_ context.Context, codes []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existCalls = append(f.existCalls, append([]string(nil), codes...))
	if f.existErr != nil {
		return nil, f.existErr
	}
	var found []string
	for _, c := range codes {
		for _, r := range f.rows {
			if strings.EqualFold(r.Code, c) {
				found = append(found, strings.ToUpper(r.Code))
				break
			}
		}
	}
	return found, nil
}

func (f *fakeRepo) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches) + len(f.counts) + len(f.existCalls)
}

// =========== Fake Completer / Recorder ===========

type fakeCompleter struct {
	mu       sync.Mutex
	content  string
	err      error
	delay    time.Duration
	requests []llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Content: f.content, PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []auditlog.Record
}

func (f *fakeRecorder) Record(rec auditlog.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type fakeSuggester struct {
	bundle SuggestionBundle
	calls  int
}

func (f *fakeSuggester) Suggest(_ context.Context, _ string, _ []DbResult) SuggestionBundle {
	f.calls++
	return f.bundle
}
