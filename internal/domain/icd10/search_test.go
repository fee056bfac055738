package icd10

import (
	"context"
	"errors"
	"testing"
)

func TestSearchEngine_ClampResults(t *testing.T) {
	e := NewSearchEngine(newFakeRepo(), 100)
	tests := []struct {
		in, want int
	}{
		{200, 100},
		{100, 100},
		{10, 10},
		{1, 1},
		{0, 1},
		{-5, 1},
	}
	for _, tt := range tests {
		if got := e.ClampResults(tt.in); got != tt.want {
			t.Errorf("ClampResults(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewSearchEngine_MinimumCeiling(t *testing.T) {
	e := NewSearchEngine(newFakeRepo(), 0)
	if e.MaxAllowedResults() != 1 {
		t.Errorf("expected ceiling 1, got %d", e.MaxAllowedResults())
	}
}

func TestSearchEngine_Search_Phrase(t *testing.T) {
	repo := newFakeRepo(diabetesRows()...)
	e := NewSearchEngine(repo, 100)

	out, err := e.Search(context.Background(), "diabetes", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.UsedFallback {
		t.Error("phrase search matched, fallback should not be used")
	}
	if len(out.DbResults) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out.DbResults))
	}
	if out.TotalMatchCount != 4 {
		t.Errorf("expected total 4, got %d", out.TotalMatchCount)
	}
	if out.DbResults[0].Code != "E109" || out.DbResults[1].Code != "E1165" {
		t.Errorf("unexpected order: %+v", out.DbResults)
	}
	if len(repo.searches) != 1 || repo.searches[0].Mode != ModePhrase {
		t.Errorf("expected a single phrase search, got %+v", repo.searches)
	}
	if len(repo.counts) != 1 || repo.counts[0].Mode != ModePhrase {
		t.Errorf("expected a single phrase count, got %+v", repo.counts)
	}
}

func TestSearchEngine_Search_Fallback(t *testing.T) {
	repo := newFakeRepo(diabetesRows()...)
	e := NewSearchEngine(repo, 100)

	out, err := e.Search(context.Background(), "diabetes without gestational", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.UsedFallback {
		t.Fatal("expected free-text fallback")
	}
	if len(out.DbResults) == 0 {
		t.Fatal("expected fallback results")
	}
	if out.TotalMatchCount != len(out.DbResults) {
		t.Errorf("total %d should match full free-text result set %d", out.TotalMatchCount, len(out.DbResults))
	}
	if len(repo.searches) != 2 || repo.searches[1].Mode != ModeFreeText {
		t.Errorf("expected phrase then free-text search, got %+v", repo.searches)
	}
	for i := 1; i < len(out.DbResults); i++ {
		prev, cur := out.DbResults[i-1], out.DbResults[i]
		if prev.Rank < cur.Rank || (prev.Rank == cur.Rank && prev.Code > cur.Code) {
			t.Errorf("results not ordered by rank desc, code asc: %+v", out.DbResults)
		}
	}
}

func TestSearchEngine_Search_ClampsLimit(t *testing.T) {
	repo := newFakeRepo(diabetesRows()...)
	e := NewSearchEngine(repo, 100)

	if _, err := e.Search(context.Background(), "diabetes", 200); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.searches[0].Limit != 100 {
		t.Errorf("expected limit 100, got %d", repo.searches[0].Limit)
	}
}

func TestSearchEngine_Search_EmptyQuery(t *testing.T) {
	repo := newFakeRepo(diabetesRows()...)
	e := NewSearchEngine(repo, 100)

	for _, q := range []string{"", "   ", "\t\n"} {
		out, err := e.Search(context.Background(), q, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out.DbResults) != 0 || out.TotalMatchCount != 0 || out.UsedFallback {
			t.Errorf("expected empty outcome for %q, got %+v", q, out)
		}
	}
	if repo.calls() != 0 {
		t.Errorf("expected no repository calls, got %d", repo.calls())
	}
}

func TestSearchEngine_Search_NoMatches(t *testing.T) {
	repo := newFakeRepo(diabetesRows()...)
	e := NewSearchEngine(repo, 100)

	out, err := e.Search(context.Background(), "zzzz", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.UsedFallback {
		t.Error("expected fallback to be attempted")
	}
	if out.DbResults == nil || len(out.DbResults) != 0 {
		t.Errorf("expected empty non-nil results, got %#v", out.DbResults)
	}
}

func TestSearchEngine_Search_RepoError(t *testing.T) {
	repo := newFakeRepo(diabetesRows()...)
	repo.countErr = errors.New("connection reset")
	e := NewSearchEngine(repo, 100)

	if _, err := e.Search(context.Background(), "diabetes", 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearchEngine_ValidateCodes(t *testing.T) {
	repo := newFakeRepo(diabetesRows()...)
	e := NewSearchEngine(repo, 100)

	set, err := e.ValidateCodes(context.Background(), []string{"e119", "E119", "J449", "X999", " "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 valid codes, got %v", set)
	}
	if !set.Has("E119") || !set.Has("J449") || set.Has("X999") {
		t.Errorf("unexpected set: %v", set)
	}
	if len(repo.existCalls) != 1 || len(repo.existCalls[0]) != 3 {
		t.Errorf("expected one lookup with 3 distinct codes, got %+v", repo.existCalls)
	}
}

func TestSearchEngine_ValidateCodes_Empty(t *testing.T) {
	repo := newFakeRepo(diabetesRows()...)
	e := NewSearchEngine(repo, 100)

	set, err := e.ValidateCodes(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("expected empty set, got %v", set)
	}
	if repo.calls() != 0 {
		t.Errorf("expected no repository calls, got %d", repo.calls())
	}
}
