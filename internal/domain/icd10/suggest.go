package icd10

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/codingassist/internal/platform/auditlog"
	"github.com/ehr/codingassist/internal/platform/llm"
)

// ErrNoSuggestionPayload is returned when a model response holds no JSON object.
var ErrNoSuggestionPayload = errors.New("no JSON object in model response")

// SuggestConfig carries the model identity and prompt settings.
type SuggestConfig struct {
	SystemPrompt      string
	AdditionalContext string
	Temperature       float64
	Timeout           time.Duration
	Deployment        string
	APIVersion        string
}

// SuggestionService asks a language model to rerank and extend database
// results. It never fails the caller: any problem yields an empty bundle.
type SuggestionService struct {
	completer llm.Completer
	audit     auditlog.Recorder
	cfg       SuggestConfig
	logger    zerolog.Logger
}

// NewSuggestionService creates a SuggestionService. A nil completer disables
// suggestions; a nil recorder disables auditing.
func NewSuggestionService(completer llm.Completer, audit auditlog.Recorder, cfg SuggestConfig, logger zerolog.Logger) *SuggestionService {
	return &SuggestionService{
		completer: completer,
		audit:     audit,
		cfg:       cfg,
		logger:    logger.With().Str("component", "icd10-suggest").Logger(),
	}
}

// Config returns the settings the service was created with.
func (s *SuggestionService) Config() SuggestConfig {
	return s.cfg
}

// Suggest returns the model's reranked and additional codes for diagnosis.
// Returned codes are in CMS form; entries with blank codes are dropped.
func (s *SuggestionService) Suggest(ctx context.Context, diagnosis string, dbResults []DbResult) SuggestionBundle {
	empty := SuggestionBundle{Reranked: []SuggestedResult{}, Additional: []SuggestedResult{}}
	if s.completer == nil {
		return empty
	}

	userPrompt := BuildUserMessage(diagnosis, dbResults, s.cfg.AdditionalContext)
	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: s.cfg.SystemPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		},
		Temperature: s.cfg.Temperature,
	}

	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := s.completer.Complete(callCtx, req)
	elapsed := time.Since(start)

	rec := auditlog.Record{
		Query:          diagnosis,
		SQLResultCount: len(dbResults),
		SQLResults:     auditResults(dbResults),
		SystemPrompt:   s.cfg.SystemPrompt,
		UserPrompt:     userPrompt,
		DeploymentName: s.cfg.Deployment,
		APIVersion:     s.cfg.APIVersion,
		Temperature:    s.cfg.Temperature,
		ResponseTime:   elapsed,
	}

	bundle := empty
	if err != nil {
		rec.Error = err.Error()
		s.logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("language model call failed")
	} else {
		rec.ResponseText = completion.Content
		rec.PromptTokens = completion.PromptTokens
		rec.CompletionTokens = completion.CompletionTokens
		rec.TotalTokens = completion.TotalTokens

		parsed, perr := ParseSuggestions(completion.Content)
		if perr != nil {
			rec.Error = perr.Error()
			s.logger.Warn().Err(perr).Msg("unparseable language model response")
		} else {
			bundle = parsed
		}
	}
	rec.SuggestionCount = bundle.Len()
	s.record(rec)

	return bundle
}

func (s *SuggestionService) record(rec auditlog.Record) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(rec); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write ai audit record")
	}
}

func auditResults(dbResults []DbResult) []auditlog.Result {
	out := make([]auditlog.Result, len(dbResults))
	for i, r := range dbResults {
		out[i] = auditlog.Result{Code: r.Code, Description: r.LongDescription, Rank: r.Rank}
	}
	return out
}

// BuildUserMessage renders the user turn sent to the model.
func BuildUserMessage(diagnosis string, dbResults []DbResult, additionalContext string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The diagnosis is:\n\n\"%s\"\n\n", strings.TrimSpace(diagnosis))
	sb.WriteString("The following ICD-10-CM codes were returned by a full-text search:\n\n")
	for _, r := range dbResults {
		fmt.Fprintf(&sb, "- %s: %s\n", ToHumanReadableFormat(r.Code), r.LongDescription)
	}
	sb.WriteString("\nPlease re-rank these codes based on relevance to the diagnosis, and suggest any additional ICD-10-CM codes that might be more appropriate or are missing.\n")
	if extra := strings.TrimSpace(additionalContext); extra != "" {
		sb.WriteString("\n")
		sb.WriteString(extra)
		sb.WriteString("\n")
	}
	return sb.String()
}

// rawSuggestion accepts fractional ranks and confidences, as numbers or
// numeric strings.
type rawSuggestion struct {
	Code        string      `json:"code"`
	Description string      `json:"description"`
	Rank        looseNumber `json:"rank"`
	Reason      *string     `json:"reason"`
	Source      string      `json:"source"`
	Confidence  looseNumber `json:"confidence"`
}

type rawBundle struct {
	Reranked   []rawSuggestion `json:"reranked"`
	Additional []rawSuggestion `json:"additional"`
}

// looseNumber decodes a JSON number or a quoted number. Anything else,
// including null, decodes to zero.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = 0
	switch t := v.(type) {
	case float64:
		*n = looseNumber(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			*n = looseNumber(f)
		}
	}
	return nil
}

func (n looseNumber) Int() int {
	return int(math.Round(float64(n)))
}

// ParseSuggestions extracts the suggestion object from free text. Prose and
// Markdown fences around the object are ignored.
func ParseSuggestions(text string) (SuggestionBundle, error) {
	raw, err := decodeBundle(text)
	if err != nil {
		return SuggestionBundle{}, err
	}
	return SuggestionBundle{
		Reranked:   convertSuggestions(raw.Reranked, SourceReranked),
		Additional: convertSuggestions(raw.Additional, SourceAdditional),
	}, nil
}

func convertSuggestions(in []rawSuggestion, defaultSource string) []SuggestedResult {
	out := make([]SuggestedResult, 0, len(in))
	for _, r := range in {
		code := ToCMSFormat(r.Code)
		if code == "" {
			continue
		}
		source := strings.ToLower(strings.TrimSpace(r.Source))
		if source == "" {
			source = defaultSource
		}
		out = append(out, SuggestedResult{
			Code:        code,
			Description: strings.TrimSpace(r.Description),
			Rank:        r.Rank.Int(),
			Reason:      r.Reason,
			Source:      source,
			Confidence:  r.Confidence.Int(),
		})
	}
	return out
}

// decodeBundle decodes the first JSON object in text that carries a
// "reranked" or "additional" key. Decoding stops at the end of that object,
// so trailing prose is ignored.
func decodeBundle(text string) (rawBundle, error) {
	var firstErr error
	for offset := 0; ; {
		i := strings.IndexByte(text[offset:], '{')
		if i < 0 {
			break
		}
		start := offset + i
		offset = start + 1

		var data json.RawMessage
		var obj map[string]json.RawMessage
		err := json.NewDecoder(strings.NewReader(text[start:])).Decode(&data)
		if err == nil {
			err = json.Unmarshal(data, &obj)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("decode suggestions: %w", err)
			}
			continue
		}
		if !hasBundleKey(obj) {
			continue
		}

		var raw rawBundle
		if err := json.Unmarshal(data, &raw); err != nil {
			return rawBundle{}, fmt.Errorf("decode suggestions: %w", err)
		}
		return raw, nil
	}
	if firstErr != nil {
		return rawBundle{}, firstErr
	}
	return rawBundle{}, ErrNoSuggestionPayload
}

func hasBundleKey(obj map[string]json.RawMessage) bool {
	for k := range obj {
		if strings.EqualFold(k, "reranked") || strings.EqualFold(k, "additional") {
			return true
		}
	}
	return false
}
