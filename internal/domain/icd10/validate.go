package icd10

import "context"

// CodeValidator answers which of a set of CMS-format codes exist.
type CodeValidator interface {
	ValidateCodes(ctx context.Context, codes []string) (CodeSet, error)
}

// Validator annotates suggested results with their validity.
type Validator struct {
	codes CodeValidator
}

// NewValidator creates a Validator backed by codes.
func NewValidator(codes CodeValidator) *Validator {
	return &Validator{codes: codes}
}

// Validate sets IsValid on every result and returns them in the same order.
// Nothing is dropped. Codes are compared in CMS form.
func (v *Validator) Validate(ctx context.Context, results []SuggestedResult) ([]SuggestedResult, error) {
	if len(results) == 0 {
		return []SuggestedResult{}, nil
	}

	codes := make([]string, 0, len(results))
	for _, r := range results {
		codes = append(codes, ToCMSFormat(r.Code))
	}
	valid, err := v.codes.ValidateCodes(ctx, codes)
	if err != nil {
		return nil, err
	}

	out := make([]SuggestedResult, len(results))
	for i, r := range results {
		r.IsValid = valid.Has(r.Code)
		out[i] = r
	}
	return out, nil
}
