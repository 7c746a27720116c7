// Package infer runs single-example inference against a trained model and
// compares the prediction with the ground-truth label.
package infer

import (
	"context"
	"fmt"

	"github.com/nightglass/phishtune/pkg/adapter"
	"github.com/nightglass/phishtune/pkg/dataset"
	"github.com/nightglass/phishtune/pkg/encoder"
	"github.com/nightglass/phishtune/pkg/tokenizer"
)

// Result is the outcome of one inference call.
type Result struct {
	Index      int           `json:"index"`
	Text       string        `json:"text"`
	Predicted  dataset.Label `json:"predicted"`
	Actual     dataset.Label `json:"actual"`
	Scores     []float64     `json:"scores"`
	Correct    bool          `json:"correct"`
	TokenCount int           `json:"token_count,omitempty"`
}

// String renders the result for terminal output.
func (r *Result) String() string {
	verdict := "✓"
	if !r.Correct {
		verdict = "✗"
	}
	text := r.Text
	if len(text) > 120 {
		text = text[:117] + "..."
	}
	return fmt.Sprintf("%s predicted=%s actual=%s confidence=%.3f text=%q",
		verdict, r.Predicted, r.Actual, r.Scores[int(r.Predicted)], text)
}

// Run classifies the example at index in the held-out dataset. All
// collaborators are explicit required arguments so callers always act on
// current state, never on bindings captured at definition time. tok may be
// nil when token statistics are not wanted.
func Run(ctx context.Context, model *adapter.Model, provider encoder.Provider, tok *tokenizer.Tokenizer, ds *dataset.Dataset, index int) (*Result, error) {
	if model == nil || provider == nil {
		return nil, fmt.Errorf("inference requires a model and an embedding provider")
	}
	if index < 0 || index >= ds.Len() {
		return nil, fmt.Errorf("index %d out of range for dataset of %d examples", index, ds.Len())
	}

	ex := ds.Examples[index]

	emb32, err := provider.Embed(ctx, ex.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed example: %w", err)
	}
	emb := make([]float64, len(emb32))
	for i, v := range emb32 {
		emb[i] = float64(v)
	}

	predicted, scores := model.Predict(emb)

	result := &Result{
		Index:     index,
		Text:      ex.Text,
		Predicted: dataset.Label(predicted),
		Actual:    ex.Label,
		Scores:    scores,
		Correct:   dataset.Label(predicted) == ex.Label,
	}

	if tok != nil {
		_, mask, err := tok.Encode(ex.Text)
		if err == nil {
			for _, m := range mask {
				if m == 1 {
					result.TokenCount++
				}
			}
		}
	}

	return result, nil
}
