package experiment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/nightglass/phishtune/pkg/infer"
)

const errorCollection = "misclassified"

// ErrorStore keeps misclassified test examples in a local vector database so
// failure modes can be browsed by semantic similarity after a run.
type ErrorStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewErrorStore opens (or creates) a persistent store at path. The embedding
// function should come from the same encoder the model was trained against,
// so stored errors and later queries live in one vector space.
func NewErrorStore(path string, embed chromem.EmbeddingFunc) (*ErrorStore, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open error store: %w", err)
	}

	collection, err := db.GetOrCreateCollection(errorCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to open error collection: %w", err)
	}

	return &ErrorStore{db: db, collection: collection}, nil
}

// Add records one misclassified example, tagged with the run it came from.
func (s *ErrorStore) Add(ctx context.Context, runID uuid.UUID, result *infer.Result) error {
	if result.Correct {
		return fmt.Errorf("refusing to store a correctly classified example")
	}

	doc := chromem.Document{
		ID:      uuid.NewString(),
		Content: result.Text,
		Metadata: map[string]string{
			"run_id":    runID.String(),
			"predicted": result.Predicted.String(),
			"actual":    result.Actual.String(),
			"index":     strconv.Itoa(result.Index),
		},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to store misclassified example: %w", err)
	}
	return nil
}

// Count reports how many errors are stored.
func (s *ErrorStore) Count() int {
	return s.collection.Count()
}

// Similar returns the stored errors nearest to the query text.
func (s *ErrorStore) Similar(ctx context.Context, text string, k int) ([]chromem.Result, error) {
	if n := s.collection.Count(); k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	results, err := s.collection.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query error store: %w", err)
	}
	return results, nil
}
