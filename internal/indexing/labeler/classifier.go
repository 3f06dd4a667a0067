package labeler

import (
	"context"

	"github.com/vietddude/inboxsync/internal/core/domain"
)

// Request is one classification call.
type Request struct {
	Item       domain.ClassificationInput
	Categories []domain.CategoryDefinition
}

// RawResult is what a classifier answered, before validation.
type RawResult struct {
	CategoryID *string
	Confidence float64
}

// Classifier assigns an item to at most one category.
type Classifier interface {
	Classify(ctx context.Context, req Request) (RawResult, error)
}
