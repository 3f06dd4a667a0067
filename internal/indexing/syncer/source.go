package syncer

import (
	"context"

	"github.com/vietddude/inboxsync/internal/core/domain"
)

// ListRequest asks for one page of item ids.
type ListRequest struct {
	Query      string
	PageToken  string
	MaxResults int
}

// ListPage is one page of ids. An empty NextPageToken ends the listing.
type ListPage struct {
	IDs           []string
	NextPageToken string
}

// Source is the remote API items are synced from.
type Source interface {
	// List returns a page of ids matching the request.
	List(ctx context.Context, req ListRequest) (ListPage, error)

	// Get fetches the full item.
	Get(ctx context.Context, id string) (*domain.Message, error)
}

// Locker provides cross-process exclusion per owner.
type Locker interface {
	// Lock acquires the run lock for owner. The returned func releases it.
	Lock(ctx context.Context, ownerID string) (unlock func(), err error)
}
