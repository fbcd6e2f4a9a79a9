package invoicing

import (
	"context"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListFilter selects records for the queue view. A pending filter also
// matches issued records that have no number yet.
type ListFilter struct {
	Status   Status
	Page     int
	PageSize int
}

// Normalize clamps paging to sane values
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Offset returns the row offset of the page
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Stats counts records by effective status
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Issued     int64 `json:"issued"`
	Error      int64 `json:"error"`
	Total      int64 `json:"total"`
}

// Add counts n records of status s
func (s *Stats) Add(status Status, n int64) {
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusProcessing:
		s.Processing += n
	case StatusIssued:
		s.Issued += n
	case StatusError:
		s.Error += n
	}
	s.Total += n
}

// QueueStore is the durable order -> RPS mapping.
//
// Insert is the only path that creates rows and fails with a shared CONFLICT
// error when the order already has a record; the uniqueness constraint of the
// store is the guard, not the caller's pre-check. Get and GetByOrderID fail
// with a shared NOT_FOUND error.
type QueueStore interface {
	Insert(ctx context.Context, record *RpsRecord) error
	Get(ctx context.Context, id uuid.UUID) (*RpsRecord, error)
	GetByOrderID(ctx context.Context, orderID int64) (*RpsRecord, error)
	Update(ctx context.Context, id uuid.UUID, update RecordUpdate) error
	List(ctx context.Context, filter ListFilter) ([]RpsRecord, int64, error)
	Stats(ctx context.Context) (Stats, error)
	// ListReconcilable returns pending, processing and issued-without-number records.
	ListReconcilable(ctx context.Context) ([]RpsRecord, error)
}
