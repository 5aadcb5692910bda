// Package store persists providers, review actions and upload batches.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-verify/internal/model"
)

// Sentinel errors returned by every Store implementation. Callers match
// them with eris.Is or errors.Is.
var (
	ErrNotFound   = eris.New("store: not found")
	ErrStaleState = eris.New("store: stale state")
	ErrDuplicate  = eris.New("store: duplicate npi")
)

// ProviderFilter specifies criteria for listing providers.
type ProviderFilter struct {
	Status  model.Status `json:"status,omitempty"`
	BatchID string       `json:"batch_id,omitempty"`
	// ByScore orders ascending by confidence score, ties by id. The
	// default order is by id.
	ByScore bool `json:"by_score,omitempty"`
	// Limit caps the rows returned. Zero uses the default page size and
	// NoLimit returns every row.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// NoLimit lifts the row cap of a ProviderFilter.
const NoLimit = -1

// Store defines the persistence interface for provider verification.
type Store interface {
	// Providers
	CreateProvider(ctx context.Context, p *model.Provider) error
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error)
	ListProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error)
	// UpdateProvider writes p if its stored version still equals p.Version,
	// then increments p.Version. A non-nil action is recorded in the same
	// transaction.
	UpdateProvider(ctx context.Context, p *model.Provider, action *model.ReviewAction) error
	// DeleteProvider removes the provider if its stored version equals
	// version, recording action in the same transaction.
	DeleteProvider(ctx context.Context, id string, version int64, action *model.ReviewAction) error

	// Review audit trail
	ListActions(ctx context.Context, providerID string) ([]model.ReviewAction, error)
	HasRejection(ctx context.Context, providerID string) (bool, error)

	// Batches
	CreateBatch(ctx context.Context, b *model.Batch) error
	UpdateBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]model.Batch, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 1000

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
