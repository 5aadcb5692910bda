// Package review manages the manual review queue: approving, rejecting and
// re-evaluating providers whose confidence needs a human decision.
package review

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/report"
	"github.com/sells-group/provider-verify/internal/scoring"
	"github.com/sells-group/provider-verify/internal/store"
)

// ErrStaleState is returned when a decision was made against a provider
// state that no longer holds: the version moved on or the provider left
// the queue.
var ErrStaleState = store.ErrStaleState

// ErrRemoved matches errors for providers a reviewer rejected.
var ErrRemoved = eris.New("review: provider removed")

// RemovedError reports an operation on a rejected provider. It matches
// both ErrRemoved and store.ErrNotFound.
type RemovedError struct {
	ProviderID string
}

func (e *RemovedError) Error() string {
	return fmt.Sprintf("review: provider %s was removed", e.ProviderID)
}

func (e *RemovedError) Is(target error) bool {
	return target == ErrRemoved || target == store.ErrNotFound
}

// Decision is a reviewer's verdict on one queued provider.
type Decision struct {
	ProviderID string `json:"provider_id"`
	// Version is the provider version the reviewer saw. Zero acts on the
	// current version.
	Version  int64  `json:"version,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Manager applies review decisions and re-evaluations. It is safe for
// concurrent use; operations on one provider are serialized in-process and
// guarded across processes by the store's version check.
type Manager struct {
	store store.Store
	agg   *scoring.Aggregator
	locks keyedLocks
	now   func() time.Time
}

// NewManager creates a review Manager.
func NewManager(st store.Store, agg *scoring.Aggregator) *Manager {
	return &Manager{store: st, agg: agg, now: time.Now}
}

// Approve moves a queued provider to Verified without changing its score.
func (m *Manager) Approve(ctx context.Context, d Decision) (*model.Provider, error) {
	unlock := m.locks.lock(d.ProviderID)
	defer unlock()

	p, err := m.queued(ctx, d)
	if err != nil {
		return nil, err
	}

	action := m.action(p, model.ActionApprove, model.StatusVerified, d)
	p.Status = model.StatusVerified
	p.ManualOverride = true
	if err := m.store.UpdateProvider(ctx, p, action); err != nil {
		return nil, m.translate(ctx, d.ProviderID, err)
	}

	zap.L().Info("review: approved provider",
		zap.String("provider_id", p.ID),
		zap.String("npi", p.NPI),
		zap.String("reviewer", d.Reviewer),
		zap.Int("confidence", p.ConfidenceScore),
	)
	return p, nil
}

// Reject permanently removes a queued provider. The audit entry survives.
func (m *Manager) Reject(ctx context.Context, d Decision) (*model.ReviewAction, error) {
	unlock := m.locks.lock(d.ProviderID)
	defer unlock()

	p, err := m.queued(ctx, d)
	if err != nil {
		return nil, err
	}

	action := m.action(p, model.ActionReject, model.StatusRemoved, d)
	if err := m.store.DeleteProvider(ctx, p.ID, p.Version, action); err != nil {
		return nil, m.translate(ctx, d.ProviderID, err)
	}

	zap.L().Info("review: rejected provider",
		zap.String("provider_id", p.ID),
		zap.String("npi", p.NPI),
		zap.String("reviewer", d.Reviewer),
	)
	return action, nil
}

// Reevaluate scores a provider against fresh source results computed for
// its stored attributes. A manual approval stands as long as the results
// are unchanged. Status changes are audited as promote or demote.
func (m *Manager) Reevaluate(ctx context.Context, id string, results []model.DataSourceResult) (*model.Provider, error) {
	return m.reevaluate(ctx, id, nil, results)
}

// ReevaluateAs replaces the provider's attributes with attrs and scores it
// against results, which must have been computed for attrs. Both land in
// the same versioned update.
func (m *Manager) ReevaluateAs(ctx context.Context, id string, attrs model.Attributes, results []model.DataSourceResult) (*model.Provider, error) {
	return m.reevaluate(ctx, id, &attrs, results)
}

func (m *Manager) reevaluate(ctx context.Context, id string, attrs *model.Attributes, results []model.DataSourceResult) (*model.Provider, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	p, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	unchanged := attrs == nil || p.Attributes() == *attrs
	if unchanged && p.ManualOverride && p.Status == model.StatusVerified && model.SameResults(p.DataSources, results) {
		return p, nil
	}
	if attrs != nil {
		p.SetAttributes(*attrs)
	}

	from := p.Status
	if _, err := m.agg.Apply(p, results, m.now()); err != nil {
		if !eris.Is(err, scoring.ErrNoDataSources) {
			return nil, err
		}
		zap.L().Warn("review: provider has no data sources", zap.String("provider_id", id))
	}
	p.ManualOverride = false

	var action *model.ReviewAction
	switch {
	case from == model.StatusVerified && p.Status == model.StatusNeedsReview:
		action = m.action(p, model.ActionDemote, p.Status, Decision{})
		action.FromStatus = from
	case from == model.StatusNeedsReview && p.Status == model.StatusVerified:
		action = m.action(p, model.ActionPromote, p.Status, Decision{})
		action.FromStatus = from
	}

	if err := m.store.UpdateProvider(ctx, p, action); err != nil {
		return nil, m.translate(ctx, id, err)
	}
	if action != nil {
		zap.L().Info("review: status changed on re-evaluation",
			zap.String("provider_id", id),
			zap.String("action", string(action.Action)),
			zap.Int("confidence", p.ConfidenceScore),
		)
	}
	return p, nil
}

// List returns the review queue: Needs Review providers ascending by
// confidence, ties by id.
func (m *Manager) List(ctx context.Context) ([]model.Provider, error) {
	queue, err := m.store.ListProviders(ctx, store.ProviderFilter{
		Status:  model.StatusNeedsReview,
		ByScore: true,
		Limit:   store.NoLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "review: list queue")
	}
	slices.SortStableFunc(queue, func(a, b model.Provider) int {
		if c := cmp.Compare(a.ConfidenceScore, b.ConfidenceScore); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return queue, nil
}

// Export writes the review queue as CSV.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	queue, err := m.List(ctx)
	if err != nil {
		return err
	}
	return report.WriteCSV(w, report.QueueTable(queue))
}

// History returns the audit trail of a provider, oldest first. It works
// for removed providers too.
func (m *Manager) History(ctx context.Context, id string) ([]model.ReviewAction, error) {
	actions, err := m.store.ListActions(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "review: history %s", id)
	}
	return actions, nil
}

// queued loads the provider a decision targets and checks that it is still
// in the queue at the version the reviewer saw.
func (m *Manager) queued(ctx context.Context, d Decision) (*model.Provider, error) {
	p, err := m.load(ctx, d.ProviderID)
	if err != nil {
		return nil, err
	}
	if d.Version != 0 && d.Version != p.Version {
		return nil, eris.Wrapf(ErrStaleState, "review: provider %s is at version %d, decision was for %d",
			p.ID, p.Version, d.Version)
	}
	if p.Status != model.StatusNeedsReview {
		return nil, eris.Wrapf(ErrStaleState, "review: provider %s is %s", p.ID, p.Status)
	}
	return p, nil
}

func (m *Manager) load(ctx context.Context, id string) (*model.Provider, error) {
	p, err := m.store.GetProvider(ctx, id)
	if err != nil {
		return nil, m.translate(ctx, id, err)
	}
	return p, nil
}

// translate turns a not-found from the store into a RemovedError when the
// provider was rejected.
func (m *Manager) translate(ctx context.Context, id string, err error) error {
	if !eris.Is(err, store.ErrNotFound) {
		return err
	}
	rejected, herr := m.store.HasRejection(ctx, id)
	if herr == nil && rejected {
		return &RemovedError{ProviderID: id}
	}
	return err
}

func (m *Manager) action(p *model.Provider, kind model.ReviewActionType, to model.Status, d Decision) *model.ReviewAction {
	return &model.ReviewAction{
		ProviderID:      p.ID,
		NPI:             p.NPI,
		ProviderName:    p.Name,
		Action:          kind,
		Reviewer:        d.Reviewer,
		Note:            d.Note,
		FromStatus:      p.Status,
		ToStatus:        to,
		ConfidenceScore: p.ConfidenceScore,
		CreatedAt:       m.now().UTC(),
	}
}
