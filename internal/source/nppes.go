package source

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/resilience"
	"github.com/sells-group/provider-verify/pkg/nppes"
)

// NPPESSource looks providers up in the CMS NPI Registry.
type NPPESSource struct {
	name   string
	client nppes.Client
	now    func() time.Time
}

// NewNPPESSource wraps an NPI Registry client.
func NewNPPESSource(name string, client nppes.Client) *NPPESSource {
	if name == "" {
		name = "NPI Registry"
	}
	return &NPPESSource{name: name, client: client, now: time.Now}
}

func (s *NPPESSource) Name() string { return s.name }

func (s *NPPESSource) URL() string { return "https://npiregistry.cms.hhs.gov" }

func (s *NPPESSource) Lookup(ctx context.Context, id model.Identity) (*model.Observation, error) {
	rec, err := s.client.Lookup(ctx, id.NPI)
	if err != nil {
		var se *nppes.StatusError
		if errors.As(err, &se) && se.Temporary() {
			return nil, resilience.Transient(err, se.Code)
		}
		return nil, eris.Wrapf(err, "source: nppes lookup %s", id.NPI)
	}

	obs := &model.Observation{CheckedAt: s.now().UTC()}
	if rec == nil {
		obs.Reason = model.ReasonNoRecord
		return obs, nil
	}
	obs.Found = true
	obs.NPI = rec.Number
	obs.Name = rec.Name()
	if loc, ok := rec.Location(); ok {
		obs.Address = loc.Line()
		obs.Phone = loc.Telephone
	}
	if tax, ok := rec.PrimaryTaxonomy(); ok {
		obs.Specialty = tax.Desc
	}
	return obs, nil
}
