package source

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/resilience"
)

// mockSource implements Source for testing.
type mockSource struct {
	mock.Mock
	name string
}

func (m *mockSource) Name() string { return m.name }
func (m *mockSource) URL() string  { return "https://" + m.name + ".example.com" }

func (m *mockSource) Lookup(ctx context.Context, id model.Identity) (*model.Observation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Observation), args.Error(1)
}

func TestQueryAll_PassesIdentity(t *testing.T) {
	id := model.Identity{NPI: johnsonNPI, Name: "Sarah Johnson", City: "New York", State: "NY"}
	src := &mockSource{name: "board"}
	src.On("Lookup", mock.Anything, id).Return(&model.Observation{Found: true, NPI: johnsonNPI, Name: "Sarah Johnson"}, nil).Once()

	reg := NewRegistry()
	reg.Register(Entry{Source: src})

	answers, err := NewQuerier(reg, testGuard()).QueryAll(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Observation.Found)
	assert.Equal(t, "https://board.example.com", answers[0].Info.URL)
	src.AssertExpectations(t)
}

func TestQueryAll_RetriesTransientFailure(t *testing.T) {
	id := model.Identity{NPI: johnsonNPI}
	src := &mockSource{name: "registry"}
	src.On("Lookup", mock.Anything, id).Return(nil, resilience.Transient(errors.New("rate limited"), http.StatusTooManyRequests)).Once()
	src.On("Lookup", mock.Anything, id).Return(&model.Observation{Found: true, NPI: johnsonNPI}, nil).Once()

	reg := NewRegistry()
	reg.Register(Entry{Source: src, Timeout: 5 * time.Second})

	answers, err := NewQuerier(reg, resilience.NewGuard(3, 1, 2, 5, 60)).QueryAll(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.NoError(t, answers[0].Err)
	assert.True(t, answers[0].Observation.Found)
	src.AssertNumberOfCalls(t, "Lookup", 2)
}

func TestQueryAll_PermanentFailureNotRetried(t *testing.T) {
	id := model.Identity{NPI: johnsonNPI}
	src := &mockSource{name: "registry"}
	src.On("Lookup", mock.Anything, id).Return(nil, errors.New("bad request")).Once()

	reg := NewRegistry()
	reg.Register(Entry{Source: src})

	answers, err := NewQuerier(reg, resilience.NewGuard(3, 1, 2, 5, 60)).QueryAll(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, model.ReasonSourceUnavailable, answers[0].Observation.Reason)
	src.AssertNumberOfCalls(t, "Lookup", 1)
}
