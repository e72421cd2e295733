package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedWorkflows returns one listing per poll, repeating the last one
type scriptedWorkflows struct {
	mu          sync.Mutex
	listings    [][]string
	listErr     error
	polls       int
	dispatched  []map[string]string
	dispatchErr error
}

func (s *scriptedWorkflows) DispatchWorkflow(_ context.Context, _, _, _ string, inputs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched = append(s.dispatched, inputs)
	return s.dispatchErr
}

func (s *scriptedWorkflows) ListEnvironments(context.Context, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.listings) == 0 {
		return nil, nil
	}
	i := min(s.polls-1, len(s.listings)-1)
	return s.listings[i], nil
}

func newAutoClock() *testclock.AutoAdvancingClock {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return &testclock.AutoAdvancingClock{Clock: clk, Advance: clk.Advance}
}

func TestActivator_Activate(t *testing.T) {
	workflows := &scriptedWorkflows{}
	activator := NewActivator(workflows, newAutoClock())

	err := activator.Activate(context.Background(), "contoso/sap", WorkflowInputs{
		Environment:  "DEV",
		Region:       "westeurope",
		DeployerVNet: "DEP01",
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{
		"environment":   "DEV",
		"region":        "westeurope",
		"deployer_vnet": "DEP01",
	}}, workflows.dispatched)

	workflows.dispatchErr = errors.New("failed to dispatch workflow: status 422")
	assert.Error(t, activator.Activate(context.Background(), "contoso/sap", WorkflowInputs{}))
}

func TestActivator_Wait(t *testing.T) {
	tests := []struct {
		name      string
		listings  [][]string
		listErr   error
		timeout   time.Duration
		interval  time.Duration
		want      string
		wantErr   error
		wantPolls int
	}{
		{
			name:      "found on first poll",
			listings:  [][]string{{"PRD-WEEU-SAP01-INFRASTRUCTURE", "DEV-WEEU-SAP01-INFRASTRUCTURE"}},
			timeout:   30 * time.Second,
			interval:  10 * time.Second,
			want:      "DEV-WEEU-SAP01-INFRASTRUCTURE",
			wantPolls: 1,
		},
		{
			name:      "first match in listing order wins",
			listings:  [][]string{{"DEV-B", "DEV-A"}},
			timeout:   30 * time.Second,
			interval:  10 * time.Second,
			want:      "DEV-B",
			wantPolls: 1,
		},
		{
			name:      "appears on third poll",
			listings:  [][]string{{}, {"PRD"}, {"PRD", "DEV-NEW"}},
			timeout:   180 * time.Second,
			interval:  10 * time.Second,
			want:      "DEV-NEW",
			wantPolls: 3,
		},
		{
			name:      "times out after three polls",
			listings:  [][]string{{"PRD"}},
			timeout:   30 * time.Second,
			interval:  10 * time.Second,
			wantErr:   sdaferrors.ErrTimeout,
			wantPolls: 3,
		},
		{
			name:      "list errors count as polls",
			listErr:   errors.New("failed to list environments: status 502"),
			timeout:   30 * time.Second,
			interval:  10 * time.Second,
			wantErr:   sdaferrors.ErrTimeout,
			wantPolls: 3,
		},
		{
			name:      "defaults are 180s and 10s",
			listings:  [][]string{{}},
			wantErr:   sdaferrors.ErrTimeout,
			wantPolls: 18,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflows := &scriptedWorkflows{listings: tt.listings, listErr: tt.listErr}
			activator := NewActivator(workflows, newAutoClock())

			got, err := activator.Wait(context.Background(), "contoso/sap", "DEV", tt.timeout, tt.interval)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.wantPolls, workflows.polls)
		})
	}
}

func TestActivator_Wait_Cancelled(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	workflows := &scriptedWorkflows{}
	activator := NewActivator(workflows, clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := activator.Wait(ctx, "contoso/sap", "DEV", time.Minute, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, workflows.polls)
}
