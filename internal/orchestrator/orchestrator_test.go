package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sapautomation/sdaf-setup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	ran   []string
	trail []StepResult
}

func (r *recorder) step(name string, err error) Step {
	return StepFunc(name, func(context.Context, *models.SetupState) error {
		r.mu.Lock()
		r.ran = append(r.ran, name)
		r.mu.Unlock()
		return err
	})
}

func (r *recorder) observe(result StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trail = append(r.trail, result)
}

func statuses(report *Report) map[string]Status {
	m := map[string]Status{}
	for _, step := range report.Steps {
		m[step.Name] = step.Status
	}
	return m
}

func TestPipeline_Run_AllSucceed(t *testing.T) {
	rec := &recorder{}
	pipeline := New([]Step{
		rec.step("github_app_setup", nil),
		rec.step("azure_login", nil),
		rec.step("spn_creation", nil),
	})

	report, err := pipeline.Run(context.Background(), models.NewSetupState(models.SetupInput{}))
	require.NoError(t, err)

	assert.True(t, report.Success())
	assert.Nil(t, report.Failed())
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"github_app_setup", "azure_login", "spn_creation"}, rec.ran)
	for _, step := range report.Steps {
		assert.Equal(t, StatusSuccess, step.Status, step.Name)
	}
}

func TestPipeline_Run_HaltsOnError(t *testing.T) {
	rec := &recorder{}
	federationErr := errors.New("failed to create federated credential: Insufficient privileges")
	pipeline := New([]Step{
		rec.step("spn_creation", nil),
		rec.step("federated_identity", federationErr),
		rec.step("environment_creation", nil),
		rec.step("environment_secrets", nil),
	})

	report, err := pipeline.Run(context.Background(), models.NewSetupState(models.SetupInput{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, federationErr)

	assert.Equal(t, []string{"spn_creation", "federated_identity"}, rec.ran, "later steps are not attempted")
	assert.Equal(t, map[string]Status{
		"spn_creation":         StatusSuccess,
		"federated_identity":   StatusError,
		"environment_creation": StatusPending,
		"environment_secrets":  StatusPending,
	}, statuses(report))

	failed := report.Failed()
	require.NotNil(t, failed)
	assert.Equal(t, "federated_identity", failed.Name)
	assert.Contains(t, failed.Detail, "Insufficient privileges")
	assert.False(t, report.Success())
}

func TestPipeline_Run_SkippedStepContinues(t *testing.T) {
	rec := &recorder{}
	pipeline := New([]Step{
		rec.step("github_app_setup", Skip("no github app configured")),
		rec.step("azure_login", nil),
	})

	report, err := pipeline.Run(context.Background(), models.NewSetupState(models.SetupInput{}))
	require.NoError(t, err)
	assert.True(t, report.Success())

	step := report.Step("github_app_setup")
	require.NotNil(t, step)
	assert.Equal(t, StatusSkipped, step.Status)
	assert.Equal(t, "no github app configured", step.Detail)
	assert.Equal(t, []string{"github_app_setup", "azure_login"}, rec.ran)
}

func TestPipeline_Run_RecoversPanic(t *testing.T) {
	pipeline := New([]Step{
		StepFunc("spn_creation", func(context.Context, *models.SetupState) error {
			panic("identity record missing")
		}),
		StepFunc("environment_creation", func(context.Context, *models.SetupState) error {
			t.Fatal("must not run")
			return nil
		}),
	})

	report, err := pipeline.Run(context.Background(), models.NewSetupState(models.SetupInput{}))
	require.Error(t, err)
	assert.Equal(t, StatusError, report.Step("spn_creation").Status)
	assert.Contains(t, report.Step("spn_creation").Detail, "unexpected error")
	assert.Equal(t, StatusPending, report.Step("environment_creation").Status)
}

func TestPipeline_Run_Transitions(t *testing.T) {
	rec := &recorder{}
	pipeline := New([]Step{
		rec.step("a", nil),
		rec.step("b", errors.New("boom")),
		rec.step("c", nil),
	}, WithObserver(rec.observe))

	_, err := pipeline.Run(context.Background(), models.NewSetupState(models.SetupInput{}))
	require.Error(t, err)

	var got []string
	for _, result := range rec.trail {
		got = append(got, result.Name+":"+string(result.Status))
	}
	assert.Equal(t, []string{
		"a:pending", "b:pending", "c:pending",
		"a:running", "a:success",
		"b:running", "b:error",
	}, got)
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	pipeline := New([]Step{
		StepFunc("a", func(context.Context, *models.SetupState) error {
			cancel()
			return nil
		}),
		rec.step("b", nil),
	})

	report, err := pipeline.Run(ctx, models.NewSetupState(models.SetupInput{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.ran)
	assert.Equal(t, StatusSuccess, report.Step("a").Status)
	assert.Equal(t, StatusPending, report.Step("b").Status)
}

func TestPipeline_Run_ReportsCreatedResources(t *testing.T) {
	pipeline := New([]Step{
		StepFunc("spn_creation", func(_ context.Context, state *models.SetupState) error {
			state.RecordCreated("service principal %s", "app-1")
			return nil
		}),
		StepFunc("environment_creation", func(context.Context, *models.SetupState) error {
			return errors.New("dispatch failed")
		}),
	})

	report, err := pipeline.Run(context.Background(), models.NewSetupState(models.SetupInput{}))
	require.Error(t, err)
	assert.Equal(t, []string{"service principal app-1"}, report.Created)
}

func TestPipeline_RunAsync(t *testing.T) {
	rec := &recorder{}
	pipeline := New([]Step{rec.step("a", nil), rec.step("b", nil)}, WithObserver(rec.observe))

	report := <-pipeline.RunAsync(context.Background(), models.NewSetupState(models.SetupInput{}))
	require.NotNil(t, report)
	assert.True(t, report.Success())
	assert.Len(t, rec.trail, 6)
}

func TestStatus_Done(t *testing.T) {
	assert.False(t, StatusPending.Done())
	assert.False(t, StatusRunning.Done())
	assert.True(t, StatusSuccess.Done())
	assert.True(t, StatusError.Done())
	assert.True(t, StatusSkipped.Done())
}
