package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "profiler/configs"
	"profiler/pkg/coordination"
	"profiler/pkg/errs"
	"profiler/pkg/models"
)

type recordingExecutor struct {
	mu   sync.Mutex
	reqs []models.ProfileRequest
	err  error
}

func (r *recordingExecutor) Execute(ctx context.Context, req models.ProfileRequest) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return &models.Profile{ID: uuid.New(), Name: req.Name, Status: models.ProfileSuccess}, r.err
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func schedule(name, expr string) models.Schedule {
	return models.Schedule{Name: name, Cron: expr, Request: models.ProfileRequest{Name: name, Line: "true"}}
}

func TestNewCore_InvalidCron(t *testing.T) {
	_, err := NewCore(&config.Config{}, &recordingExecutor{}, []models.Schedule{schedule("bad", "whenever")})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Equal(t, "bad", errs.ContextOf(err)[errs.KeyComponent])
}

func TestCore_RunDue(t *testing.T) {
	exec := &recordingExecutor{}
	off := false
	disabled := schedule("disabled", "* * * * *")
	disabled.Enabled = &off

	core, err := NewCore(&config.Config{}, exec, []models.Schedule{
		schedule("every-minute", "* * * * *"),
		schedule("hourly", "0 * * * *"),
		disabled,
	})
	require.NoError(t, err)

	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)

	assert.Equal(t, 0, core.RunDue(ctx, t0), "first pass only plans")
	entries := core.Entries()
	assert.Equal(t, time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC), entries[0].NextRun)
	assert.Equal(t, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC), entries[1].NextRun)
	assert.True(t, entries[2].NextRun.IsZero())

	assert.Equal(t, 0, core.RunDue(ctx, t0.Add(10*time.Second)))
	assert.Equal(t, 1, core.RunDue(ctx, t0.Add(30*time.Second)))
	require.Equal(t, 1, exec.count())
	assert.Equal(t, "every-minute", exec.reqs[0].Labels["schedule"])

	entries = core.Entries()
	assert.Equal(t, time.Date(2024, 1, 1, 10, 2, 0, 0, time.UTC), entries[0].NextRun)
	assert.NotEmpty(t, entries[0].LastID)

	// Three hours later: each schedule runs once, missed slots collapse.
	assert.Equal(t, 2, core.RunDue(ctx, t0.Add(3*time.Hour)))
	assert.Equal(t, 3, exec.count())
}

func TestCore_RunDue_ErrorsDoNotStopOthers(t *testing.T) {
	exec := &recordingExecutor{err: errs.NewCommandExecutionError("boom", []string{"x"}, 1, nil)}
	core, err := NewCore(&config.Config{}, exec, []models.Schedule{
		schedule("a", "* * * * *"),
		schedule("b", "* * * * *"),
	})
	require.NoError(t, err)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	core.RunDue(context.Background(), t0)
	assert.Equal(t, 2, core.RunDue(context.Background(), t0.Add(time.Minute)))
}

func TestCore_RunDue_DoesNotMutateLabels(t *testing.T) {
	exec := &recordingExecutor{}
	s := schedule("labelled", "* * * * *")
	s.Request.Labels = map[string]string{"team": "infra"}
	core, err := NewCore(&config.Config{}, exec, []models.Schedule{s})
	require.NoError(t, err)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	core.RunDue(context.Background(), t0)
	core.RunDue(context.Background(), t0.Add(time.Minute))

	assert.Equal(t, "infra", exec.reqs[0].Labels["team"])
	_, leaked := core.Entries()[0].Schedule.Request.Labels["schedule"]
	assert.False(t, leaked)
}

func TestCore_Run_RequiresLeadership(t *testing.T) {
	exec := &recordingExecutor{}
	core, err := NewCore(&config.Config{NodeID: "me", SchedulerInterval: 10 * time.Millisecond}, exec,
		[]models.Schedule{schedule("a", "* * * * *")})
	require.NoError(t, err)

	coord := coordination.NewLocal()
	election := coord.NewElection("scheduler")
	require.NoError(t, election.Campaign(context.Background(), "someone-else"))

	// Force the entry due so only leadership gates it.
	core.entries[0].NextRun = time.Now().Add(-time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	core.Run(ctx, election)
	assert.Equal(t, 0, exec.count())

	require.NoError(t, election.Resign(context.Background()))
	require.NoError(t, election.Campaign(context.Background(), "me"))

	ctx2, cancel2 := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel2()
	core.Run(ctx2, election)
	assert.Equal(t, 1, exec.count())
}

func TestCore_Run_WithoutElection(t *testing.T) {
	exec := &recordingExecutor{}
	core, err := NewCore(&config.Config{SchedulerInterval: 10 * time.Millisecond}, exec,
		[]models.Schedule{schedule("a", "* * * * *")})
	require.NoError(t, err)
	core.entries[0].NextRun = time.Now().Add(-time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	core.Run(ctx, nil)
	assert.Equal(t, 1, exec.count())
}
