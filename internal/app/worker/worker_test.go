package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/captcha"
	"github.com/ohmynofan/camp-loyalty-bot/internal/app/loyalty"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	loginErr error
	results  map[string]error
	calls    []string
	logins   int
}

func (f *fakeExecutor) result(name string) (bool, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.results[name]; ok {
		return false, err
	}
	return true, nil
}

func (f *fakeExecutor) Login(context.Context) error {
	f.logins++
	return f.loginErr
}

func (f *fakeExecutor) Faucet(context.Context) (bool, error) { return f.result(TaskFaucet) }

func (f *fakeExecutor) ConnectSocials(context.Context) (bool, error) {
	return f.result(loyalty.TaskConnectSocials)
}

func (f *fakeExecutor) CompleteQuests(_ context.Context, task string) loyalty.Report {
	ok, err := f.result(task)
	if ok {
		return loyalty.Report{Outcomes: []loyalty.QuestOutcome{{State: loyalty.Completed}}}
	}
	return loyalty.Report{Outcomes: []loyalty.QuestOutcome{{State: loyalty.Failed, Err: err}}}
}

func newTestQueue(t *testing.T) *taskqueue.Store {
	t.Helper()
	s, err := taskqueue.NewStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestWorker(queue TaskQueue, exec Executor, skipFailed bool) (*Worker, *model.Identity) {
	identity := &model.Identity{Account: "test-account", AccIdx: 0}
	return New(identity, queue, exec, Options{SkipFailedTasks: skipFailed, Sleep: noSleep}), identity
}

func TestProcess_RunsInOrderAndResumes(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	exec := &fakeExecutor{}
	w, identity := newTestWorker(queue, exec, false)

	tasks := []string{TaskFaucet, loyalty.TaskConnectSocials, TaskSkip, loyalty.TaskCompleteQuests}
	require.NoError(t, w.Process(ctx, tasks))

	assert.Equal(t, 1, exec.logins)
	assert.Equal(t, []string{TaskFaucet, loyalty.TaskConnectSocials, loyalty.TaskCompleteQuests}, exec.calls)
	assert.Equal(t, 4, identity.TasksDone)
	assert.Equal(t, 4, identity.TasksTotal)
	assert.Equal(t, statusDone, identity.LoginStatus)

	pending, err := queue.PendingTasks(ctx, identity.Key())
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, w.Process(ctx, tasks))
	assert.Equal(t, 1, exec.logins)
	assert.Len(t, exec.calls, 3)
}

func TestProcess_NoLoginWithoutLoyaltyTasks(t *testing.T) {
	exec := &fakeExecutor{}
	w, _ := newTestWorker(newTestQueue(t), exec, false)

	require.NoError(t, w.Process(context.Background(), []string{TaskSkip, TaskFaucet}))
	assert.Zero(t, exec.logins)
	assert.Equal(t, []string{TaskFaucet}, exec.calls)
}

func TestProcess_FailureStopsAndStaysPending(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	exec := &fakeExecutor{results: map[string]error{TaskFaucet: errors.New("faucet dry")}}
	w, identity := newTestWorker(queue, exec, false)

	err := w.Process(ctx, []string{TaskFaucet, loyalty.TaskCompleteQuests})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "faucet dry")
	assert.Equal(t, []string{TaskFaucet}, exec.calls)

	stored, err := queue.Tasks(ctx, identity.Key())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, taskqueue.StatusFailed, stored[0].Status)
	assert.Equal(t, taskqueue.StatusPending, stored[1].Status)

	// The failed task is retried on the next run.
	exec.results = nil
	require.NoError(t, w.Process(ctx, nil))
	assert.Equal(t, []string{TaskFaucet, TaskFaucet, loyalty.TaskCompleteQuests}, exec.calls)
}

func TestProcess_SkipFailedContinues(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	exec := &fakeExecutor{results: map[string]error{"camp_loyalty_awana": errors.New("refused")}}
	w, identity := newTestWorker(queue, exec, true)

	require.NoError(t, w.Process(ctx, []string{"camp_loyalty_awana", "camp_loyalty_kraft"}))
	assert.Equal(t, []string{"camp_loyalty_awana", "camp_loyalty_kraft"}, exec.calls)
	assert.Equal(t, 1, identity.TasksDone)

	pending, err := queue.PendingTasks(ctx, identity.Key())
	require.NoError(t, err)
	assert.Equal(t, []string{"camp_loyalty_awana"}, pending)
}

func TestProcess_LoginFailureRunsNothing(t *testing.T) {
	exec := &fakeExecutor{loginErr: loyalty.ErrChallengeUnsolved}
	w, identity := newTestWorker(newTestQueue(t), exec, true)

	err := w.Process(context.Background(), []string{TaskFaucet, loyalty.TaskConnectSocials})
	assert.ErrorIs(t, err, loyalty.ErrChallengeUnsolved)
	assert.Empty(t, exec.calls)
	assert.Equal(t, statusFailed, identity.LoginStatus)
}

func TestProcess_UnknownTaskFails(t *testing.T) {
	w, _ := newTestWorker(newTestQueue(t), &fakeExecutor{}, false)

	err := w.Process(context.Background(), []string{"set_display_name"})
	assert.ErrorIs(t, err, errUnknownTask)
}

func TestHandleError(t *testing.T) {
	log := logger.NewNamed("test", nil)
	cases := []struct {
		err  error
		stop bool
	}{
		{fmt.Errorf("solve: %w", captcha.ErrZeroBalance), true},
		{captcha.ErrNoProvider, true},
		{context.Canceled, true},
		{errors.New("[ConnectWallet] Error : invalid private key: bad hex"), true},
		{errors.New("task preset \"x\" not found"), true},
		{errors.New("login failed: connection reset"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.stop, handleError(nil, log, tc.err), tc.err.Error())
	}
}
