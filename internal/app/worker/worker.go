package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/captcha"
	"github.com/ohmynofan/camp-loyalty-bot/internal/app/loyalty"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/ui"
	"github.com/ohmynofan/camp-loyalty-bot/internal/retry"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/taskqueue"
)

const (
	statusWaiting    = "WAITING"
	statusInProgress = "IN PROGRESS"
	statusDone       = "DONE"
	statusFailed     = "FAILED"

	errorRetryDelayMs = 60_000

	TaskFaucet = "faucet"
	TaskSkip   = "skip"
)

var errUnknownTask = errors.New("unknown task")

// TaskQueue is the durable per-wallet task list.
type TaskQueue interface {
	Seed(ctx context.Context, walletKey string, tasks []string) (bool, error)
	PendingTasks(ctx context.Context, walletKey string) ([]string, error)
	UpdateStatus(ctx context.Context, walletKey, name, status string) error
}

// Executor performs the work behind each task name.
type Executor interface {
	Login(ctx context.Context) error
	Faucet(ctx context.Context) (bool, error)
	ConnectSocials(ctx context.Context) (bool, error)
	CompleteQuests(ctx context.Context, task string) loyalty.Report
}

type Options struct {
	SkipFailedTasks bool
	PauseMin        time.Duration
	PauseMax        time.Duration
	Sleep           retry.SleepFunc
}

type Worker struct {
	identity *model.Identity
	queue    TaskQueue
	exec     Executor
	opts     Options
	log      *logger.ClassLogger
}

func New(identity *model.Identity, queue TaskQueue, exec Executor, opts Options) *Worker {
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	w := &Worker{identity: identity, queue: queue, exec: exec, opts: opts}
	w.log = logger.NewNamed(fmt.Sprintf("Operation - Account %d", identity.AccIdx+1), identity)
	return w
}

func handleError(identity *model.Identity, log *logger.ClassLogger, err error) (shouldStop bool) {
	if errors.Is(err, captcha.ErrZeroBalance) || errors.Is(err, captcha.ErrNoProvider) || errors.Is(err, context.Canceled) {
		log.Log(fmt.Sprintf("FATAL: %v. Worker will stop.", err), 0)
		return true
	}

	errMsg := err.Error()
	fatalSubstrings := []string{
		"invalid account input",
		"failed to read from seed phrase",
		"invalid private key",
		"Secret Phrase or Private Key required",
		"task preset",
	}

	for _, sub := range fatalSubstrings {
		if strings.Contains(errMsg, sub) {
			if identity != nil {
				log.Log(fmt.Sprintf("FATAL: %s. Worker for accounts %d will stop.", errMsg, identity.AccIdx+1), 0)
			} else {
				log.Log(fmt.Sprintf("FATAL: %s. Worker will stop.", errMsg), 0)
			}
			return true
		}
	}

	log.Log(fmt.Sprintf("%s, Retrying after 60 seconds", errMsg), errorRetryDelayMs)
	return false
}

// Process seeds tasks for the wallet, unless it already has a list, and runs
// whatever is still pending in order.
func (w *Worker) Process(ctx context.Context, tasks []string) error {
	key := w.identity.Key()
	seeded, err := w.queue.Seed(ctx, key, tasks)
	if err != nil {
		return fmt.Errorf("failed to seed tasks: %w", err)
	}
	if !seeded {
		w.log.JustLog("Resuming stored task list")
	}

	pending, err := w.queue.PendingTasks(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load pending tasks: %w", err)
	}
	w.identity.TasksTotal = len(pending)
	w.identity.TasksDone = 0
	if len(pending) == 0 {
		w.identity.CurrentTask = statusDone
		w.log.Log("All tasks already completed")
		return nil
	}

	if needsLogin(pending) {
		w.identity.LoginStatus = statusInProgress
		if err := w.exec.Login(ctx); err != nil {
			w.identity.LoginStatus = statusFailed
			return fmt.Errorf("login failed: %w", err)
		}
		w.identity.LoginStatus = statusDone
	}

	for i, task := range pending {
		w.identity.CurrentTask = task
		w.log.Log(fmt.Sprintf("Running task %d/%d: %s", i+1, len(pending), task))

		ok, err := w.runTask(ctx, task)
		if err := ctx.Err(); err != nil {
			return err
		}

		status := taskqueue.StatusCompleted
		if !ok {
			status = taskqueue.StatusFailed
		}
		if uerr := w.queue.UpdateStatus(ctx, key, task, status); uerr != nil {
			w.log.JustLog(fmt.Sprintf("failed to store status of %s: %v", task, uerr))
		}

		if ok {
			w.identity.TasksDone++
		} else {
			if err == nil {
				err = errors.New("not completed")
			}
			if !w.opts.SkipFailedTasks {
				return fmt.Errorf("task %s failed: %w", task, err)
			}
			w.log.Log(fmt.Sprintf("Task %s failed, skipping: %v", task, err))
		}

		if i < len(pending)-1 {
			pause := retry.RandomDuration(w.opts.PauseMin, w.opts.PauseMax)
			w.log.Log(fmt.Sprintf("Next task in %s", ui.FormatDelay(pause)), 0)
			if err := w.opts.Sleep(ctx, pause); err != nil {
				return err
			}
		}
	}

	w.identity.CurrentTask = statusDone
	return nil
}

func (w *Worker) runTask(ctx context.Context, task string) (bool, error) {
	task = strings.ToLower(strings.TrimSpace(task))
	switch {
	case task == TaskSkip:
		return true, nil
	case task == TaskFaucet:
		return w.exec.Faucet(ctx)
	case task == loyalty.TaskConnectSocials:
		return w.exec.ConnectSocials(ctx)
	case loyalty.IsLoyaltyTask(task):
		report := w.exec.CompleteQuests(ctx, task)
		w.log.Log(fmt.Sprintf("Quests: %d completed, %d failed, %d skipped",
			report.Count(loyalty.Completed), report.Count(loyalty.Failed), report.Count(loyalty.Skipped)))
		w.log.LogObject("Quest outcomes", report.Lines())
		return report.OK(), report.Err
	default:
		return false, fmt.Errorf("%w: %s", errUnknownTask, task)
	}
}

func needsLogin(tasks []string) bool {
	for _, t := range tasks {
		if loyalty.IsLoyaltyTask(t) {
			return true
		}
	}
	return false
}
