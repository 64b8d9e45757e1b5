package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ohmynofan/camp-loyalty-bot/internal/config"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/taskqueue"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the saved per-wallet task queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [account-number]",
		Short: "Show each wallet's queued tasks and their status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskQueue(args, func(q *taskqueue.Store, accounts []config.Account, number int) error {
				data, err := listTasks(cmd.Context(), q, accounts, number)
				if err != nil {
					return err
				}
				if len(data) == 1 {
					pterm.Info.Println("No saved tasks")
					return nil
				}
				return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset [account-number]",
		Short: "Drop saved tasks so the next run starts from the configured list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskQueue(args, func(q *taskqueue.Store, accounts []config.Account, number int) error {
				n, err := resetTasks(cmd.Context(), q, accounts, number)
				if err != nil {
					return err
				}
				pterm.Success.Printfln("Reset tasks of %d wallets", n)
				return nil
			})
		},
	})

	return cmd
}

func withTaskQueue(args []string, fn func(*taskqueue.Store, []config.Account, int) error) error {
	number := 0
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid account number %q", args[0])
		}
		number = n
	}

	cfg := config.Load()
	accounts, err := cfg.LoadAccounts()
	if err != nil {
		return err
	}
	q, err := taskqueue.NewStore(cfg.TaskDBPath)
	if err != nil {
		return err
	}
	defer q.Close()
	return fn(q, accounts, number)
}

// selectAccounts returns the 0-based indexes picked by a 1-based number;
// 0 picks every account.
func selectAccounts(accounts []config.Account, number int) ([]int, error) {
	if number > len(accounts) {
		return nil, fmt.Errorf("account %d not found, %d accounts configured", number, len(accounts))
	}
	if number > 0 {
		return []int{number - 1}, nil
	}
	idx := make([]int, len(accounts))
	for i := range accounts {
		idx[i] = i
	}
	return idx, nil
}

func listTasks(ctx context.Context, q *taskqueue.Store, accounts []config.Account, number int) (pterm.TableData, error) {
	idx, err := selectAccounts(accounts, number)
	if err != nil {
		return nil, err
	}
	data := pterm.TableData{{"Account", "#", "Task", "Status"}}
	for _, i := range idx {
		tasks, err := q.Tasks(ctx, model.IdentityKey(accounts[i].PrivateKey))
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			data = append(data, []string{strconv.Itoa(i + 1), strconv.Itoa(t.Position), t.Name, t.Status})
		}
	}
	return data, nil
}

func resetTasks(ctx context.Context, q *taskqueue.Store, accounts []config.Account, number int) (int, error) {
	idx, err := selectAccounts(accounts, number)
	if err != nil {
		return 0, err
	}
	for _, i := range idx {
		if err := q.Reset(ctx, model.IdentityKey(accounts[i].PrivateKey)); err != nil {
			return 0, err
		}
	}
	return len(idx), nil
}
