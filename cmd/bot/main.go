package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ohmynofan/camp-loyalty-bot/internal/app"
	"github.com/ohmynofan/camp-loyalty-bot/internal/config"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/ui"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/clearance"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bot",
		Short:         "Camp Network loyalty automation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}
	root.AddCommand(clearanceCmd(), tasksCmd())
	return root
}

func runBot(cmd *cobra.Command, _ []string) error {
	runID := uuid.NewString()
	_ = logger.Init("logs/app.log", runID)
	defer logger.Close()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ui.StartUISystem()
	defer ui.StopUISystem()

	if err := app.New(cfg).Run(cmd.Context()); err != nil {
		return err
	}

	time.Sleep(1 * time.Second)
	return nil
}

func clearanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clearance",
		Short: "Inspect stored challenge clearances",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored clearances and whether they are still valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClearanceStore(cmd.Context(), func(s *clearance.Store) error {
				records, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(records) == 0 {
					pterm.Info.Println("No stored clearances")
					return nil
				}
				data := pterm.TableData{{"Identity", "Created", "Expires", "Valid"}}
				for key, rec := range records {
					data = append(data, []string{
						key,
						rec.CreatedAt.Local().Format(time.DateTime),
						rec.ExpiresAt.Local().Format(time.DateTime),
						fmt.Sprintf("%t", rec.Valid),
					})
				}
				return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete every expired clearance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClearanceStore(cmd.Context(), func(s *clearance.Store) error {
				n, err := s.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				pterm.Success.Printfln("Removed %d expired clearances", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <identity-key>",
		Short: "Delete the clearance stored for one identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClearanceStore(cmd.Context(), func(s *clearance.Store) error {
				removed, err := s.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					pterm.Warning.Printfln("No clearance stored for %s", args[0])
					return nil
				}
				pterm.Success.Printfln("Deleted clearance for %s", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withClearanceStore(ctx context.Context, fn func(*clearance.Store) error) error {
	cfg := config.Load()
	s, err := clearance.NewStore(cfg.ClearanceDBPath)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Init(ctx); err != nil {
		return err
	}
	return fn(s)
}
