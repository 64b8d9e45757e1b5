package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/captcha"
	"github.com/ohmynofan/camp-loyalty-bot/internal/app/rotation"
	"github.com/ohmynofan/camp-loyalty-bot/internal/app/worker"
	"github.com/ohmynofan/camp-loyalty-bot/internal/config"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/clearance"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/taskqueue"
	"golang.org/x/sync/errgroup"
)

type App struct{ cfg config.Config }

func New(cfg config.Config) *App { return &App{cfg: cfg} }

// Solver chains every provider that has a key, in the order Solvium,
// CapSolver, 2Captcha.
func Solver(cfg config.Config) *captcha.Chain {
	var providers []captcha.Provider
	if cfg.SolviumAPIKey != "" {
		providers = append(providers, captcha.NewSolvium(cfg.SolviumAPIKey))
	}
	if cfg.CapSolverAPIKey != "" {
		providers = append(providers, captcha.NewCapSolver(cfg.CapSolverAPIKey))
	}
	if cfg.TwoCaptchaAPIKey != "" {
		providers = append(providers, captcha.NewTwoCaptcha(cfg.TwoCaptchaAPIKey))
	}
	return captcha.NewChain(providers...)
}

// Inputs pairs each account with its line of every data file. Proxies wrap
// around; tokens and emails do not.
func Inputs(cfg config.Config, accounts []config.Account) ([]worker.Input, error) {
	files := map[string]*[]string{}
	var proxies, twitter, discord, emails []string
	files[cfg.ProxiesPath] = &proxies
	files[cfg.TwitterTokensPath] = &twitter
	files[cfg.DiscordTokensPath] = &discord
	files[cfg.EmailsPath] = &emails
	for path, dst := range files {
		lines, err := config.LoadLines(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		*dst = lines
	}

	inputs := make([]worker.Input, 0, len(accounts))
	for i, acc := range accounts {
		inputs = append(inputs, worker.Input{
			Account:      acc,
			Index:        i,
			Proxy:        config.At(proxies, i, true),
			TwitterToken: config.At(twitter, i, false),
			DiscordToken: config.At(discord, i, false),
			Email:        config.At(emails, i, false),
		})
	}
	return inputs, nil
}

func (app *App) Run(ctx context.Context) error {
	accounts, err := app.cfg.LoadAccounts()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return errors.New("no accounts in " + app.cfg.AccountsPath)
	}
	inputs, err := Inputs(app.cfg, accounts)
	if err != nil {
		return err
	}

	spare, err := config.LoadLines(app.cfg.SpareTwitterPath)
	if err != nil {
		return err
	}

	clearances, err := clearance.NewStore(app.cfg.ClearanceDBPath)
	if err != nil {
		return err
	}
	defer clearances.Close()
	if err := clearances.Init(ctx); err != nil {
		return err
	}

	queue, err := taskqueue.NewStore(app.cfg.TaskDBPath)
	if err != nil {
		return err
	}
	defer queue.Close()

	shared := worker.Shared{
		Config:    app.cfg,
		Queue:     queue,
		Clearance: clearances,
		Solver:    Solver(app.cfg),
		Spare:     rotation.New(spare, app.cfg.TwitterTokensPath, app.cfg.SpareTwitterPath),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(app.cfg.Threads)
	for _, in := range inputs {
		g.Go(func() error {
			worker.Run(gctx, in, shared)
			return nil
		})
	}
	return g.Wait()
}
