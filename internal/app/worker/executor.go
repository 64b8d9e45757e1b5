package worker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/captcha"
	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/chain"
	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/social"
	"github.com/ohmynofan/camp-loyalty-bot/internal/app/faucet"
	"github.com/ohmynofan/camp-loyalty-bot/internal/app/loyalty"
	"github.com/ohmynofan/camp-loyalty-bot/internal/app/rotation"
	"github.com/ohmynofan/camp-loyalty-bot/internal/config"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/ui"
	"github.com/ohmynofan/camp-loyalty-bot/internal/retry"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/clearance"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/taskqueue"
)

// Shared is what every identity worker of a run uses.
type Shared struct {
	Config    config.Config
	Queue     *taskqueue.Store
	Clearance *clearance.Store
	Solver    *captcha.Chain
	Spare     *rotation.Pool
}

// Input is one identity's account and the data files' entries for it.
type Input struct {
	Account      config.Account
	Index        int
	Proxy        string
	TwitterToken string
	DiscordToken string
	Email        string
}

func RetryPolicy(cfg config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Attempts,
		PauseMin:    cfg.AttemptPauseMin,
		PauseMax:    cfg.AttemptPauseMax,
	}
}

// Run processes one identity until its tasks are done, a fatal error stops
// it, or the attempt budget runs out.
func Run(ctx context.Context, in Input, shared Shared) {
	cfg := shared.Config
	identity := &model.Identity{
		Account:      in.Account.PrivateKey,
		AccIdx:       in.Index,
		Address:      "-",
		Proxy:        in.Proxy,
		TwitterToken: in.TwitterToken,
		DiscordToken: in.DiscordToken,
		Email:        in.Email,
		LoginStatus:  statusWaiting,
		CurrentTask:  statusWaiting,
	}
	log := logger.NewNamed(fmt.Sprintf("Operation - Account %d", identity.AccIdx+1), identity)

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		err := runOnce(ctx, identity, shared)
		if err == nil {
			ui.SetSpinnerSuccess(*identity, "All tasks processed")
			return
		}
		if handleError(identity, log, err) {
			ui.SetSpinnerError(*identity, err.Error())
			return
		}
	}
	log.Log(fmt.Sprintf("Giving up after %d attempts", cfg.Attempts), 0)
	ui.SetSpinnerError(*identity, "Attempts exhausted")
}

func runOnce(ctx context.Context, identity *model.Identity, shared Shared) error {
	cfg := shared.Config
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(identity.AccIdx)))
	tasks, err := cfg.LoadTasks(r)
	if err != nil {
		return err
	}

	exec, err := newCampExecutor(ctx, identity, shared)
	if err != nil {
		return err
	}
	defer exec.Close()

	w := New(identity, shared.Queue, exec, Options{
		SkipFailedTasks: cfg.SkipFailedTasks,
		PauseMin:        cfg.ActionPauseMin,
		PauseMax:        cfg.ActionPauseMax,
	})
	return w.Process(ctx, tasks)
}

// campExecutor runs tasks against the live loyalty site, faucet and chain.
type campExecutor struct {
	chain   *chain.EthersClient
	online  bool
	session *loyalty.SessionManager
	engine  *loyalty.Engine
	socials *loyalty.Socials
	faucet  *faucet.Claimer
	log     *logger.ClassLogger
}

func newCampExecutor(ctx context.Context, identity *model.Identity, shared Shared) (*campExecutor, error) {
	cfg := shared.Config
	x := &campExecutor{}
	x.log = logger.NewLogger(x, identity)

	network := config.CampBasecamp.WithRPC(cfg.RPCURL)
	ec, err := chain.New(identity, network)
	if err != nil {
		x.log.Log(fmt.Sprintf("RPC unavailable, on-chain quests disabled: %v", err))
		ec = chain.NewOffline(identity, network)
	} else {
		x.online = true
	}
	x.chain = ec
	if err := ec.ConnectWallet(); err != nil {
		ec.Close()
		return nil, err
	}
	if x.online {
		if err := ec.GetWalletBalance(ctx); err != nil {
			x.log.JustLog(fmt.Sprintf("failed to read wallet balance: %v", err))
		}
	}

	client, err := adhttp.NewAPIClient(identity.Proxy, loyalty.BaseURL, identity)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("could not initialize API client: %w", err)
	}

	policy := RetryPolicy(cfg)
	x.session = loyalty.NewSessionManager(identity, client, shared.Solver, ec, shared.Clearance, loyalty.SessionConfig{
		ClearanceTTL: cfg.ClearanceTTL,
		Retry:        policy,
	})

	newTwitter := func(token string) (loyalty.TwitterAccount, error) {
		t, err := social.NewTwitter(client, token, identity)
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	var twitter loyalty.TwitterAccount
	if identity.TwitterToken != "" {
		if twitter, err = newTwitter(identity.TwitterToken); err != nil {
			ec.Close()
			return nil, err
		}
	}
	var discord loyalty.DiscordAccount
	if identity.DiscordToken != "" {
		discord = social.NewDiscord(client, identity.DiscordToken, identity)
	}
	var pool loyalty.SparePool
	if shared.Spare != nil {
		pool = shared.Spare
	}

	x.socials = loyalty.NewSocials(identity, client, x.session, twitter, discord, pool, newTwitter, loyalty.SocialsConfig{
		ReplaceEnabled:  cfg.ReplaceFailedTwitter,
		ConfirmPauseMin: cfg.ActionPauseMin,
		ConfirmPauseMax: cfg.ActionPauseMax,
		Retry:           policy,
	})

	var follower loyalty.Follower
	if twitter != nil {
		follower = currentTwitter{socials: x.socials}
	}
	var minter loyalty.Minter
	if x.online {
		minter = ec
	}
	x.engine = loyalty.NewEngine(identity, client, x.session, follower, x.socials, loyalty.SpecialActions(minter), loyalty.EngineConfig{
		PollInterval:    cfg.QuestPollInterval,
		MaxPollAttempts: cfg.MaxQuestPollAttempts,
		Retry:           policy,
		QuestPauseMin:   cfg.ActionPauseMin,
		QuestPauseMax:   cfg.ActionPauseMax,
	})

	x.faucet = faucet.NewClaimer(identity, client, shared.Solver, policy)
	return x, nil
}

func (x *campExecutor) Close() {
	if x.chain != nil {
		x.chain.Close()
	}
}

func (x *campExecutor) Login(ctx context.Context) error {
	return x.session.Login(ctx)
}

func (x *campExecutor) Faucet(ctx context.Context) (bool, error) {
	ok, err := x.faucet.Claim(ctx)
	if ok && x.online {
		if err := x.chain.GetWalletBalance(ctx); err != nil {
			x.log.JustLog(fmt.Sprintf("failed to refresh wallet balance: %v", err))
		}
	}
	return ok, err
}

func (x *campExecutor) ConnectSocials(ctx context.Context) (bool, error) {
	return x.socials.ConnectSocials(ctx)
}

func (x *campExecutor) CompleteQuests(ctx context.Context, task string) loyalty.Report {
	return x.engine.CompleteQuests(ctx, task)
}

// currentTwitter follows with whichever token Socials holds, so a token
// swapped while linking is also used for quests.
type currentTwitter struct{ socials *loyalty.Socials }

func (c currentTwitter) Follow(ctx context.Context, username string) (bool, error) {
	tw := c.socials.Twitter()
	if tw == nil {
		return false, social.ErrInvalidToken
	}
	return tw.Follow(ctx, username)
}

func (c currentTwitter) Validate(ctx context.Context) (string, error) {
	tw := c.socials.Twitter()
	if tw == nil {
		return "", social.ErrInvalidToken
	}
	return tw.Validate(ctx)
}
