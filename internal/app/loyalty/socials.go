package loyalty

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/social"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/internal/retry"
)

const (
	twitterRedirectURI = "https://snag-render.com/api/twitter/auth/callback"
	discordRedirectURI = "https://snag-render.com/api/discord/auth/callback"
	discordClientID    = "1082817417195040808"
)

// ErrReplaceDisabled is returned by Replace when token rotation is off.
var ErrReplaceDisabled = errors.New("twitter token replacement disabled")

// UserSession is the session surface social linking needs.
type UserSession interface {
	SessionAccessor
	User(ctx context.Context) (*User, error)
}

// TwitterAccount is one X token's capabilities.
type TwitterAccount interface {
	Follower
	TokenValidator
	Token() string
	AuthorizeOAuth(ctx context.Context, p social.OAuthParams) (string, error)
}

type DiscordAccount interface {
	AuthorizeOAuth(ctx context.Context, p social.OAuthParams) (string, error)
}

// SparePool hands out replacement tokens.
type SparePool interface {
	AcquireReplacement(failed string) (string, error)
}

type SocialsConfig struct {
	BaseURL        string
	ReplaceEnabled bool
	// ConfirmPauseMin/Max is the wait before checking a fresh link.
	ConfirmPauseMin time.Duration
	ConfirmPauseMax time.Duration
	Retry           retry.Policy
	Sleep           retry.SleepFunc
}

// Socials links the identity's X and Discord accounts to the loyalty user
// and rotates the X token when it is rejected.
type Socials struct {
	http     Transport
	session  UserSession
	identity *model.Identity
	twitter  TwitterAccount
	discord  DiscordAccount
	pool     SparePool
	// newTwitter binds a client to a replacement token.
	newTwitter func(token string) (TwitterAccount, error)
	cfg        SocialsConfig
	log        *logger.ClassLogger
}

func NewSocials(identity *model.Identity, transport Transport, session UserSession, twitter TwitterAccount, discord DiscordAccount, pool SparePool, newTwitter func(string) (TwitterAccount, error), cfg SocialsConfig) *Socials {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.Sleep
	}
	if cfg.Retry.Sleep == nil {
		cfg.Retry.Sleep = cfg.Sleep
	}
	s := &Socials{
		http:       transport,
		session:    session,
		identity:   identity,
		twitter:    twitter,
		discord:    discord,
		pool:       pool,
		newTwitter: newTwitter,
		cfg:        cfg,
	}
	s.log = logger.NewLogger(s, identity)
	return s
}

// Twitter is the account currently bound to the identity.
func (s *Socials) Twitter() TwitterAccount { return s.twitter }

// ConnectSocials links whatever is not linked yet. A missing token is
// logged and skipped.
func (s *Socials) ConnectSocials(ctx context.Context) (bool, error) {
	user, err := s.session.User(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read user info: %w", err)
	}

	success := true
	switch {
	case user.TwitterConnected:
		s.log.Log("Twitter already connected")
	case s.twitter == nil || s.twitter.Token() == "":
		s.log.Log("No twitter token for this account, add one to data/twitter_tokens.txt")
	default:
		err := s.ConnectTwitter(ctx, s.twitter)
		if errors.Is(err, social.ErrInvalidToken) && s.cfg.ReplaceEnabled {
			_, err = s.Replace(ctx)
		}
		if err != nil {
			s.log.Log(fmt.Sprintf("Failed to connect twitter: %v", err))
			success = false
		}
	}

	switch {
	case user.DiscordConnected:
		s.log.Log("Discord already connected")
	case s.discord == nil || s.identity.DiscordToken == "":
		s.log.Log("No discord token for this account, add one to data/discord_tokens.txt")
	default:
		if err := s.ConnectDiscord(ctx); err != nil {
			s.log.Log(fmt.Sprintf("Failed to connect discord: %v", err))
			success = false
		}
	}
	return success, nil
}

// ConnectTwitter links tw to the loyalty user. An invalid token is returned
// at once, other failures are retried.
func (s *Socials) ConnectTwitter(ctx context.Context, tw TwitterAccount) error {
	_, err := retry.Do(ctx, s.cfg.Retry, false, func(ctx context.Context, attempt int) retry.Result[bool] {
		err := s.connectTwitter(ctx, tw)
		switch {
		case err == nil:
			return retry.OK(true)
		case errors.Is(err, social.ErrInvalidToken), ctx.Err() != nil:
			return retry.Fatal(false, err)
		default:
			return retry.Retryable[bool](err)
		}
	})
	return err
}

func (s *Socials) connectTwitter(ctx context.Context, tw TwitterAccount) error {
	res, err := s.http.Do(ctx, s.cfg.BaseURL+"/api/twitter/auth", &adhttp.FetchOptions{
		Method:  http.MethodGet,
		Cookies: s.session.Cookies(),
		AdditionalHeaders: map[string]string{
			"Referer": s.cfg.BaseURL + "/home?editProfile=1&modalTab=social",
		},
	})
	if err != nil {
		return err
	}
	params, err := social.ParseOAuthRedirect(res.URL)
	if err != nil {
		return err
	}
	if params.RedirectURI == "" {
		params.RedirectURI = twitterRedirectURI
	}

	code, err := tw.AuthorizeOAuth(ctx, params)
	if err != nil {
		return err
	}
	return s.finishLink(ctx, "twitter", code, params.State, func(u *User) bool { return u.TwitterConnected })
}

// ConnectDiscord links the identity's discord token.
func (s *Socials) ConnectDiscord(ctx context.Context) error {
	_, err := retry.Do(ctx, s.cfg.Retry, false, func(ctx context.Context, attempt int) retry.Result[bool] {
		err := s.connectDiscord(ctx)
		switch {
		case err == nil:
			return retry.OK(true)
		case errors.Is(err, social.ErrInvalidToken), ctx.Err() != nil:
			return retry.Fatal(false, err)
		default:
			return retry.Retryable[bool](err)
		}
	})
	return err
}

func (s *Socials) connectDiscord(ctx context.Context) error {
	res, err := s.http.Do(ctx, s.cfg.BaseURL+"/api/discord/auth", &adhttp.FetchOptions{
		Method:  http.MethodGet,
		Cookies: s.session.Cookies(),
	})
	if err != nil {
		return err
	}
	params, err := social.ParseOAuthRedirect(res.URL)
	if err != nil {
		return err
	}
	params.ClientID = discordClientID
	params.RedirectURI = discordRedirectURI
	params.Scope = "identify"

	code, err := s.discord.AuthorizeOAuth(ctx, params)
	if err != nil {
		return err
	}
	return s.finishLink(ctx, "discord", code, params.State, func(u *User) bool { return u.DiscordConnected })
}

// finishLink hands the code back to the loyalty site and confirms the link
// through user info.
func (s *Socials) finishLink(ctx context.Context, platform, code, state string, linked func(*User) bool) error {
	res, err := s.http.Do(ctx, fmt.Sprintf("%s/api/%s/auth/connect", s.cfg.BaseURL, platform), &adhttp.FetchOptions{
		Method: http.MethodGet,
		Params: struct {
			Code  string `url:"code"`
			State string `url:"state"`
		}{code, state},
		Cookies: s.session.Cookies(),
	})
	if err != nil {
		return err
	}
	s.session.Observe(res)

	if err := s.cfg.Sleep(ctx, retry.RandomDuration(s.cfg.ConfirmPauseMin, s.cfg.ConfirmPauseMax)); err != nil {
		return err
	}

	user, err := s.session.User(ctx)
	if err != nil {
		return err
	}
	if !linked(user) {
		return fmt.Errorf("failed to confirm %s connection: %d | %s", platform, res.StatusCode, truncate(res.Text()))
	}
	s.log.Log(fmt.Sprintf("Connected %s to loyalty", platform))
	return nil
}

// Replace takes spare tokens until one links successfully. It stops with
// the pool's error once the pool is empty.
func (s *Socials) Replace(ctx context.Context) (Follower, error) {
	if !s.cfg.ReplaceEnabled || s.pool == nil || s.newTwitter == nil {
		return nil, ErrReplaceDisabled
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		failed := s.identity.TwitterToken
		token, err := s.pool.AcquireReplacement(failed)
		if token == "" {
			return nil, err
		}
		if err != nil {
			s.log.JustLog(fmt.Sprintf("Token swap recorded with error: %v", err))
		}
		s.identity.TwitterToken = token
		s.log.Log("Replaced twitter token, linking the new one")

		tw, err := s.newTwitter(token)
		if err != nil {
			return nil, err
		}
		if _, err := tw.Validate(ctx); err != nil {
			if !errors.Is(err, social.ErrInvalidToken) {
				return nil, err
			}
			s.log.Log(fmt.Sprintf("Replacement token rejected: %v", err))
			continue
		}
		if err := s.ConnectTwitter(ctx, tw); err != nil {
			s.log.Log(fmt.Sprintf("Replacement token failed: %v", err))
			continue
		}
		s.twitter = tw
		return tw, nil
	}
}
