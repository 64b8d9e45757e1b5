package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/captcha"
	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/internal/retry"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/clearance"
)

type State int

const (
	NoCredential State = iota
	HasClearance
	Authenticating
	Authenticated
	Expired
)

func (s State) String() string {
	switch s {
	case NoCredential:
		return "NoCredential"
	case HasClearance:
		return "HasClearance"
	case Authenticating:
		return "Authenticating"
	case Authenticated:
		return "Authenticated"
	case Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

var (
	// ErrChallengeUnsolved ends a login: no clearance could be obtained.
	ErrChallengeUnsolved = errors.New("browser challenge unsolved")
	// ErrLoginRejected means the credentials callback set no session cookie.
	ErrLoginRejected = errors.New("login rejected")

	errClearanceRejected = errors.New("clearance rejected by challenge page")
)

// Transport issues one request and returns the reply whatever its status.
type Transport interface {
	Do(ctx context.Context, endpoint string, opts *adhttp.FetchOptions) (*adhttp.Response, error)
}

type Signer interface {
	SignMessage(message string) (string, error)
}

type ClearanceCache interface {
	GetValid(ctx context.Context, key string) (string, bool, error)
	Save(ctx context.Context, key, token string, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
}

type SessionConfig struct {
	BaseURL      string
	ClearanceTTL time.Duration
	Retry        retry.Policy
	Now          func() time.Time
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.BaseURL == "" {
		c.BaseURL = BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ClearanceTTL <= 0 {
		c.ClearanceTTL = clearance.DefaultTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// User is the loyalty account behind a wallet.
type User struct {
	ID               string
	TwitterConnected bool
	DiscordConnected bool
}

// SessionManager logs one identity in and keeps its rolling session token.
type SessionManager struct {
	http     Transport
	solver   captcha.Solver
	signer   Signer
	cache    ClearanceCache
	identity *model.Identity
	key      string
	cfg      SessionConfig

	mu           sync.Mutex
	state        State
	clearance    string
	sessionToken string
	csrfToken    string
	user         *User
	relogins     int

	log *logger.ClassLogger
}

func NewSessionManager(identity *model.Identity, transport Transport, solver captcha.Solver, signer Signer, cache ClearanceCache, cfg SessionConfig) *SessionManager {
	s := &SessionManager{
		http:     transport,
		solver:   solver,
		signer:   signer,
		cache:    cache,
		identity: identity,
		key:      identity.Key(),
		cfg:      cfg.withDefaults(),
	}
	s.log = logger.NewLogger(s, identity)
	return s
}

func (s *SessionManager) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SessionManager) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.identity.LoginStatus = state.String()
}

// Relogins counts the logins forced by a challenge page after the first one.
func (s *SessionManager) Relogins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relogins
}

func (s *SessionManager) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// Cookies returns the cookie set authenticated requests carry.
func (s *SessionManager) Cookies() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]string{
		cookieCallback:  callbackURLCookieValue,
		cookieClearance: s.clearance,
		cookieSession:   s.sessionToken,
		cookieCSRF:      s.csrfToken,
	}
}

// Observe picks up a rotated session token from res.
func (s *SessionManager) Observe(res *adhttp.Response) {
	token, ok := res.Cookie(cookieSession)
	if !ok {
		return
	}
	s.mu.Lock()
	s.sessionToken = token
	s.mu.Unlock()
}

// Login runs the whole login under the retry policy. An unsolved challenge
// aborts at once; a rejected login is retried within the budget.
func (s *SessionManager) Login(ctx context.Context) error {
	_, err := retry.Do(ctx, s.cfg.Retry, false, func(ctx context.Context, attempt int) retry.Result[bool] {
		err := s.login(ctx)
		switch {
		case err == nil:
			return retry.OK(true)
		case errors.Is(err, ErrChallengeUnsolved), ctx.Err() != nil:
			return retry.Fatal(false, err)
		default:
			s.log.Log(fmt.Sprintf("Login attempt %d failed: %v", attempt, err))
			return retry.Retryable[bool](err)
		}
	})
	if err != nil {
		s.setState(NoCredential)
		return err
	}
	return nil
}

// Relogin drops the cached clearance and logs in again. It is called when a
// request hit the challenge page.
func (s *SessionManager) Relogin(ctx context.Context) error {
	s.mu.Lock()
	s.relogins++
	s.mu.Unlock()
	s.setState(Expired)
	s.log.Log("Session expired, logging in again")

	if err := s.resetClearance(ctx); err != nil {
		return err
	}
	return s.Login(ctx)
}

func (s *SessionManager) resetClearance(ctx context.Context) error {
	s.mu.Lock()
	s.clearance, s.sessionToken, s.csrfToken = "", "", ""
	s.mu.Unlock()
	if _, err := s.cache.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to drop cached clearance: %w", err)
	}
	return nil
}

func (s *SessionManager) login(ctx context.Context) error {
	s.setState(NoCredential)
	if err := s.acquireClearance(ctx); err != nil {
		return err
	}
	s.setState(HasClearance)

	nonce, err := s.fetchCSRF(ctx)
	if err != nil {
		if errors.Is(err, errClearanceRejected) {
			if rerr := s.resetClearance(ctx); rerr != nil {
				return rerr
			}
		}
		return err
	}

	s.setState(Authenticating)
	if err := s.signIn(ctx, nonce); err != nil {
		return err
	}

	user, err := s.User(ctx)
	if err != nil {
		return fmt.Errorf("failed to load user info: %w", err)
	}
	s.setState(Authenticated)
	s.log.Log(fmt.Sprintf("Logged in to loyalty, user %s", user.ID))
	return nil
}

func (s *SessionManager) acquireClearance(ctx context.Context) error {
	token, ok, err := s.cache.GetValid(ctx, s.key)
	if err != nil {
		return fmt.Errorf("failed to read clearance cache: %w", err)
	}
	if ok {
		s.mu.Lock()
		s.clearance = token
		s.mu.Unlock()
		s.identity.ClearanceFrom = "cache"
		s.log.JustLog("Using cached clearance")
		return nil
	}

	pageURL := s.cfg.BaseURL + "/loyalty"
	res, err := s.http.Do(ctx, pageURL, &adhttp.FetchOptions{Method: http.MethodGet})
	if err != nil {
		return err
	}
	if !strings.Contains(res.Text(), markerChallenge) {
		token, _ := res.Cookie(cookieClearance)
		s.mu.Lock()
		s.clearance = token
		s.mu.Unlock()
		s.identity.ClearanceFrom = "none"
		return nil
	}

	s.log.Log("Cloudflare challenge detected, solving")
	token, err = s.solver.Solve(ctx, captcha.Challenge{
		Kind:    captcha.KindCFClearance,
		PageURL: pageURL,
		Proxy:   s.identity.Proxy,
		Body:    res.Body,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChallengeUnsolved, err)
	}
	if err := s.cache.Save(ctx, s.key, token, s.cfg.ClearanceTTL); err != nil {
		return fmt.Errorf("failed to cache clearance: %w", err)
	}
	s.mu.Lock()
	s.clearance = token
	s.mu.Unlock()
	s.identity.ClearanceFrom = "solver"
	s.log.Log("Cloudflare challenge solved")
	return nil
}

func (s *SessionManager) fetchCSRF(ctx context.Context) (string, error) {
	return retry.Do(ctx, s.cfg.Retry, "", func(ctx context.Context, attempt int) retry.Result[string] {
		res, err := s.http.Do(ctx, s.cfg.BaseURL+"/api/auth/csrf", &adhttp.FetchOptions{
			Method:  http.MethodGet,
			Cookies: map[string]string{cookieClearance: s.clearanceToken()},
		})
		if err != nil {
			return retry.Retryable[string](err)
		}
		if strings.Contains(res.Text(), markerChallenge) {
			return retry.Fatal("", errClearanceRejected)
		}
		if !res.OK() {
			return retry.Retryable[string](fmt.Errorf("csrf request failed: %d", res.StatusCode))
		}
		var body struct {
			CSRFToken string `json:"csrfToken"`
		}
		if err := res.JSON(&body); err != nil {
			return retry.Retryable[string](err)
		}
		if body.CSRFToken == "" {
			return retry.Retryable[string](fmt.Errorf("csrf response without token"))
		}
		s.mu.Lock()
		if cookie, ok := res.Cookie(cookieCSRF); ok {
			s.csrfToken = cookie
		} else {
			s.csrfToken = body.CSRFToken
		}
		s.mu.Unlock()
		return retry.OK(body.CSRFToken)
	})
}

func (s *SessionManager) clearanceToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearance
}

type signInMessage struct {
	Domain    string `json:"domain"`
	Address   string `json:"address"`
	Statement string `json:"statement"`
	URI       string `json:"uri"`
	Version   string `json:"version"`
	ChainID   int64  `json:"chainId"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issuedAt"`
}

// Text is the human readable form the wallet signs.
func (m signInMessage) Text() string {
	return fmt.Sprintf("%s wants you to sign in with your Ethereum account:\n%s\n\n%s\n\nURI: %s\nVersion: %s\nChain ID: %d\nNonce: %s\nIssued At: %s",
		m.Domain, m.Address, m.Statement, m.URI, m.Version, m.ChainID, m.Nonce, m.IssuedAt)
}

func newSignInMessage(address, nonce string, now time.Time) signInMessage {
	return signInMessage{
		Domain:    Domain,
		Address:   address,
		Statement: statement,
		URI:       "https://" + Domain,
		Version:   "1",
		ChainID:   ChainID,
		Nonce:     nonce,
		IssuedAt:  now.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

func (s *SessionManager) signIn(ctx context.Context, nonce string) error {
	msg := newSignInMessage(s.identity.Address, nonce, s.cfg.Now())
	signature, err := s.signer.SignMessage(msg.Text())
	if err != nil {
		return fmt.Errorf("failed to sign login message: %w", err)
	}
	signature = "0x" + strings.TrimPrefix(signature, "0x")

	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	res, err := s.http.Do(ctx, s.cfg.BaseURL+"/api/auth/callback/credentials", &adhttp.FetchOptions{
		Method: http.MethodPost,
		Form: url.Values{
			"message":             {string(encoded)},
			"accessToken":         {signature},
			"signature":           {signature},
			"walletConnectorName": {"Rabby Wallet"},
			"walletAddress":       {s.identity.Address},
			"redirect":            {"false"},
			"callbackUrl":         {"/protected"},
			"chainType":           {"evm"},
			"csrfToken":           {nonce},
			"json":                {"true"},
		},
		Cookies: map[string]string{cookieClearance: s.clearanceToken()},
		AdditionalHeaders: map[string]string{
			"Referer": s.cfg.BaseURL + "/loyalty",
		},
	})
	if err != nil {
		return err
	}
	if strings.Contains(res.Text(), markerChallenge) {
		if rerr := s.resetClearance(ctx); rerr != nil {
			return rerr
		}
		return errClearanceRejected
	}

	token, ok := res.Cookie(cookieSession)
	if !ok {
		return fmt.Errorf("%w: no session cookie (status %d)", ErrLoginRejected, res.StatusCode)
	}
	s.mu.Lock()
	s.sessionToken = token
	s.mu.Unlock()
	return nil
}

type userQuery struct {
	WalletAddress     string `url:"walletAddress"`
	IncludeDelegation string `url:"includeDelegation"`
	WebsiteID         string `url:"websiteId"`
	OrganizationID    string `url:"organizationId"`
}

type userResponse struct {
	Data []struct {
		ID           string `json:"id"`
		UserMetadata []struct {
			TwitterUser json.RawMessage `json:"twitterUser"`
			DiscordUser json.RawMessage `json:"discordUser"`
		} `json:"userMetadata"`
	} `json:"data"`
}

func linked(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v != "" && v != "null" && v != `""` && v != "{}"
}

// User fetches the loyalty account for the wallet and caches its id.
func (s *SessionManager) User(ctx context.Context) (*User, error) {
	res, err := s.http.Do(ctx, s.cfg.BaseURL+"/api/users", &adhttp.FetchOptions{
		Method: http.MethodGet,
		Params: userQuery{
			WalletAddress:     s.identity.Address,
			IncludeDelegation: "false",
			WebsiteID:         WebsiteID,
			OrganizationID:    OrganizationID,
		},
		Cookies: s.Cookies(),
	})
	if err != nil {
		return nil, err
	}
	s.Observe(res)
	if !res.OK() {
		return nil, fmt.Errorf("user info request failed: %d", res.StatusCode)
	}

	var body userResponse
	if err := res.JSON(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 || body.Data[0].ID == "" {
		return nil, fmt.Errorf("user info response without user")
	}

	user := &User{ID: body.Data[0].ID}
	if meta := body.Data[0].UserMetadata; len(meta) > 0 {
		user.TwitterConnected = linked(meta[0].TwitterUser)
		user.DiscordConnected = linked(meta[0].DiscordUser)
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return user, nil
}
