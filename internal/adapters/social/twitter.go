package social

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/pkg/utils"
)

const (
	twitterBaseURL = "https://x.com"
	// public web-client bearer
	twitterBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs=1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

	twitterAuthFailed = "Could not authenticate you"
	twitterErrorPage  = "X / Error"
)

type Twitter struct {
	http    Doer
	token   string
	csrf    string
	baseURL string
	log     *logger.ClassLogger
}

func NewTwitter(doer Doer, authToken string, identity *model.Identity) (*Twitter, error) {
	csrf, err := utils.GenerateRandomHex(16)
	if err != nil {
		return nil, err
	}
	t := &Twitter{
		http:    doer,
		token:   strings.TrimSpace(authToken),
		csrf:    csrf,
		baseURL: twitterBaseURL,
	}
	t.log = logger.NewLogger(t, identity)
	return t, nil
}

// WithBaseURL points the client at another host, for tests.
func (t *Twitter) WithBaseURL(u string) *Twitter {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

func (t *Twitter) Token() string { return t.token }

func (t *Twitter) options(method string) *adhttp.FetchOptions {
	return &adhttp.FetchOptions{
		Method: method,
		Token:  twitterBearer,
		Cookies: map[string]string{
			"auth_token": t.token,
			"ct0":        t.csrf,
		},
		AdditionalHeaders: map[string]string{
			"x-csrf-token":              t.csrf,
			"x-twitter-active-user":     "yes",
			"x-twitter-auth-type":       "OAuth2Session",
			"x-twitter-client-language": "en",
			"Origin":                    t.baseURL,
			"Referer":                   t.baseURL + "/",
		},
	}
}

func classifyTwitter(res *adhttp.Response) error {
	body := res.Text()
	if strings.Contains(body, twitterAuthFailed) || res.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrInvalidToken, snippet(body))
	}
	if strings.Contains(body, twitterErrorPage) {
		return fmt.Errorf("x returned an error page, try again")
	}
	if !res.OK() {
		return fmt.Errorf("x request failed: %d | %s", res.StatusCode, snippet(body))
	}
	return nil
}

// Validate checks that the token still logs in and returns its screen name.
func (t *Twitter) Validate(ctx context.Context) (string, error) {
	if t.token == "" {
		return "", fmt.Errorf("%w: empty twitter token", ErrInvalidToken)
	}
	res, err := t.http.Do(ctx, t.baseURL+"/i/api/1.1/account/settings.json", t.options(http.MethodGet))
	if err != nil {
		return "", err
	}
	if err := classifyTwitter(res); err != nil {
		return "", err
	}
	var settings struct {
		ScreenName string `json:"screen_name"`
	}
	if err := res.JSON(&settings); err != nil {
		return "", err
	}
	if settings.ScreenName == "" {
		return "", fmt.Errorf("x account settings without screen name")
	}
	t.log.Log(fmt.Sprintf("Twitter account @%s ready", settings.ScreenName))
	return settings.ScreenName, nil
}

// Follow follows username. Following an already followed account succeeds.
func (t *Twitter) Follow(ctx context.Context, username string) (bool, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return false, fmt.Errorf("username to follow is empty")
	}

	opts := t.options(http.MethodPost)
	opts.Form = url.Values{
		"include_profile_interstitial_type": {"1"},
		"skip_status":                       {"1"},
		"screen_name":                       {username},
	}
	res, err := t.http.Do(ctx, t.baseURL+"/i/api/1.1/friendships/create.json", opts)
	if err != nil {
		return false, err
	}
	if err := classifyTwitter(res); err != nil {
		return false, err
	}
	t.log.Log(fmt.Sprintf("Followed @%s", username))
	return true, nil
}

// AuthorizeOAuth grants the OAuth2 consent and returns the authorization code.
func (t *Twitter) AuthorizeOAuth(ctx context.Context, p OAuthParams) (string, error) {
	scope := p.Scope
	if scope == "" {
		scope = "users.read tweet.read"
	}
	q := url.Values{
		"client_id":             {p.ClientID},
		"code_challenge":        {p.CodeChallenge},
		"code_challenge_method": {p.CodeChallengeMethod},
		"redirect_uri":          {p.RedirectURI},
		"response_type":         {"code"},
		"scope":                 {scope},
		"state":                 {p.State},
	}
	endpoint := t.baseURL + "/i/api/2/oauth2/authorize"

	res, err := t.http.Do(ctx, endpoint+"?"+q.Encode(), t.options(http.MethodGet))
	if err != nil {
		return "", err
	}
	if err := classifyTwitter(res); err != nil {
		return "", err
	}
	var authResp struct {
		AuthCode string `json:"auth_code"`
	}
	if err := res.JSON(&authResp); err != nil || authResp.AuthCode == "" {
		return "", fmt.Errorf("no auth_code in response: %d | %s", res.StatusCode, snippet(res.Text()))
	}

	opts := t.options(http.MethodPost)
	opts.Form = url.Values{"approval": {"true"}, "code": {authResp.AuthCode}}
	res, err = t.http.Do(ctx, endpoint, opts)
	if err != nil {
		return "", err
	}
	if err := classifyTwitter(res); err != nil {
		return "", err
	}
	var approveResp struct {
		RedirectURI string `json:"redirect_uri"`
	}
	if err := res.JSON(&approveResp); err != nil {
		return "", err
	}
	return codeFromURL(approveResp.RedirectURI)
}
