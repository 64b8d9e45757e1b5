// Package social drives the Twitter (X) and Discord endpoints the loyalty
// site relies on: following accounts and granting OAuth consent.
package social

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
)

// ErrInvalidToken means the platform rejected the account token itself.
// Retrying with the same token will not help.
var ErrInvalidToken = errors.New("social token invalid")

type Doer interface {
	Do(ctx context.Context, endpoint string, opts *adhttp.FetchOptions) (*adhttp.Response, error)
}

// OAuthParams are the authorization request values handed out by the
// loyalty site's redirect.
type OAuthParams struct {
	ClientID            string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	RedirectURI         string
	Scope               string
}

// ParseOAuthRedirect reads OAuth parameters from the URL the loyalty site
// redirected to.
func ParseOAuthRedirect(rawURL string) (OAuthParams, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return OAuthParams{}, fmt.Errorf("invalid oauth redirect: %w", err)
	}
	q := u.Query()
	p := OAuthParams{
		ClientID:            q.Get("client_id"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		State:               q.Get("state"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
	}
	if p.State == "" {
		return OAuthParams{}, fmt.Errorf("oauth redirect has no state: %s", rawURL)
	}
	return p, nil
}

// codeFromURL extracts the code query value from a callback URL.
func codeFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid callback url: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("callback url has no code: %s", raw)
	}
	return code, nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
