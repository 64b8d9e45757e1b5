// Package faucet claims testnet CAMP for a wallet.
package faucet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/captcha"
	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/internal/retry"
)

const (
	PageURL  = "https://faucet.campnetwork.xyz/"
	ClaimURL = "https://faucet-go-production.up.railway.app/api/claim"
	SiteKey  = "5b86452e-488a-4f62-bd32-a332445e2f51"
)

var transientMarkers = []string{
	"context deadline exceeded",
	"nonce too low",
	"replacement transaction underpriced",
}

// Replies that will not change on retry.
var ineligibleMarkers = []string{
	"Bot detected",
	"Your IP has exceeded the rate limit",
	"Wallet does not meet eligibility requirements",
}

const alreadyClaimedMarker = "Too many successful transactions"

var ErrIneligible = errors.New("wallet not eligible for faucet")

type Transport interface {
	Do(ctx context.Context, endpoint string, opts *adhttp.FetchOptions) (*adhttp.Response, error)
}

// availability is implemented by solvers that can run out of providers.
type availability interface {
	Available() bool
}

type Claimer struct {
	http     Transport
	solver   captcha.Solver
	identity *model.Identity
	claimURL string
	policy   retry.Policy
	log      *logger.ClassLogger
}

func NewClaimer(identity *model.Identity, transport Transport, solver captcha.Solver, policy retry.Policy) *Claimer {
	c := &Claimer{
		http:     transport,
		solver:   solver,
		identity: identity,
		claimURL: ClaimURL,
		policy:   policy,
	}
	c.log = logger.NewLogger(c, identity)
	return c
}

// WithClaimURL points the claimer at another endpoint, for tests.
func (c *Claimer) WithClaimURL(u string) *Claimer {
	c.claimURL = u
	return c
}

// Claim requests faucet funds. A wallet that already claimed today counts
// as success; an ineligible wallet returns false with ErrIneligible.
func (c *Claimer) Claim(ctx context.Context) (bool, error) {
	if a, ok := c.solver.(availability); ok && !a.Available() {
		return false, captcha.ErrNoProvider
	}
	return retry.Do(ctx, c.policy, false, func(ctx context.Context, attempt int) retry.Result[bool] {
		c.log.Log("Solving faucet hCaptcha")
		token, err := c.solver.Solve(ctx, captcha.Challenge{
			Kind:    captcha.KindHCaptcha,
			SiteKey: SiteKey,
			PageURL: PageURL,
			Proxy:   c.identity.Proxy,
		})
		if err != nil {
			if errors.Is(err, captcha.ErrZeroBalance) || errors.Is(err, captcha.ErrNoProvider) {
				return retry.Fatal(false, err)
			}
			return retry.Retryable[bool](fmt.Errorf("captcha not solved: %w", err))
		}

		res, err := c.http.Do(ctx, c.claimURL, &adhttp.FetchOptions{
			Method: http.MethodPost,
			Body:   map[string]string{"address": c.identity.Address},
			AdditionalHeaders: map[string]string{
				"h-captcha-response": token,
				"Origin":             strings.TrimRight(PageURL, "/"),
				"Referer":            PageURL,
			},
		})
		if err != nil {
			return retry.Retryable[bool](err)
		}
		return c.classify(res)
	})
}

func (c *Claimer) classify(res *adhttp.Response) retry.Result[bool] {
	body := res.Text()
	if strings.Contains(body, alreadyClaimedMarker) {
		c.log.Log("Faucet already claimed, wait 24 hours before the next request")
		return retry.OK(true)
	}
	for _, marker := range transientMarkers {
		if strings.Contains(body, marker) {
			return retry.Retryable[bool](fmt.Errorf("faucet is not available for the moment: %s", marker))
		}
	}
	for _, marker := range ineligibleMarkers {
		if strings.Contains(body, marker) {
			c.log.Log(fmt.Sprintf("Faucet refused: %s", marker))
			return retry.Fatal(false, fmt.Errorf("%w: %s", ErrIneligible, marker))
		}
	}
	if !res.OK() {
		return retry.Retryable[bool](fmt.Errorf("failed to request faucet: %d | %s", res.StatusCode, body))
	}
	c.log.Log("Faucet claimed")
	return retry.OK(true)
}
