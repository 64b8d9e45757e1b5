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
)

const discordBaseURL = "https://discord.com"

type Discord struct {
	http    Doer
	token   string
	baseURL string
	log     *logger.ClassLogger
}

func NewDiscord(doer Doer, token string, identity *model.Identity) *Discord {
	d := &Discord{http: doer, token: strings.TrimSpace(token), baseURL: discordBaseURL}
	d.log = logger.NewLogger(d, identity)
	return d
}

func (d *Discord) WithBaseURL(u string) *Discord {
	d.baseURL = strings.TrimRight(u, "/")
	return d
}

type discordAuthorizeBody struct {
	Permissions     string `json:"permissions"`
	Authorize       bool   `json:"authorize"`
	IntegrationType int    `json:"integration_type"`
	LocationContext struct {
		GuildID     string `json:"guild_id"`
		ChannelID   string `json:"channel_id"`
		ChannelType int    `json:"channel_type"`
	} `json:"location_context"`
	DMSettings struct {
		AllowMobilePush bool `json:"allow_mobile_push"`
	} `json:"dm_settings"`
}

// AuthorizeOAuth approves the application for the token's account and
// returns the authorization code from the redirect location.
func (d *Discord) AuthorizeOAuth(ctx context.Context, p OAuthParams) (string, error) {
	if d.token == "" {
		return "", fmt.Errorf("%w: empty discord token", ErrInvalidToken)
	}
	scope := p.Scope
	if scope == "" {
		scope = "identify"
	}
	q := url.Values{
		"client_id":     {p.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {p.RedirectURI},
		"scope":         {scope},
		"state":         {p.State},
	}

	body := discordAuthorizeBody{Permissions: "0", Authorize: true}
	body.LocationContext.GuildID = "10000"
	body.LocationContext.ChannelID = "10000"
	body.LocationContext.ChannelType = 10000

	res, err := d.http.Do(ctx, d.baseURL+"/api/v9/oauth2/authorize?"+q.Encode(), &adhttp.FetchOptions{
		Method: http.MethodPost,
		Body:   body,
		AdditionalHeaders: map[string]string{
			"Authorization":    d.token,
			"Origin":           d.baseURL,
			"Referer":          d.baseURL + "/oauth2/authorize?" + q.Encode(),
			"x-debug-options":  "bugReporterEnabled",
			"x-discord-locale": "en-US",
		},
	})
	if err != nil {
		return "", err
	}
	if res.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: %s", ErrInvalidToken, snippet(res.Text()))
	}
	if !res.OK() {
		return "", fmt.Errorf("discord authorize failed: %d | %s", res.StatusCode, snippet(res.Text()))
	}

	var out struct {
		Location string `json:"location"`
	}
	if err := res.JSON(&out); err != nil {
		return "", err
	}
	if out.Location == "" {
		return "", fmt.Errorf("failed to connect discord: no location in response")
	}
	d.log.JustLog("Discord authorization granted")
	return codeFromURL(out.Location)
}
