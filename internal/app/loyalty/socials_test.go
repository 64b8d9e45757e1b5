package loyalty

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/social"
	"github.com/ohmynofan/camp-loyalty-bot/internal/app/rotation"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTwitter struct {
	fakeFollower
	token       string
	authErr     error
	authCalls   int
	params      social.OAuthParams
	validateErr error
	validations int
}

func (f *fakeTwitter) Token() string { return f.token }

func (f *fakeTwitter) Validate(context.Context) (string, error) {
	f.validations++
	if f.validateErr != nil {
		return "", f.validateErr
	}
	return "user-" + f.token, nil
}

func (f *fakeTwitter) AuthorizeOAuth(_ context.Context, p social.OAuthParams) (string, error) {
	f.authCalls++
	f.params = p
	if f.authErr != nil {
		return "", f.authErr
	}
	return "code-" + f.token, nil
}

type fakeDiscord struct {
	params social.OAuthParams
}

func (f *fakeDiscord) AuthorizeOAuth(_ context.Context, p social.OAuthParams) (string, error) {
	f.params = p
	return "dcode", nil
}

func redirectTo(u string) *adhttp.Response {
	res := reply(http.StatusOK, "<html></html>")
	res.URL = u
	return res
}

func newTestSocials(identity *model.Identity, tr Transport, sess UserSession, tw TwitterAccount, dc DiscordAccount, pool SparePool, newTwitter func(string) (TwitterAccount, error)) *Socials {
	return NewSocials(identity, tr, sess, tw, dc, pool, newTwitter, SocialsConfig{
		BaseURL:        testBase,
		ReplaceEnabled: true,
		Retry:          retry.Policy{MaxAttempts: 2},
		Sleep:          noSleep,
	})
}

func TestConnectSocials_LinksTwitterAndDiscord(t *testing.T) {
	tr := newScripted().
		on("/api/twitter/auth", redirectTo("https://x.com/i/oauth2/authorize?client_id=cid&code_challenge=cc&code_challenge_method=plain&state=tw-state")).
		on("/api/twitter/auth/connect", reply(http.StatusOK, "{}")).
		on("/api/discord/auth", redirectTo("https://discord.com/oauth2/authorize?client_id=1082817417195040808&state=dc-state")).
		on("/api/discord/auth/connect", reply(http.StatusOK, "{}"))
	sess := &fakeSession{users: []*User{
		{ID: "user-1"},
		{ID: "user-1", TwitterConnected: true},
		{ID: "user-1", TwitterConnected: true, DiscordConnected: true},
	}}
	identity := &model.Identity{TwitterToken: "tw-1", DiscordToken: "dc-1"}
	tw := &fakeTwitter{token: "tw-1"}
	dc := &fakeDiscord{}

	ok, err := newTestSocials(identity, tr, sess, tw, dc, nil, nil).ConnectSocials(context.Background())

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cid", tw.params.ClientID)
	assert.Equal(t, "tw-state", tw.params.State)
	assert.Equal(t, twitterRedirectURI, tw.params.RedirectURI)
	assert.Equal(t, "dc-state", dc.params.State)
	assert.Equal(t, discordRedirectURI, dc.params.RedirectURI)
	assert.Equal(t, "identify", dc.params.Scope)

	connect := tr.last("/api/twitter/auth/connect")
	require.NotNil(t, connect)
	assert.Equal(t, struct {
		Code  string `url:"code"`
		State string `url:"state"`
	}{"code-tw-1", "tw-state"}, connect.Params)
}

func TestConnectSocials_SkipsLinkedAndMissingTokens(t *testing.T) {
	tr := newScripted()
	sess := &fakeSession{users: []*User{{ID: "user-1", TwitterConnected: true}}}

	ok, err := newTestSocials(&model.Identity{}, tr, sess, &fakeTwitter{token: "tw-1"}, nil, nil, nil).ConnectSocials(context.Background())

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, tr.calls)
}

func TestConnectSocials_UnconfirmedLinkFails(t *testing.T) {
	tr := newScripted().
		on("/api/twitter/auth", redirectTo("https://x.com/i/oauth2/authorize?client_id=cid&state=st")).
		on("/api/twitter/auth/connect", reply(http.StatusOK, "{}"))
	sess := &fakeSession{users: []*User{{ID: "user-1"}}}
	tw := &fakeTwitter{token: "tw-1"}

	ok, err := newTestSocials(&model.Identity{TwitterToken: "tw-1"}, tr, sess, tw, nil, nil, nil).ConnectSocials(context.Background())

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, tw.authCalls)
}

func TestReplace_TakesSparesUntilOneLinks(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "twitter_tokens.txt")
	pool := rotation.New([]string{"spare-bad", "spare-good", "spare-unused"}, tokenFile, "")

	tr := newScripted().
		on("/api/twitter/auth", redirectTo("https://x.com/i/oauth2/authorize?client_id=cid&state=st")).
		on("/api/twitter/auth/connect", reply(http.StatusOK, "{}"))
	sess := &fakeSession{users: []*User{{ID: "user-1"}, {ID: "user-1", TwitterConnected: true}}}
	identity := &model.Identity{TwitterToken: "dead"}
	built := map[string]*fakeTwitter{}
	newTwitter := func(token string) (TwitterAccount, error) {
		tw := &fakeTwitter{token: token}
		if token == "spare-bad" {
			tw.authErr = social.ErrInvalidToken
		}
		built[token] = tw
		return tw, nil
	}
	dead := &fakeTwitter{token: "dead", authErr: social.ErrInvalidToken}
	s := newTestSocials(identity, tr, sess, dead, nil, pool, newTwitter)

	ok, err := s.ConnectSocials(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "spare-good", identity.TwitterToken)
	assert.Equal(t, "spare-good", s.Twitter().Token())
	assert.Equal(t, 1, pool.Len())
	assert.Equal(t, 1, built["spare-bad"].authCalls)
	assert.Equal(t, 1, dead.authCalls)
}

func TestReplace_SkipsSpareRejectedByValidation(t *testing.T) {
	pool := rotation.New([]string{"spare-revoked", "spare-good"}, filepath.Join(t.TempDir(), "twitter_tokens.txt"), "")

	tr := newScripted().
		on("/api/twitter/auth", redirectTo("https://x.com/i/oauth2/authorize?client_id=cid&state=st")).
		on("/api/twitter/auth/connect", reply(http.StatusOK, "{}"))
	sess := &fakeSession{users: []*User{{ID: "user-1"}, {ID: "user-1", TwitterConnected: true}}}
	identity := &model.Identity{TwitterToken: "dead"}
	built := map[string]*fakeTwitter{}
	newTwitter := func(token string) (TwitterAccount, error) {
		tw := &fakeTwitter{token: token}
		if token == "spare-revoked" {
			tw.validateErr = social.ErrInvalidToken
		}
		built[token] = tw
		return tw, nil
	}
	s := newTestSocials(identity, tr, sess, nil, nil, pool, newTwitter)

	f, err := s.Replace(context.Background())
	require.NoError(t, err)
	assert.Same(t, built["spare-good"], f)
	assert.Equal(t, "spare-good", identity.TwitterToken)
	assert.Equal(t, 1, built["spare-revoked"].validations)
	assert.Zero(t, built["spare-revoked"].authCalls)
	assert.Equal(t, 1, built["spare-good"].authCalls)
}

func TestReplace_PoolExhausted(t *testing.T) {
	pool := rotation.New(nil, "", "")
	s := newTestSocials(&model.Identity{TwitterToken: "dead"}, newScripted(), &fakeSession{}, nil, nil, pool,
		func(string) (TwitterAccount, error) { return nil, nil })

	_, err := s.Replace(context.Background())
	assert.ErrorIs(t, err, rotation.ErrPoolExhausted)
}

func TestReplace_Disabled(t *testing.T) {
	s := NewSocials(&model.Identity{}, newScripted(), &fakeSession{}, nil, nil, nil, nil, SocialsConfig{})
	_, err := s.Replace(context.Background())
	assert.ErrorIs(t, err, ErrReplaceDisabled)
}
