package social

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *adhttp.APIClient {
	t.Helper()
	c, err := adhttp.NewAPIClient("", "", nil)
	require.NoError(t, err)
	return c
}

func TestParseOAuthRedirect(t *testing.T) {
	p, err := ParseOAuthRedirect("https://x.com/i/oauth2/authorize?client_id=cid&code_challenge=cc&code_challenge_method=S256&state=st&redirect_uri=https%3A%2F%2Fcb")
	require.NoError(t, err)
	assert.Equal(t, OAuthParams{
		ClientID:            "cid",
		CodeChallenge:       "cc",
		CodeChallengeMethod: "S256",
		State:               "st",
		RedirectURI:         "https://cb",
	}, p)

	_, err = ParseOAuthRedirect("https://x.com/i/oauth2/authorize?client_id=cid")
	assert.Error(t, err)
}

func TestTwitter_FollowAndInvalidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, _ := r.Cookie("auth_token")
		if cookie == nil || cookie.Value != "good" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"errors":[{"code":32,"message":"Could not authenticate you."}]}`)
			return
		}
		ct0, _ := r.Cookie("ct0")
		if assert.NotNil(t, ct0) {
			assert.Equal(t, ct0.Value, r.Header.Get("x-csrf-token"))
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "campnetworkxyz", r.PostForm.Get("screen_name"))
		_, _ = io.WriteString(w, `{"id":1}`)
	}))
	defer srv.Close()

	good, err := NewTwitter(newClient(t), "good", nil)
	require.NoError(t, err)
	ok, err := good.WithBaseURL(srv.URL).Follow(context.Background(), "@campnetworkxyz")
	require.NoError(t, err)
	assert.True(t, ok)

	bad, err := NewTwitter(newClient(t), "bad", nil)
	require.NoError(t, err)
	_, err = bad.WithBaseURL(srv.URL).Follow(context.Background(), "campnetworkxyz")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTwitter_AuthorizeOAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/i/api/2/oauth2/authorize", r.URL.Path)
		if r.Method == http.MethodGet {
			assert.Equal(t, "st", r.URL.Query().Get("state"))
			assert.Equal(t, "users.read tweet.read", r.URL.Query().Get("scope"))
			_, _ = io.WriteString(w, `{"auth_code":"ac-1"}`)
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "ac-1", r.PostForm.Get("code"))
		assert.Equal(t, "true", r.PostForm.Get("approval"))
		_, _ = io.WriteString(w, `{"redirect_uri":"https://snag-render.com/api/twitter/auth/callback?state=st&code=final-code"}`)
	}))
	defer srv.Close()

	tw, err := NewTwitter(newClient(t), "good", nil)
	require.NoError(t, err)
	code, err := tw.WithBaseURL(srv.URL).AuthorizeOAuth(context.Background(), OAuthParams{ClientID: "cid", State: "st"})
	require.NoError(t, err)
	assert.Equal(t, "final-code", code)
}

func TestTwitter_ValidateEmptyToken(t *testing.T) {
	tw, err := NewTwitter(newClient(t), " ", nil)
	require.NoError(t, err)
	_, err = tw.Validate(context.Background())
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDiscord_AuthorizeOAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if r.Header.Get("Authorization") != "dtoken" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"401: Unauthorized","code":0}`)
			return
		}
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["authorize"])
		assert.Equal(t, "0", body["permissions"])
		_, _ = io.WriteString(w, `{"location":"https://snag-render.com/api/discord/auth/callback?code=dc-9&state=st"}`)
	}))
	defer srv.Close()

	params := OAuthParams{ClientID: "1082817417195040808", State: "st", RedirectURI: "https://snag-render.com/api/discord/auth/callback"}

	code, err := NewDiscord(newClient(t), "dtoken", nil).WithBaseURL(srv.URL).AuthorizeOAuth(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "dc-9", code)

	_, err = NewDiscord(newClient(t), "wrong", nil).WithBaseURL(srv.URL).AuthorizeOAuth(context.Background(), params)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
