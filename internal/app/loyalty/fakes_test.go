package loyalty

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
)

const testBase = "https://loyalty.test"

func noSleep(context.Context, time.Duration) error { return nil }

type recordedCall struct {
	Path string
	Opts *adhttp.FetchOptions
}

// scriptedTransport replies per path from a queue. The last reply of a
// queue repeats.
type scriptedTransport struct {
	mu     sync.Mutex
	routes map[string][]*adhttp.Response
	calls  []recordedCall
}

func newScripted() *scriptedTransport {
	return &scriptedTransport{routes: map[string][]*adhttp.Response{}}
}

func (s *scriptedTransport) on(path string, replies ...*adhttp.Response) *scriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = append(s.routes[path], replies...)
	return s
}

func (s *scriptedTransport) Do(_ context.Context, endpoint string, opts *adhttp.FetchOptions) (*adhttp.Response, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, recordedCall{Path: u.Path, Opts: opts})

	queue := s.routes[u.Path]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unexpected request to %s", u.Path)
	}
	res := queue[0]
	if len(queue) > 1 {
		s.routes[u.Path] = queue[1:]
	}
	return res, nil
}

func (s *scriptedTransport) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

func (s *scriptedTransport) last(path string) *adhttp.FetchOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].Path == path {
			return s.calls[i].Opts
		}
	}
	return nil
}

func reply(status int, body string, cookies ...*http.Cookie) *adhttp.Response {
	return &adhttp.Response{StatusCode: status, Body: []byte(body), Cookies: cookies, Header: http.Header{}}
}

// fakeSession stands in for SessionManager.
type fakeSession struct {
	mu       sync.Mutex
	relogins int
	users    []*User
	userErr  error
}

func (f *fakeSession) Cookies() map[string]string {
	return map[string]string{cookieSession: "sess", cookieClearance: "clr"}
}

func (f *fakeSession) Observe(*adhttp.Response) {}

func (f *fakeSession) Relogin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relogins++
	return nil
}

func (f *fakeSession) UserID() string { return "user-1" }

func (f *fakeSession) User(context.Context) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	u := f.users[0]
	if len(f.users) > 1 {
		f.users = f.users[1:]
	}
	return u, nil
}

type fakeFollower struct {
	mu      sync.Mutex
	err     error
	follows []string
}

func (f *fakeFollower) Follow(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.follows = append(f.follows, username)
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

func (f *fakeFollower) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.follows)
}

type fakeRotator struct {
	next  Follower
	err   error
	calls int
}

func (f *fakeRotator) Replace(context.Context) (Follower, error) {
	f.calls++
	return f.next, f.err
}
