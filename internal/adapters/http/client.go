package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/pkg/utils"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

type FetchOptions struct {
	Method            string
	Token             string
	Body              interface{}
	RawBody           []byte
	Form              url.Values
	Params            interface{}
	Cookies           map[string]string
	AdditionalHeaders map[string]string
}

// Response keeps the whole reply, whatever the status code, so callers can
// look for markers in error pages too.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Cookies    []*http.Cookie
	URL        string
}

func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) JSON(out interface{}) error {
	if r == nil {
		return fmt.Errorf("nil response")
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Cookie returns the last value set for name in this response.
func (r *Response) Cookie(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	value, found := "", false
	for _, c := range r.Cookies {
		if c.Name == name && c.Value != "" {
			value, found = c.Value, true
		}
	}
	return value, found
}

type APIClient struct {
	Proxy      string
	UserAgent  string
	Origin     string
	HTTPClient *http.Client
	Log        *logger.ClassLogger
}

func NewAPIClient(proxy, origin string, identity *model.Identity) (*APIClient, error) {
	transport := &http.Transport{}

	if proxy != "" {
		proxyURL, err := url.Parse(normalizeProxy(proxy))
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	apiClient := &APIClient{
		Proxy:     proxy,
		UserAgent: defaultUserAgent,
		Origin:    strings.TrimRight(origin, "/"),
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   120 * time.Second,
		},
	}
	apiClient.Log = logger.NewLogger(apiClient, identity)

	return apiClient, nil
}

// normalizeProxy accepts user:pass@host:port and host:port as well as full URLs.
func normalizeProxy(proxy string) string {
	proxy = strings.TrimSpace(proxy)
	if strings.Contains(proxy, "://") {
		return proxy
	}
	return "http://" + proxy
}

func (c *APIClient) generateHeaders(token string) map[string]string {
	headers := map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"Content-Type":    "application/json",
		"User-Agent":      c.UserAgent,
	}
	if c.Origin != "" {
		headers["Origin"] = c.Origin
		headers["Referer"] = c.Origin + "/"
	}
	if token != "" {
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		headers["Authorization"] = token
	}
	return headers
}

// Do issues the request and returns the response regardless of its status.
// Only transport-level failures are errors.
func (c *APIClient) Do(ctx context.Context, endpoint string, opts *FetchOptions) (*Response, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	set := 0
	for _, present := range []bool{opts.RawBody != nil, opts.Body != nil, opts.Form != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("only one of Body, RawBody and Form may be set")
	}

	if opts.Params != nil {
		encoded, err := utils.EncodeURLParams(opts.Params)
		if err != nil {
			return nil, err
		}
		if encoded != "" {
			sep := "?"
			if strings.Contains(endpoint, "?") {
				sep = "&"
			}
			endpoint += sep + encoded
		}
	}

	var bodyBytes []byte
	contentType := "application/json"
	switch {
	case opts.RawBody != nil:
		bodyBytes = opts.RawBody
	case opts.Form != nil:
		bodyBytes = []byte(opts.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case opts.Body != nil && method != http.MethodGet:
		jsonBody, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyBytes = jsonBody
	}
	hasBody := bodyBytes != nil

	var reqBody io.Reader
	if hasBody {
		reqBody = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.generateHeaders(opts.Token) {
		req.Header.Set(key, value)
	}
	if hasBody {
		req.Header.Set("Content-Type", contentType)
	} else {
		req.Header.Del("Content-Type")
	}
	for key, value := range opts.AdditionalHeaders {
		req.Header.Set(key, value)
	}
	if cookie := cookieHeader(opts.Cookies); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	if hasBody {
		c.Log.JustLog(fmt.Sprintf("%s %s\nBody:\n%s", method, endpoint, utils.BeautifyJSON(bodyBytes)))
	} else {
		c.Log.JustLog(fmt.Sprintf("%s %s", method, endpoint))
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer res.Body.Close()

	resBodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.Log.JustLog(fmt.Sprintf("Response %d Body:\n%s", res.StatusCode, utils.BeautifyJSON(resBodyBytes)))

	finalURL := endpoint
	if res.Request != nil && res.Request.URL != nil {
		finalURL = res.Request.URL.String()
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       resBodyBytes,
		Cookies:    res.Cookies(),
		URL:        finalURL,
	}, nil
}

func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name, value := range cookies {
		if value != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}
