package captcha

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	twoCaptchaBaseURL = "https://api.2captcha.com"
	createTaskPath    = "/createTask"
	getResultPath     = "/getTaskResult"
	turnstileType     = "TurnstileTaskProxyless"
	recaptchaType     = "RecaptchaV2TaskProxyless"
	hcaptchaType      = "HCaptchaTaskProxyless"

	twoErrZeroBalance = "ERROR_ZERO_BALANCE"
)

type TwoCaptcha struct {
	apiKey string
	opts   options
}

func NewTwoCaptcha(apiKey string, opts ...Option) *TwoCaptcha {
	return &TwoCaptcha{
		apiKey: strings.TrimSpace(apiKey),
		opts:   buildOptions(twoCaptchaBaseURL, opts),
	}
}

func (tc *TwoCaptcha) Name() string { return "2Captcha" }

type createTaskRequest struct {
	ClientKey string      `json:"clientKey"`
	Task      interface{} `json:"task"`
}

type twoTask struct {
	Type        string `json:"type"`
	WebsiteURL  string `json:"websiteURL"`
	WebsiteKey  string `json:"websiteKey"`
	IsInvisible bool   `json:"isInvisible,omitempty"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	TaskID           int64  `json:"taskId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

type resultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type getResultResponse struct {
	ErrorID  int    `json:"errorId"`
	Status   string `json:"status"`
	Solution struct {
		Token              string `json:"token"`
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

func (tc *TwoCaptcha) CreateTask(ctx context.Context, ch Challenge) (string, error) {
	if tc.apiKey == "" {
		return "", fmt.Errorf("%w: 2captcha api key not provided", ErrCreateTask)
	}
	if err := requireFields("2captcha", ch); err != nil {
		return "", err
	}

	task := twoTask{WebsiteURL: ch.PageURL, WebsiteKey: ch.SiteKey}
	switch ch.Kind {
	case KindTurnstile:
		task.Type = turnstileType
	case KindRecaptchaV2:
		task.Type = recaptchaType
		task.IsInvisible = ch.Invisible
	case KindHCaptcha:
		task.Type = hcaptchaType
	default:
		return "", fmt.Errorf("%w: 2captcha %s", ErrUnsupported, ch.Kind)
	}

	var createResp createTaskResponse
	if err := tc.opts.postJSON(ctx, "2captcha", createTaskPath, nil, createTaskRequest{ClientKey: tc.apiKey, Task: task}, &createResp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateTask, err)
	}
	if createResp.ErrorID != 0 {
		if strings.EqualFold(createResp.ErrorCode, twoErrZeroBalance) {
			return "", ErrZeroBalance
		}
		return "", fmt.Errorf("%w: 2captcha createTask error: %s - %s", ErrCreateTask, createResp.ErrorCode, createResp.ErrorDescription)
	}
	if createResp.TaskID == 0 {
		return "", fmt.Errorf("%w: 2captcha returned empty task id", ErrCreateTask)
	}
	return strconv.FormatInt(createResp.TaskID, 10), nil
}

func (tc *TwoCaptcha) PollResult(ctx context.Context, taskID string) (string, error) {
	id, err := strconv.ParseInt(taskID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid 2captcha task id %q", ErrSolve, taskID)
	}

	return tc.opts.poll(ctx, "2captcha", func(ctx context.Context) (string, pollState, error) {
		var result getResultResponse
		if err := tc.opts.postJSON(ctx, "2captcha", getResultPath, nil, resultRequest{ClientKey: tc.apiKey, TaskID: id}, &result); err != nil {
			return "", pollPending, err
		}
		if result.ErrorID != 0 {
			if strings.EqualFold(result.ErrorCode, twoErrZeroBalance) {
				return "", pollPending, ErrZeroBalance
			}
			return "", pollPending, fmt.Errorf("%w: 2captcha getTaskResult error: %s - %s", ErrSolve, result.ErrorCode, result.ErrorDescription)
		}
		switch strings.ToLower(result.Status) {
		case "processing":
			return "", pollPending, nil
		case "ready":
			token := result.Solution.Token
			if token == "" {
				token = result.Solution.GRecaptchaResponse
			}
			if token == "" {
				return "", pollPending, errors.New("2captcha returned empty token")
			}
			return token, pollReady, nil
		default:
			return "", pollPending, fmt.Errorf("%w: unexpected 2captcha status: %s", ErrSolve, result.Status)
		}
	})
}
