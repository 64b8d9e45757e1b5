package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	capsolverBaseURL         = "https://api.capsolver.com"
	capsolverCreateTask      = "/createTask"
	capsolverGetResult       = "/getTaskResult"
	capsolverTurnstileType   = "AntiTurnstileTaskProxyLess"
	capsolverRecaptchaV2Type = "ReCaptchaV2TaskProxyLess"
	capsolverHCaptchaType    = "HCaptchaTaskProxyLess"

	capErrZeroBalance = "ERROR_ZERO_BALANCE"
)

type CapSolver struct {
	apiKey string
	opts   options
}

func NewCapSolver(apiKey string, opts ...Option) *CapSolver {
	return &CapSolver{
		apiKey: strings.TrimSpace(apiKey),
		opts:   buildOptions(capsolverBaseURL, opts),
	}
}

func (c *CapSolver) Name() string { return "CapSolver" }

type capCreateTaskReq struct {
	ClientKey string      `json:"clientKey"`
	Task      interface{} `json:"task"`
}

type capTask struct {
	Type        string `json:"type"`
	WebsiteURL  string `json:"websiteURL"`
	WebsiteKey  string `json:"websiteKey"`
	IsInvisible bool   `json:"isInvisible,omitempty"`
}

type capCreateTaskResp struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           string `json:"taskId"`
}

type capResultReq struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type capResultResp struct {
	ErrorID   int    `json:"errorId"`
	ErrorCode string `json:"errorCode"`
	Status    string `json:"status"`
	Solution  struct {
		Token              string `json:"token"`
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

func (c *CapSolver) CreateTask(ctx context.Context, ch Challenge) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: capsolver api key not provided", ErrCreateTask)
	}
	if err := requireFields("capsolver", ch); err != nil {
		return "", err
	}

	task := capTask{WebsiteURL: ch.PageURL, WebsiteKey: ch.SiteKey}
	switch ch.Kind {
	case KindTurnstile:
		task.Type = capsolverTurnstileType
	case KindRecaptchaV2:
		task.Type = capsolverRecaptchaV2Type
		task.IsInvisible = ch.Invisible
	case KindHCaptcha:
		task.Type = capsolverHCaptchaType
	default:
		return "", fmt.Errorf("%w: capsolver %s", ErrUnsupported, ch.Kind)
	}

	var createResp capCreateTaskResp
	if err := c.opts.postJSON(ctx, "capsolver", capsolverCreateTask, nil, capCreateTaskReq{ClientKey: c.apiKey, Task: task}, &createResp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateTask, err)
	}
	if createResp.ErrorCode != "" || createResp.ErrorID != 0 {
		if strings.EqualFold(createResp.ErrorCode, capErrZeroBalance) {
			return "", ErrZeroBalance
		}
		return "", fmt.Errorf("%w: capsolver createTask error: %s %s", ErrCreateTask, createResp.ErrorCode, createResp.ErrorDescription)
	}
	if strings.TrimSpace(createResp.TaskID) == "" {
		return "", fmt.Errorf("%w: capsolver returned empty task id", ErrCreateTask)
	}
	return createResp.TaskID, nil
}

func (c *CapSolver) PollResult(ctx context.Context, taskID string) (string, error) {
	return c.opts.poll(ctx, "capsolver", func(ctx context.Context) (string, pollState, error) {
		var result capResultResp
		if err := c.opts.postJSON(ctx, "capsolver", capsolverGetResult, nil, capResultReq{ClientKey: c.apiKey, TaskID: taskID}, &result); err != nil {
			return "", pollPending, err
		}
		if result.ErrorCode != "" || result.ErrorID != 0 {
			if strings.EqualFold(result.ErrorCode, capErrZeroBalance) {
				return "", pollPending, ErrZeroBalance
			}
			return "", pollPending, fmt.Errorf("%w: capsolver getTaskResult error: %s", ErrSolve, result.ErrorCode)
		}
		switch strings.ToLower(strings.TrimSpace(result.Status)) {
		case "processing", "queued", "idle":
			return "", pollPending, nil
		case "ready", "completed":
			token := strings.TrimSpace(result.Solution.Token)
			if token == "" {
				token = strings.TrimSpace(result.Solution.GRecaptchaResponse)
			}
			if token == "" {
				return "", pollPending, errors.New("capsolver returned empty token")
			}
			return token, pollReady, nil
		default:
			return "", pollPending, fmt.Errorf("%w: unexpected capsolver status: %s", ErrSolve, result.Status)
		}
	})
}
