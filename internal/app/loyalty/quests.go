package loyalty

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	adhttp "github.com/ohmynofan/camp-loyalty-bot/internal/adapters/http"
	"github.com/ohmynofan/camp-loyalty-bot/internal/adapters/social"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/internal/retry"
)

// QuestState is where one quest is in its completion lifecycle.
type QuestState int

const (
	NotStarted QuestState = iota
	ActionPerformed
	Submitted
	Queued
	Processing
	Completed
	Failed
	NeedsRetry
	Skipped
)

func (s QuestState) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case ActionPerformed:
		return "ActionPerformed"
	case Submitted:
		return "Submitted"
	case Queued:
		return "Queued"
	case Processing:
		return "Processing"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case NeedsRetry:
		return "NeedsRetry"
	case Skipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

type Quest struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Name     string        `json:"name"`
	Metadata QuestMetadata `json:"metadata"`
}

type QuestMetadata struct {
	TwitterAccountURL string `json:"twitterAccountUrl"`
}

// FollowTarget is the account name at the end of the quest's profile URL.
func (q Quest) FollowTarget() string {
	raw := strings.TrimSpace(q.Metadata.TwitterAccountURL)
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		raw = u.Path
	}
	raw = strings.Trim(raw, "/")
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	return strings.TrimPrefix(raw, "@")
}

type Campaign struct {
	Name   string
	Quests []Quest
}

// SessionAccessor is the part of the session the engine needs.
type SessionAccessor interface {
	Cookies() map[string]string
	Observe(res *adhttp.Response)
	Relogin(ctx context.Context) error
	UserID() string
}

type Follower interface {
	Follow(ctx context.Context, username string) (bool, error)
}

// TokenValidator is a Follower that can check its token before the first
// follow quest. It returns the account's screen name.
type TokenValidator interface {
	Validate(ctx context.Context) (string, error)
}

// TokenRotator swaps a rejected social token for a spare one and returns a
// follower bound to it.
type TokenRotator interface {
	Replace(ctx context.Context) (Follower, error)
}

// SpecialAction completes an allow-listed quest by itself. false with a nil
// error is a definitive negative.
type SpecialAction func(ctx context.Context) (bool, error)

type EngineConfig struct {
	BaseURL string
	// PollInterval is the pause before each status poll.
	PollInterval    time.Duration
	MaxPollAttempts int
	// RateLimitPause and MaxRateLimitWaits bound the waits that do not use
	// the poll budget.
	RateLimitPause    time.Duration
	MaxRateLimitWaits int
	// Retry wraps one whole quest.
	Retry         retry.Policy
	QuestPauseMin time.Duration
	QuestPauseMax time.Duration
	Sleep         retry.SleepFunc
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.BaseURL == "" {
		c.BaseURL = BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 12
	}
	if c.RateLimitPause <= 0 {
		c.RateLimitPause = c.PollInterval
	}
	if c.MaxRateLimitWaits <= 0 {
		c.MaxRateLimitWaits = 30
	}
	if c.Sleep == nil {
		c.Sleep = retry.Sleep
	}
	if c.Retry.Sleep == nil {
		c.Retry.Sleep = c.Sleep
	}
	return c
}

// QuestOutcome is the classified result of one quest.
type QuestOutcome struct {
	Campaign string
	Quest    Quest
	State    QuestState
	Polls    int
	Actions  int
	Err      error
}

// Report is what a quest task returns to the worker.
type Report struct {
	Outcomes []QuestOutcome
	Err      error
}

// OK is true when the campaigns loaded and no quest ended Failed.
func (r Report) OK() bool {
	if r.Err != nil {
		return false
	}
	for _, o := range r.Outcomes {
		if o.State == Failed {
			return false
		}
	}
	return true
}

// OutcomeLine is the flat form of a QuestOutcome written to the run log.
type OutcomeLine struct {
	Campaign string `json:"campaign"`
	Quest    string `json:"quest"`
	State    string `json:"state"`
	Polls    int    `json:"polls"`
	Actions  int    `json:"actions"`
	Error    string `json:"error,omitempty"`
}

func (r Report) Lines() []OutcomeLine {
	lines := make([]OutcomeLine, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		line := OutcomeLine{
			Campaign: o.Campaign,
			Quest:    o.Quest.Name,
			State:    o.State.String(),
			Polls:    o.Polls,
			Actions:  o.Actions,
		}
		if o.Err != nil {
			line.Error = o.Err.Error()
		}
		lines = append(lines, line)
	}
	return lines
}

func (r Report) Count(state QuestState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

var (
	errSessionExpired = errors.New("challenge page hit, session refreshed")
	errNeedsRetry     = errors.New("platform asked to redo the quest action")
	errPollExhausted  = errors.New("quest still unverified after poll budget")
	errSocialDisabled = errors.New("social quests disabled for this run")
	errRateLimited    = errors.New("rate limited past the wait ceiling")
)

// Engine runs quests for one identity, one at a time.
type Engine struct {
	http     Transport
	session  SessionAccessor
	rotator  TokenRotator
	special  map[string]SpecialAction
	identity *model.Identity
	cfg      EngineConfig

	mu             sync.Mutex
	follower       Follower
	socialDisabled bool

	log *logger.ClassLogger
}

func NewEngine(identity *model.Identity, transport Transport, session SessionAccessor, follower Follower, rotator TokenRotator, special map[string]SpecialAction, cfg EngineConfig) *Engine {
	if special == nil {
		special = map[string]SpecialAction{}
	}
	e := &Engine{
		http:     transport,
		session:  session,
		follower: follower,
		rotator:  rotator,
		special:  special,
		identity: identity,
		cfg:      cfg.withDefaults(),
	}
	e.log = logger.NewLogger(e, identity)
	return e
}

// Doable reports whether the engine knows how to complete q.
func (e *Engine) Doable(q Quest) bool {
	if _, ok := e.special[q.Name]; ok {
		return true
	}
	return q.Type == RuleFollow || q.Type == RuleLinkClick
}

// CompleteQuests runs every doable quest of the campaigns task selects.
func (e *Engine) CompleteQuests(ctx context.Context, task string) Report {
	only, ok := CampaignFilter(task)
	if !ok {
		return Report{Err: fmt.Errorf("unknown quest task %q", task)}
	}

	campaigns, err := e.Campaigns(ctx)
	if err != nil {
		return Report{Err: err}
	}

	var report Report
	found, checked := false, false
	for _, c := range campaigns {
		if only != "" && !strings.EqualFold(strings.TrimSpace(c.Name), only) {
			continue
		}
		found = true
		for _, q := range c.Quests {
			if err := ctx.Err(); err != nil {
				report.Err = err
				return report
			}
			if !e.Doable(q) {
				continue
			}
			if q.Type == RuleFollow && !checked {
				checked = true
				e.checkFollower(ctx)
			}
			outcome := e.RunQuest(ctx, q)
			outcome.Campaign = c.Name
			report.Outcomes = append(report.Outcomes, outcome)

			switch outcome.State {
			case Completed:
				e.identity.QuestsDone++
			case Failed:
				e.identity.QuestsFailed++
				e.log.Log(fmt.Sprintf("Quest %q failed: %v", q.Name, outcome.Err))
			}

			if err := e.cfg.Sleep(ctx, retry.RandomDuration(e.cfg.QuestPauseMin, e.cfg.QuestPauseMax)); err != nil {
				report.Err = err
				return report
			}
		}
	}
	if only != "" && !found {
		report.Err = fmt.Errorf("campaign %q not found", only)
	}
	return report
}

type ruleGroupQuery struct {
	Limit          int    `url:"limit"`
	WebsiteID      string `url:"websiteId"`
	OrganizationID string `url:"organizationId"`
}

type ruleGroupsResponse struct {
	Data []struct {
		Name              string `json:"name"`
		LoyaltyGroupItems []struct {
			LoyaltyRule Quest `json:"loyaltyRule"`
		} `json:"loyaltyGroupItems"`
	} `json:"data"`
}

// Campaigns loads the campaign list fresh from the site.
func (e *Engine) Campaigns(ctx context.Context) ([]Campaign, error) {
	return retry.Do(ctx, e.cfg.Retry, nil, func(ctx context.Context, attempt int) retry.Result[[]Campaign] {
		res, err := e.http.Do(ctx, e.cfg.BaseURL+"/api/loyalty/rule_groups", &adhttp.FetchOptions{
			Method:  http.MethodGet,
			Params:  ruleGroupQuery{Limit: 1000, WebsiteID: WebsiteID, OrganizationID: OrganizationID},
			Cookies: e.session.Cookies(),
		})
		if err != nil {
			return retry.Retryable[[]Campaign](err)
		}
		e.session.Observe(res)
		if strings.Contains(res.Text(), markerChallenge) {
			return e.relogin(ctx)
		}
		if !res.OK() {
			return retry.Retryable[[]Campaign](fmt.Errorf("campaign list request failed: %d", res.StatusCode))
		}

		var body ruleGroupsResponse
		if err := res.JSON(&body); err != nil {
			return retry.Retryable[[]Campaign](err)
		}
		campaigns := make([]Campaign, 0, len(body.Data))
		for _, group := range body.Data {
			c := Campaign{Name: group.Name}
			for _, item := range group.LoyaltyGroupItems {
				if item.LoyaltyRule.ID != "" {
					c.Quests = append(c.Quests, item.LoyaltyRule)
				}
			}
			campaigns = append(campaigns, c)
		}
		return retry.OK(campaigns)
	})
}

// relogin refreshes the session after a challenge page. The triggering
// step is retried by the caller.
func (e *Engine) relogin(ctx context.Context) retry.Result[[]Campaign] {
	if err := e.session.Relogin(ctx); err != nil {
		return retry.Fatal[[]Campaign](nil, fmt.Errorf("relogin failed: %w", err))
	}
	return retry.Retryable[[]Campaign](errSessionExpired)
}

// RunQuest drives one quest to a terminal state. Whole-quest failures are
// retried by the engine policy, each retry starting from NotStarted.
func (e *Engine) RunQuest(ctx context.Context, q Quest) QuestOutcome {
	outcome := QuestOutcome{Quest: q, State: NotStarted}
	e.identity.CurrentTask = q.Name

	if action, ok := e.special[q.Name]; ok {
		return e.runSpecial(ctx, q, action)
	}
	if !e.Doable(q) {
		outcome.State = Skipped
		return outcome
	}

	state, err := retry.Do(ctx, e.cfg.Retry, Failed, func(ctx context.Context, attempt int) retry.Result[QuestState] {
		return e.attempt(ctx, q, &outcome)
	})
	outcome.State = state
	outcome.Err = err
	if err != nil {
		outcome.State = Failed
	}
	return outcome
}

func (e *Engine) runSpecial(ctx context.Context, q Quest, action SpecialAction) QuestOutcome {
	outcome := QuestOutcome{Quest: q, State: NotStarted}
	ok, err := retry.Do(ctx, e.cfg.Retry, false, func(ctx context.Context, attempt int) retry.Result[bool] {
		outcome.Actions++
		ok, err := action(ctx)
		switch {
		case err != nil:
			return retry.Retryable[bool](err)
		case !ok:
			return retry.Fatal(false, fmt.Errorf("%s declined", q.Name))
		default:
			return retry.OK(true)
		}
	})
	outcome.Err = err
	if ok {
		outcome.State = Completed
	} else {
		outcome.State = Failed
	}
	return outcome
}

// attempt is one pass from NotStarted: probe, act, verify. After a "try
// again" verdict the probe is skipped and the action always runs.
func (e *Engine) attempt(ctx context.Context, q Quest, outcome *QuestOutcome) retry.Result[QuestState] {
	redo := outcome.State == NeedsRetry
	outcome.State = NotStarted

	if !redo {
		probe := e.settle(ctx, q, outcome)
		if probe.Kind != retry.KindRetryable || !needsAction(probe.Err) {
			return probe
		}
	}

	if res := e.act(ctx, q); res.Kind != retry.KindOK {
		return res
	}
	outcome.Actions++
	outcome.State = ActionPerformed

	res := e.settle(ctx, q, outcome)
	if errors.Is(res.Err, errNotQueued) {
		return retry.Fatal(Failed, res.Err)
	}
	return res
}

var errNotQueued = errors.New("quest verification refused")

func needsAction(err error) bool {
	return errors.Is(err, errNeedsRetry) || errors.Is(err, errNotQueued) || errors.Is(err, errPollExhausted)
}

// settle submits the quest for verification and follows it to a result.
// OK means Completed. errNeedsRetry and errNotQueued ask for the action.
func (e *Engine) settle(ctx context.Context, q Quest, outcome *QuestOutcome) retry.Result[QuestState] {
	outcome.State = Submitted
	verdict, err := e.verify(ctx, q)
	if err != nil {
		return e.classify(ctx, err)
	}
	switch verdict {
	case verdictDone:
		outcome.State = Completed
		return retry.OK(Completed)
	case verdictRefused:
		return retry.Retryable[QuestState](errNotQueued)
	}

	outcome.State = Queued
	state, err := e.poll(ctx, outcome)
	if err != nil {
		return e.classify(ctx, err)
	}
	outcome.State = state
	switch state {
	case Completed:
		return retry.OK(Completed)
	case NeedsRetry:
		return retry.Retryable[QuestState](errNeedsRetry)
	default:
		return retry.Retryable[QuestState](errPollExhausted)
	}
}

func (e *Engine) classify(ctx context.Context, err error) retry.Result[QuestState] {
	if errors.Is(err, errSessionExpired) {
		if rerr := e.session.Relogin(ctx); rerr != nil {
			return retry.Fatal(Failed, fmt.Errorf("relogin failed: %w", rerr))
		}
		return retry.Retryable[QuestState](errSessionExpired)
	}
	if ctx.Err() != nil {
		return retry.Fatal(Failed, ctx.Err())
	}
	return retry.Retryable[QuestState](err)
}

// act performs the prerequisite action for q.
func (e *Engine) act(ctx context.Context, q Quest) retry.Result[QuestState] {
	if q.Type != RuleFollow {
		return retry.OK(ActionPerformed)
	}

	target := q.FollowTarget()
	if target == "" {
		return retry.Fatal(Failed, fmt.Errorf("quest %q has no account to follow", q.Name))
	}

	e.mu.Lock()
	follower, disabled := e.follower, e.socialDisabled
	e.mu.Unlock()
	if disabled || follower == nil {
		return retry.Fatal(Failed, errSocialDisabled)
	}

	ok, err := follower.Follow(ctx, target)
	switch {
	case errors.Is(err, social.ErrInvalidToken):
		return e.rotate(ctx, err)
	case err != nil:
		return retry.Retryable[QuestState](err)
	case !ok:
		return retry.Retryable[QuestState](fmt.Errorf("follow @%s not confirmed", target))
	}
	return retry.OK(ActionPerformed)
}

// rotate swaps the rejected social token. An empty pool disables social
// quests for the rest of the run.
func (e *Engine) rotate(ctx context.Context, cause error) retry.Result[QuestState] {
	if e.rotator == nil {
		e.disableSocial()
		return retry.Fatal(Failed, cause)
	}
	e.log.Log("Twitter token rejected, taking a spare one")
	follower, err := e.rotator.Replace(ctx)
	if err != nil {
		e.disableSocial()
		return retry.Fatal(Failed, fmt.Errorf("%w: %w", cause, err))
	}
	e.mu.Lock()
	e.follower = follower
	e.mu.Unlock()
	return retry.Retryable[QuestState](cause)
}

// checkFollower validates the follow token. A rejected token is replaced
// from the spare pool, or social quests are disabled when none is left.
func (e *Engine) checkFollower(ctx context.Context) {
	e.mu.Lock()
	follower, disabled := e.follower, e.socialDisabled
	e.mu.Unlock()
	v, ok := follower.(TokenValidator)
	if disabled || !ok {
		return
	}
	_, err := v.Validate(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, social.ErrInvalidToken) {
		e.log.Log(fmt.Sprintf("Twitter check failed: %v", err))
		return
	}
	_ = e.rotate(ctx, err)
}

func (e *Engine) disableSocial() {
	e.mu.Lock()
	e.socialDisabled = true
	e.mu.Unlock()
}

type verdict int

const (
	verdictDone verdict = iota
	verdictQueued
	verdictRefused
)

func (e *Engine) verify(ctx context.Context, q Quest) (verdict, error) {
	endpoint := fmt.Sprintf("%s/api/loyalty/rules/%s/complete", e.cfg.BaseURL, url.PathEscape(q.ID))
	for waits := 0; ; waits++ {
		res, err := e.http.Do(ctx, endpoint, &adhttp.FetchOptions{
			Method:  http.MethodPost,
			Body:    map[string]interface{}{},
			Cookies: e.session.Cookies(),
		})
		if err != nil {
			return 0, err
		}
		e.session.Observe(res)
		body := res.Text()

		switch {
		case strings.Contains(body, markerChallenge):
			return 0, errSessionExpired
		case strings.Contains(body, markerRewarded), strings.Contains(body, markerClicked):
			return verdictDone, nil
		case strings.Contains(body, markerRateLimited):
			if waits >= e.cfg.MaxRateLimitWaits {
				return 0, errRateLimited
			}
			if err := e.cfg.Sleep(ctx, e.cfg.RateLimitPause); err != nil {
				return 0, err
			}
			continue
		case !res.OK():
			return 0, fmt.Errorf("quest verification failed: %d | %s", res.StatusCode, truncate(body))
		}

		var reply struct {
			Message string `json:"message"`
		}
		if err := res.JSON(&reply); err != nil {
			return 0, err
		}
		if reply.Message == msgQueued || reply.Message == msgLinkPending {
			return verdictQueued, nil
		}
		e.log.JustLog(fmt.Sprintf("Quest %q verification refused: %s", q.Name, reply.Message))
		return verdictRefused, nil
	}
}

type statusQuery struct {
	WebsiteID      string `url:"websiteId"`
	OrganizationID string `url:"organizationId"`
	UserID         string `url:"userId"`
}

type statusResponse struct {
	Data []struct {
		Status string `json:"status"`
	} `json:"data"`
}

// poll waits for the queued verification to resolve. The first status row
// decides the state. Rate limit replies neither use the attempt budget nor
// count as polls, and the request after a rate limit pause goes out
// without another poll interval.
func (e *Engine) poll(ctx context.Context, outcome *QuestOutcome) (QuestState, error) {
	attempts, waits := 0, 0
	paused := false
	for attempts < e.cfg.MaxPollAttempts {
		if !paused {
			if err := e.cfg.Sleep(ctx, e.cfg.PollInterval); err != nil {
				return Failed, err
			}
		}
		paused = false

		res, err := e.http.Do(ctx, e.cfg.BaseURL+"/api/loyalty/rules/status", &adhttp.FetchOptions{
			Method: http.MethodGet,
			Params: statusQuery{
				WebsiteID:      WebsiteID,
				OrganizationID: OrganizationID,
				UserID:         e.session.UserID(),
			},
			Cookies: e.session.Cookies(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return Failed, ctx.Err()
			}
			outcome.Polls++
			attempts++
			continue
		}
		e.session.Observe(res)
		body := res.Text()

		if !res.OK() && strings.Contains(body, markerRateLimited) {
			waits++
			if waits > e.cfg.MaxRateLimitWaits {
				return Failed, errRateLimited
			}
			if err := e.cfg.Sleep(ctx, e.cfg.RateLimitPause); err != nil {
				return Failed, err
			}
			paused = true
			continue
		}
		outcome.Polls++

		if strings.Contains(body, markerChallenge) {
			return Failed, errSessionExpired
		}
		if strings.Contains(body, markerTryAgain) {
			return NeedsRetry, nil
		}
		if !res.OK() {
			attempts++
			continue
		}

		var status statusResponse
		if err := res.JSON(&status); err == nil && len(status.Data) > 0 {
			switch status.Data[0].Status {
			case statusCompleted:
				return Completed, nil
			case statusProcessing:
				outcome.State = Processing
			}
		}
		attempts++
	}
	return Failed, errPollExhausted
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
