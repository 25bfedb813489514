// Package notify implements the MAN Mode notification dispatcher: fire-and-
// forget delivery of newly opened ManTask alerts across webhook, Slack,
// email, and console channels, configured via environment variables.
// Delivery failures never block approval-task creation; they are logged and
// surfaced only via the returned per-channel Result slice.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/telemetry"
)

// Channel names a supported delivery mechanism.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelSlack   Channel = "slack"
	ChannelEmail   Channel = "email"
	ChannelConsole Channel = "console"
)

// Result records the outcome of one channel's delivery attempt.
type Result struct {
	Channel      Channel
	Success      bool
	Error        string
	ResponseCode int
}

// Config is the dispatcher's environment-sourced configuration.
type Config struct {
	WebhookURL       string
	SlackWebhookURL  string
	EmailEndpoint    string
	DashboardBaseURL string
	EnabledChannels  []Channel
	RateLimitPerSec  float64
}

// ConfigFromEnv reads MAN_NOTIFICATION_* environment variables, defaulting
// to a console-only dispatcher so local development never requires any
// external endpoint to be configured.
func ConfigFromEnv() Config {
	cfg := Config{
		WebhookURL:       os.Getenv("MAN_NOTIFICATION_WEBHOOK_URL"),
		SlackWebhookURL:  os.Getenv("MAN_SLACK_WEBHOOK_URL"),
		EmailEndpoint:    os.Getenv("MAN_EMAIL_NOTIFICATION_ENDPOINT"),
		DashboardBaseURL: "https://apex.app/man/tasks",
		RateLimitPerSec:  5,
	}
	if v := os.Getenv("MAN_DASHBOARD_URL"); v != "" {
		cfg.DashboardBaseURL = v
	}
	channelsStr := os.Getenv("MAN_NOTIFICATION_CHANNELS")
	if channelsStr == "" {
		channelsStr = "console"
	}
	for _, c := range strings.Split(channelsStr, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		switch Channel(c) {
		case ChannelWebhook, ChannelSlack, ChannelEmail, ChannelConsole:
			cfg.EnabledChannels = append(cfg.EnabledChannels, Channel(c))
		}
	}
	if len(cfg.EnabledChannels) == 0 {
		cfg.EnabledChannels = []Channel{ChannelConsole}
	}
	return cfg
}

// Dispatcher sends MAN task notifications across the channels configured by
// Config, rate-limited by one limiter shared by all channels so a burst of
// concurrently opened tasks cannot overwhelm a webhook or Slack endpoint.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  telemetry.Logger
}

// New constructs a Dispatcher from cfg. logger may be nil, in which case a
// no-op logger is used.
func New(cfg Config, logger telemetry.Logger) *Dispatcher {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	limit := cfg.RateLimitPerSec
	if limit <= 0 {
		limit = 5
	}
	return &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(limit), int(limit)+1),
		logger:  logger,
	}
}

// NotifyManTaskOpened implements coordinator.Notifier: it dispatches a
// notification for task across every enabled channel, logging but never
// returning a delivery failure (the coordinator's activity does not retry
// on notification errors).
func (d *Dispatcher) NotifyManTaskOpened(ctx context.Context, task manmodel.ManTask) error {
	results := d.dispatch(ctx, task)
	for _, r := range results {
		if !r.Success {
			d.logger.Warn(ctx, "notification delivery failed",
				"channel", string(r.Channel), "task_id", task.ID, "error", r.Error)
		}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, task manmodel.ManTask) []Result {
	results := make([]Result, 0, len(d.cfg.EnabledChannels))
	type outcome struct {
		idx int
		res Result
	}
	out := make(chan outcome, len(d.cfg.EnabledChannels))
	for i, ch := range d.cfg.EnabledChannels {
		go func(i int, ch Channel) {
			out <- outcome{idx: i, res: d.send(ctx, ch, task)}
		}(i, ch)
	}
	collected := make([]Result, len(d.cfg.EnabledChannels))
	for range d.cfg.EnabledChannels {
		o := <-out
		collected[o.idx] = o.res
	}
	results = append(results, collected...)
	return results
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, task manmodel.ManTask) Result {
	if err := d.limiter.Wait(ctx); err != nil {
		return Result{Channel: ch, Error: err.Error()}
	}
	switch ch {
	case ChannelWebhook:
		return d.sendWebhook(ctx, task)
	case ChannelSlack:
		return d.sendSlack(ctx, task)
	case ChannelEmail:
		return d.sendEmail(ctx, task)
	case ChannelConsole:
		return d.sendConsole(task)
	default:
		return Result{Channel: ch, Error: fmt.Sprintf("unknown channel %q", ch)}
	}
}

func (d *Dispatcher) dashboardURL(taskID string) string {
	return fmt.Sprintf("%s/%s", d.cfg.DashboardBaseURL, taskID)
}

func (d *Dispatcher) sendWebhook(ctx context.Context, task manmodel.ManTask) Result {
	if d.cfg.WebhookURL == "" {
		return Result{Channel: ChannelWebhook, Error: "webhook URL not configured"}
	}
	payload := map[string]any{
		"task_id":       task.ID,
		"workflow_id":   task.WorkflowID,
		"step_id":       task.StepID,
		"tool_name":     task.ToolName,
		"status":        string(task.Status),
		"risk_score":    task.RiskScore,
		"risk_reasons":  task.RiskReasons,
		"dashboard_url": d.dashboardURL(task.ID),
		"created_at":    task.CreatedAt,
	}
	return d.postJSON(ctx, ChannelWebhook, d.cfg.WebhookURL, payload)
}

func (d *Dispatcher) sendSlack(ctx context.Context, task manmodel.ManTask) Result {
	if d.cfg.SlackWebhookURL == "" {
		return Result{Channel: ChannelSlack, Error: "Slack webhook URL not configured"}
	}
	msg := d.slackMessage(task)
	if err := slack.PostWebhookContext(ctx, d.cfg.SlackWebhookURL, msg); err != nil {
		return Result{Channel: ChannelSlack, Error: err.Error()}
	}
	return Result{Channel: ChannelSlack, Success: true}
}

func (d *Dispatcher) slackMessage(task manmodel.ManTask) *slack.WebhookMessage {
	fields := []slack.AttachmentField{
		{Title: "Tool", Value: task.ToolName, Short: true},
		{Title: "Risk Score", Value: fmt.Sprintf("%.2f", task.RiskScore), Short: true},
		{Title: "Workflow", Value: task.WorkflowID, Short: true},
		{Title: "Step", Value: task.StepID, Short: true},
	}
	headerText := slack.NewTextBlockObject(slack.PlainTextType, "MAN Mode: Approval Required", true, false)
	blocks := []slack.Block{
		slack.NewHeaderBlock(headerText),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(riskReasonLines(task.RiskReasons), "\n"), false, false),
			nil, nil,
		),
	}
	if url := d.dashboardURL(task.ID); url != "" {
		button := slack.NewButtonBlockElement("review", task.ID,
			slack.NewTextBlockObject(slack.PlainTextType, "Review in Dashboard", true, false))
		button.URL = url
		blocks = append(blocks, slack.NewActionBlock("man_task_actions", button))
	}
	return &slack.WebhookMessage{
		Blocks:      &slack.Blocks{BlockSet: blocks},
		Attachments: []slack.Attachment{{Fields: fields, Color: slackColor(task)}},
	}
}

func slackColor(task manmodel.ManTask) string {
	if task.RiskScore >= 0.8 {
		return "danger"
	}
	return "warning"
}

func riskReasonLines(reasons []string) []string {
	if len(reasons) == 0 {
		return []string{"*Reason:*\nNo reason provided"}
	}
	lines := make([]string, 0, len(reasons)+1)
	lines = append(lines, "*Reason:*")
	for _, r := range reasons {
		lines = append(lines, "• "+r)
	}
	return lines
}

func (d *Dispatcher) sendEmail(ctx context.Context, task manmodel.ManTask) Result {
	if d.cfg.EmailEndpoint == "" {
		return Result{Channel: ChannelEmail, Error: "email endpoint not configured"}
	}
	priority := "normal"
	if task.RiskScore >= 0.8 {
		priority = "high"
	}
	payload := map[string]any{
		"subject":  fmt.Sprintf("[MAN Mode] Approval Required: %s", task.ToolName),
		"body":     emailBody(task, d.dashboardURL(task.ID)),
		"task_id":  task.ID,
		"priority": priority,
	}
	return d.postJSON(ctx, ChannelEmail, d.cfg.EmailEndpoint, payload)
}

func emailBody(task manmodel.ManTask, dashboardURL string) string {
	var sb strings.Builder
	sb.WriteString("A high-risk action requires your approval.\n\n")
	fmt.Fprintf(&sb, "Tool: %s\nRisk Score: %.2f\n\n", task.ToolName, task.RiskScore)
	fmt.Fprintf(&sb, "Workflow ID: %s\nStep ID: %s\nTask ID: %s\n\n", task.WorkflowID, task.StepID, task.ID)
	sb.WriteString("Risk Factors:\n")
	for _, r := range task.RiskReasons {
		fmt.Fprintf(&sb, "  - %s\n", r)
	}
	fmt.Fprintf(&sb, "\nReview this request: %s\n", dashboardURL)
	return sb.String()
}

func (d *Dispatcher) sendConsole(task manmodel.ManTask) Result {
	d.logger.Info(context.Background(), "MAN Mode notification",
		"task_id", task.ID, "tool", task.ToolName, "risk_score", task.RiskScore,
		"workflow_id", task.WorkflowID, "step_id", task.StepID,
		"dashboard_url", d.dashboardURL(task.ID))
	return Result{Channel: ChannelConsole, Success: true}
}

func (d *Dispatcher) postJSON(ctx context.Context, ch Channel, url string, payload map[string]any) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Channel: ch, Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Channel: ch, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{Channel: ch, Error: err.Error()}
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := Result{Channel: ch, Success: success, ResponseCode: resp.StatusCode}
	if !success {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return result
}
