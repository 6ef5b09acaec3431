package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/bissquit/notify-relay/internal/pkg/ctxlog"
	"github.com/go-playground/validator/v10"
)

// EngineConfig tunes delivery.
type EngineConfig struct {
	Retry            RetryPolicy
	ThrottleInterval time.Duration
	// ChatChunkLimit is the chat provider message limit in UTF-16 units.
	ChatChunkLimit int
	// ParseMode is the default chat formatting mode.
	ParseMode string
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Retry:            DefaultRetryPolicy(),
		ThrottleInterval: 100 * time.Millisecond,
		ChatChunkLimit:   4096,
		ParseMode:        "HTML",
	}
}

// Engine dispatches notifications through a fixed pipeline of stages and
// records every dispatch that reaches the queue stage.
type Engine struct {
	templates TemplateRepository
	resolver  *Resolver
	renderer  *Renderer
	executor  *Executor
	recorder  *Recorder
	transport Transport
	validate  *validator.Validate
	config    EngineConfig
	now       func() time.Time
}

// NewEngine creates an engine. Zero config fields take their defaults.
func NewEngine(repo Repository, transport Transport, renderer *Renderer, config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if config.Retry.BaseDelay == 0 {
		config.Retry.BaseDelay = defaults.Retry.BaseDelay
	}
	if config.ChatChunkLimit == 0 {
		config.ChatChunkLimit = defaults.ChatChunkLimit
	}
	if config.ParseMode == "" {
		config.ParseMode = defaults.ParseMode
	}

	v := validator.New()
	return &Engine{
		templates: repo,
		resolver:  NewResolver(repo, v),
		renderer:  renderer,
		executor:  NewExecutor(config.Retry),
		recorder:  NewRecorder(repo),
		transport: transport,
		validate:  v,
		config:    config,
		now:       time.Now,
	}
}

// DispatchChat sends a chat message.
func (e *Engine) DispatchChat(ctx context.Context, req Request) SendResult {
	req.Kind = KindChat
	return e.Dispatch(ctx, req)
}

// DispatchEmail sends an email to one address or contact.
func (e *Engine) DispatchEmail(ctx context.Context, req Request) SendResult {
	req.Kind = KindEmail
	return e.Dispatch(ctx, req)
}

// DispatchGroupEmail sends an email to every address of a group.
func (e *Engine) DispatchGroupEmail(ctx context.Context, req Request) SendResult {
	req.Kind = KindGroupEmail
	return e.Dispatch(ctx, req)
}

// dispatch is the mutable state of one Dispatch call.
type dispatch struct {
	req      Request
	target   *ResolvedTarget
	template *domain.Template
	subject  string
	body     string
	logID    string
	retries  int
	sent     int
	failed   int
	lastErr  error
}

// Dispatch runs req through every stage and never returns an error: all
// outcomes, including cancellation, are reported in the SendResult.
func (e *Engine) Dispatch(ctx context.Context, req Request) SendResult {
	start := time.Now()
	logger := ctxlog.FromContext(ctx).With(
		"kind", req.Kind,
		"target", req.Target.String(),
	)
	ctx = ctxlog.WithLogger(ctx, logger)

	d := &dispatch{req: req}
	p := pipeline{
		{StageValidation, func(context.Context) error { return validateRequest(e.validate, d.req) }},
		{StageTargetLookup, func(ctx context.Context) error { return e.lookupTarget(ctx, d) }},
		{StageTemplateLookup, func(ctx context.Context) error { return e.lookupTemplate(ctx, d) }},
		{StageRender, func(context.Context) error { return e.render(d) }},
		{StageQueue, func(ctx context.Context) error { return e.queue(ctx, d) }},
		{StageSend, func(ctx context.Context) error { return e.send(ctx, d) }},
		{StageFinalize, func(ctx context.Context) error { return e.finalize(ctx, d) }},
	}

	se := p.run(ctx)
	res := d.result()

	if se == nil {
		res.Success = true
		recordDispatch(req.Kind, "success", "")
		logger.Info("notification dispatched",
			"log_id", d.logID,
			"sent", d.sent,
			"failed", d.failed,
			"retries", d.retries,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return res
	}

	stage := se.Stage
	res.Stage = &stage
	res.HTTPStatus = se.HTTPStatus

	if ctx.Err() != nil {
		// The log row, if any, stays queued.
		res.Cancelled = true
		res.Error = "cancelled"
		recordDispatch(req.Kind, "cancelled", stage.String())
		logger.Warn("notification dispatch cancelled",
			"stage", stage,
			"log_id", d.logID,
			"sent", d.sent,
		)
		return res
	}

	res.Error = se.Err.Error()
	if stage == StageSend && d.logID != "" {
		e.recorder.Fail(ctx, d.logID, d.retries, d.failureNote(se))
	}

	recordDispatch(req.Kind, "failed", stage.String())
	logger.Warn("notification dispatch failed",
		"stage", stage,
		"log_id", d.logID,
		"error", se.Err,
	)
	return res
}

func (d *dispatch) result() SendResult {
	return SendResult{
		Subject:     d.subject,
		Body:        d.body,
		LogID:       d.logID,
		SentCount:   d.sent,
		FailedCount: d.failed,
		RetryCount:  d.retries,
	}
}

func (d *dispatch) failureNote(se *StageError) string {
	if d.req.Kind == KindGroupEmail && d.target != nil {
		return groupNote(d.failed, len(d.target.Addresses)) + ": " + se.Err.Error()
	}
	return se.Err.Error()
}

func (e *Engine) lookupTarget(ctx context.Context, d *dispatch) error {
	target, err := e.resolver.Resolve(ctx, d.req.Target)
	if err != nil {
		return err
	}
	d.target = target
	return nil
}

func (e *Engine) lookupTemplate(ctx context.Context, d *dispatch) error {
	if d.req.TemplateID == "" {
		return nil
	}
	tpl, err := e.templates.GetTemplate(ctx, d.req.TemplateID)
	if err != nil {
		return fmt.Errorf("get template: %w", err)
	}
	d.template = tpl
	return nil
}

// render fills subject and body. Request fields take precedence over the
// template's.
func (e *Engine) render(d *dispatch) error {
	subjectTpl := optional(d.req.Subject)
	bodyTpl := d.req.Body
	if d.template != nil {
		if subjectTpl == nil {
			subjectTpl = d.template.Subject
		}
		if strings.TrimSpace(bodyTpl) == "" {
			bodyTpl = d.template.Body
		}
	}

	tokens := NewTokens(d.req.Tokens)
	e.systemTokens(d).Merge(tokens)

	d.subject, d.body = e.renderer.Render(subjectTpl, bodyTpl, tokens, e.renderer.Options(d.req.Locale))

	if strings.TrimSpace(d.body) == "" {
		return fmt.Errorf("%w: body is empty", ErrRender)
	}
	if d.req.Kind != KindChat && strings.TrimSpace(d.subject) == "" {
		return fmt.Errorf("%w: subject is empty", ErrRender)
	}
	// Every chunk repeats the header, so it must leave room for the body.
	if d.req.Kind == KindChat {
		if n := Len16(chatHeader(d.subject, e.parseMode(d))); n >= e.config.ChatChunkLimit {
			return fmt.Errorf("%w: subject too long for chat (%d of %d units)", ErrRender, n, e.config.ChatChunkLimit)
		}
	}
	return nil
}

func (e *Engine) parseMode(d *dispatch) string {
	if d.req.ParseMode != "" {
		return d.req.ParseMode
	}
	return e.config.ParseMode
}

func (e *Engine) systemTokens(d *dispatch) SystemTokens {
	sys := SystemTokens{
		Now:         e.now(),
		DisplayName: d.target.DisplayName,
	}
	switch d.target.Ref.Kind {
	case TargetChatID, TargetChat:
		sys.ChatID = d.target.Addresses[0]
	case TargetAddress, TargetContact:
		sys.Email = d.target.Addresses[0]
	case TargetGroup:
		sys.GroupID = d.target.Ref.ID
	}
	if d.template != nil {
		sys.TemplateCode = d.template.Code
	}
	return sys
}

func (e *Engine) queue(ctx context.Context, d *dispatch) error {
	log := &domain.MessageLog{
		Channel:   d.req.Kind.Channel(),
		TargetID:  d.target.TargetID,
		TargetRef: d.req.Target.String(),
		Subject:   d.subject,
		Body:      d.body,
	}
	if d.template != nil {
		log.TemplateID = d.template.ID
	}

	id, err := e.recorder.Queue(ctx, log)
	if err != nil {
		return err
	}
	d.logID = id
	return nil
}

func (e *Engine) send(ctx context.Context, d *dispatch) error {
	switch d.req.Kind {
	case KindChat:
		return e.sendChat(ctx, d)
	case KindGroupEmail:
		return e.sendGroup(ctx, d)
	default:
		return e.sendEmail(ctx, d)
	}
}

func (e *Engine) sendChat(ctx context.Context, d *dispatch) error {
	mode := e.parseMode(d)
	chunks := ChunkWithHeader(chatHeader(d.subject, mode), d.body, e.config.ChatChunkLimit)
	to := d.target.Addresses[0]

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := Notification{To: to, Body: chunk, ParseMode: mode}
		if err := e.deliver(ctx, d, domain.ChannelTypeTelegram, n); err != nil {
			return &StageError{
				Stage:      StageSend,
				Err:        fmt.Errorf("send chunk %d of %d: %w", i+1, len(chunks), err),
				HTTPStatus: statusCode(err),
			}
		}
	}

	d.sent = 1
	return nil
}

// chatHeader renders the subject line prefixed to every chat chunk.
func chatHeader(subject, parseMode string) string {
	if strings.TrimSpace(subject) == "" {
		return ""
	}
	if strings.EqualFold(parseMode, "HTML") {
		return "<b>" + subject + "</b>\n\n"
	}
	return subject + "\n\n"
}

func (e *Engine) sendEmail(ctx context.Context, d *dispatch) error {
	n := Notification{To: d.target.Addresses[0], Subject: d.subject, Body: d.body}
	if err := e.deliver(ctx, d, domain.ChannelTypeEmail, n); err != nil {
		d.failed = 1
		return &StageError{Stage: StageSend, Err: err, HTTPStatus: statusCode(err)}
	}
	d.sent = 1
	return nil
}

// sendGroup delivers to each address in turn. A failed recipient is counted
// and skipped; the dispatch fails only when nobody received the message.
func (e *Engine) sendGroup(ctx context.Context, d *dispatch) error {
	logger := ctxlog.FromContext(ctx)
	throttle := newThrottle(e.config.ThrottleInterval)

	for _, addr := range d.target.Addresses {
		if err := e.executor.sleep(ctx, throttle.Reserve().Delay()); err != nil {
			return err
		}

		n := Notification{To: addr, Subject: d.subject, Body: d.body}
		if err := e.deliver(ctx, d, domain.ChannelTypeEmail, n); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.failed++
			d.lastErr = err
			logger.Warn("group recipient failed",
				"recipient", addr,
				"error", err,
			)
			continue
		}
		d.sent++
	}

	if d.sent == 0 {
		return &StageError{
			Stage:      StageSend,
			Err:        fmt.Errorf("all %d recipients failed: %w", d.failed, d.lastErr),
			HTTPStatus: statusCode(d.lastErr),
		}
	}
	return nil
}

func (e *Engine) deliver(ctx context.Context, d *dispatch, channel domain.ChannelType, n Notification) error {
	retries, err := e.executor.Do(ctx, channel, func(ctx context.Context) error {
		return e.transport.Send(ctx, channel, n)
	})
	d.retries += retries
	return err
}

func (e *Engine) finalize(ctx context.Context, d *dispatch) error {
	var note string
	if d.req.Kind == KindGroupEmail {
		note = groupNote(d.failed, len(d.target.Addresses))
	}
	return e.recorder.Succeed(ctx, d.logID, d.retries, note)
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
