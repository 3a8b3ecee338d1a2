package processing

import (
	"context"
	stderrors "errors"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/metrics"
	"github.com/teilomillet/chatguard/server/orchestrator"
	"github.com/teilomillet/chatguard/server/postprocess"
	"github.com/teilomillet/chatguard/server/prompt"
	"github.com/teilomillet/chatguard/server/ratelimit"
	"github.com/teilomillet/chatguard/server/screening"
	"github.com/teilomillet/chatguard/server/storage"
)

// Generator produces text for a framed prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, userID string) (*orchestrator.Result, error)
	Stream(ctx context.Context, prompt, userID string) (*orchestrator.StreamResult, error)
}

// ContextSource supplies reference text for the hallucination check.
type ContextSource interface {
	Context(ctx context.Context, userID, query string, topK int) ([]string, error)
}

// Deps are the collaborators of a Pipeline. Context and Metrics are optional.
type Deps struct {
	Screens       *screening.Screens
	Limiter       *ratelimit.Limiter
	Framer        *prompt.Framer
	Generator     Generator
	Postprocessor *postprocess.Processor
	Conversations storage.ConversationStore
	Context       ContextSource
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Options tune a Pipeline.
type Options struct {
	MaxMessageLength int // characters, after sanitization
	ContextTopK      int // chunks used as hallucination context
}

// Pipeline processes chat messages. It is safe for concurrent use.
type Pipeline struct {
	screens atomic.Pointer[screening.Screens]
	deps    Deps
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// New validates deps and creates a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Screens == nil:
		return nil, stderrors.New("pipeline requires screens")
	case deps.Limiter == nil:
		return nil, stderrors.New("pipeline requires a rate limiter")
	case deps.Framer == nil:
		return nil, stderrors.New("pipeline requires a framer")
	case deps.Generator == nil:
		return nil, stderrors.New("pipeline requires a generator")
	case deps.Postprocessor == nil:
		return nil, stderrors.New("pipeline requires a postprocessor")
	case deps.Conversations == nil:
		return nil, stderrors.New("pipeline requires a conversation store")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 500
	}
	if opts.ContextTopK <= 0 {
		opts.ContextTopK = 5
	}
	p := &Pipeline{deps: deps, opts: opts, logger: deps.Logger, now: time.Now}
	p.screens.Store(deps.Screens)
	return p, nil
}

// SetScreens swaps the threat screens, e.g. after a config reload.
func (p *Pipeline) SetScreens(s *screening.Screens) {
	if s != nil {
		p.screens.Store(s)
	}
}

// admitted carries the state shared by Process and ProcessStream once a
// message has passed every pre-generation stage.
type admitted struct {
	text      string
	queryType string
	prompt    prompt.Prompt
}

// Process runs the full pipeline. Every rejection is a *errors.ChatError.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Response, error) {
	a, err := p.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := p.deps.Generator.Generate(ctx, a.prompt.Text, req.UserID)
	if err != nil {
		p.logger.Error("generation failed",
			zap.String("user_id", req.UserID),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return nil, p.reject(errors.NewGenerationUnavailableError(req.RequestID, err))
	}

	var reference []string
	if p.deps.Context != nil {
		reference, err = p.deps.Context.Context(ctx, req.UserID, a.text, p.opts.ContextTopK)
		if err != nil {
			p.logger.Warn("context lookup failed", zap.String("user_id", req.UserID), zap.Error(err))
			reference = nil
		}
	}

	out := &Response{
		Response:  res.Text,
		QueryType: a.queryType,
		Provider:  res.Provider,
	}
	post, err := p.deps.Postprocessor.Process(res.Text, reference)
	if err != nil {
		// Recovered: the caller gets the raw generated text.
		p.logger.Warn("postprocessing failed, returning raw text",
			zap.String("request_id", req.RequestID),
			zap.Error(errors.NewMarkdownError(req.RequestID, err)),
		)
		return out, nil
	}
	out.Response = post.Text
	out.HTML = post.HTML
	out.FlaggedSentences = post.Flagged
	out.Truncated = post.Truncated
	out.Links = post.Links
	out.CodeBlocks = post.CodeBlocks
	return out, nil
}

// ProcessStream runs every stage up to generation and returns the
// provider's chunk stream. Streamed text is not postprocessed.
func (p *Pipeline) ProcessStream(ctx context.Context, req Request) (*StreamResponse, error) {
	a, err := p.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	s, err := p.deps.Generator.Stream(ctx, a.prompt.Text, req.UserID)
	if err != nil {
		p.logger.Error("stream generation failed",
			zap.String("user_id", req.UserID),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return nil, p.reject(errors.NewGenerationUnavailableError(req.RequestID, err))
	}
	return &StreamResponse{Stream: s.Stream, Provider: s.Provider, QueryType: a.queryType}, nil
}

func (p *Pipeline) admit(ctx context.Context, req Request) (*admitted, error) {
	if strings.TrimSpace(req.UserID) == "" || req.Text == "" {
		return nil, p.reject(errors.NewValidationError(req.RequestID, "user_id and text are required", nil))
	}

	text := screening.Sanitize(req.Text)
	if text == "" {
		return nil, p.reject(errors.NewValidationError(req.RequestID, "Message is empty", map[string]interface{}{
			"field": "text",
		}))
	}
	if !screening.ValidLength(text, p.opts.MaxMessageLength) {
		return nil, p.reject(errors.NewValidationError(req.RequestID, "Message too long", map[string]interface{}{
			"field":      "text",
			"max_length": p.opts.MaxMessageLength,
		}))
	}

	if category := p.screens.Load().Check(text); category != "" {
		p.logger.Info("message rejected by screen",
			zap.String("user_id", req.UserID),
			zap.String("category", string(category)),
		)
		return nil, p.reject(errors.NewThreatError(req.RequestID, category))
	}

	known, err := p.deps.Conversations.HasConversation(ctx, req.UserID)
	if err != nil {
		p.logger.Error("conversation lookup failed", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, p.reject(errors.NewStorageError(req.RequestID, err))
	}

	ok, wait := p.deps.Limiter.Reserve(req.UserID, !known)
	if !ok {
		return nil, p.reject(errors.NewRateLimitError(req.RequestID, retryAfterSeconds(wait)))
	}

	queryType := req.QueryType
	if queryType == "" {
		queryType = p.deps.Framer.Resolve("")
	}
	framed, err := p.deps.Framer.Frame(text, queryType)
	if err != nil {
		if stderrors.Is(err, prompt.ErrTooLong) {
			return nil, p.reject(errors.NewFramingError(req.RequestID, p.deps.Framer.MaxLength()))
		}
		return nil, p.reject(errors.NewInternalError(req.RequestID, err))
	}

	// History keeps what the provider saw, after token trimming.
	msg := storage.Message{Text: framed.Message, Timestamp: p.now().UTC(), QueryType: queryType}
	if err := p.deps.Conversations.AppendMessage(ctx, req.UserID, msg); err != nil {
		p.logger.Error("append message failed", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, p.reject(errors.NewStorageError(req.RequestID, err))
	}

	return &admitted{text: framed.Message, queryType: queryType, prompt: framed}, nil
}

func (p *Pipeline) reject(err *errors.ChatError) *errors.ChatError {
	if p.deps.Metrics != nil {
		p.deps.Metrics.Rejections.WithLabelValues(string(err.Type)).Inc()
	}
	return err
}

// retryAfterSeconds rounds wait up to whole seconds, never below one.
func retryAfterSeconds(wait time.Duration) int {
	s := int(math.Ceil(wait.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
