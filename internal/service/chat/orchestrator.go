package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/metrics"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/personality"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/ai"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/moderation"
)

var (
	ErrInvalidRequest         = errors.New("invalid chat request")
	ErrPersonaNotFound        = errors.New("persona not found")
	ErrGenerationFailure      = errors.New("generation failed")
	ErrPersonalityUnavailable = errors.New("personality data unavailable")
	ErrMissingDependency      = errors.New("orchestrator dependency missing")
)

// Dependencies groups the collaborators of an Orchestrator.
type Dependencies struct {
	Personas  persona.Store
	Answers   personality.AnswerStore
	Gate      *moderation.Gate
	Assembler *ai.PromptAssembler
	Composer  *ai.Composer
	Generator ai.Generator
	Sessions  *Service
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	Now       func() time.Time
}

// Orchestrator runs one student message through moderation, prompt assembly
// and generation.
type Orchestrator struct {
	deps     Dependencies
	validate *validator.Validate
	logger   *zap.Logger
}

// NewOrchestrator fills optional dependencies with defaults. Personas and
// Generator are required.
func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	if deps.Personas == nil {
		return nil, fmt.Errorf("%w: persona store", ErrMissingDependency)
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("%w: generator", ErrMissingDependency)
	}
	if deps.Gate == nil {
		deps.Gate = moderation.NewGate()
	}
	if deps.Assembler == nil {
		deps.Assembler = ai.NewPromptAssembler(nil)
	}
	if deps.Composer == nil {
		deps.Composer = ai.NewComposer()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		deps:     deps,
		validate: validator.New(),
		logger:   deps.Logger.With(zap.String("component", "chat.orchestrator")),
	}, nil
}

// SendMessage resolves the persona, applies moderation and, unless blocked,
// generates a reply. A blocked message returns a normal Response carrying the
// refusal text; no personality lookup or generation happens in that case.
// session may be nil.
func (o *Orchestrator) SendMessage(ctx context.Context, session *chat.Session, req chat.Request) (chat.Response, error) {
	if err := o.validate.Struct(req); err != nil {
		return chat.Response{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	p, err := o.deps.Personas.FindByID(ctx, req.PersonaID)
	if errors.Is(err, persona.ErrNotFound) {
		o.count(metrics.OutcomeNotFound)
		return chat.Response{}, fmt.Errorf("%w: %s", ErrPersonaNotFound, req.PersonaID)
	}
	if err != nil {
		o.count(metrics.OutcomeFailed)
		return chat.Response{}, fmt.Errorf("load persona %s: %w", req.PersonaID, err)
	}

	log := o.logger.With(zap.String("persona", p.ID), zap.String("category", string(req.Category)), zap.String("mode", string(req.Mode)))

	if decision := o.deps.Gate.Evaluate(req.Message, p); decision.Blocked {
		log.Info("message blocked by moderation", zap.String("rule", string(decision.Rule)), zap.String("match", decision.Match))
		o.count(metrics.OutcomeBlocked)
		if o.deps.Metrics != nil {
			o.deps.Metrics.ModerationBlocks.WithLabelValues(string(decision.Rule)).Inc()
		}
		return o.respond(ctx, session, req, p, decision.Text), nil
	}

	answers, err := o.loadAnswers(ctx, p.ID)
	if err != nil {
		log.Warn("building instruction without personality answers", zap.Error(err))
	}
	systemInstruction := o.deps.Assembler.BuildSystemInstruction(p, answers)
	if !o.deps.Assembler.UsesQuestionnaire(answers) && o.deps.Metrics != nil {
		o.deps.Metrics.PersonalityFallback.Inc()
	}

	var custom []persona.CustomPrompt
	if p.ResponseCustomization.EnableCustomization {
		custom = p.ResponseCustomization.CustomPrompts
	}
	userPrompt := o.deps.Composer.Compose(req.Message, req.Category, req.Mode, custom)

	started := time.Now()
	text, err := o.deps.Generator.Generate(ctx, systemInstruction, userPrompt)
	if o.deps.Metrics != nil {
		o.deps.Metrics.GenerationDuration.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		log.Error("generation failed", zap.Error(err))
		o.count(metrics.OutcomeFailed)
		return chat.Response{}, fmt.Errorf("%w: %w", ErrGenerationFailure, err)
	}

	o.count(metrics.OutcomeGenerated)
	log.Info("generated reply", zap.Int("length", len(text)))
	return o.respond(ctx, session, req, p, text), nil
}

// loadAnswers returns nil when the persona has no usable answer set.
func (o *Orchestrator) loadAnswers(ctx context.Context, personaID string) (*personality.AnswerSet, error) {
	if o.deps.Answers == nil {
		return nil, nil
	}
	set, err := o.deps.Answers.GetByPersonaID(ctx, personaID)
	if errors.Is(err, personality.ErrAbsent) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersonalityUnavailable, err)
	}
	return &set, nil
}

func (o *Orchestrator) respond(ctx context.Context, session *chat.Session, req chat.Request, p persona.Persona, text string) chat.Response {
	resp := chat.Response{
		Text:      text,
		Persona:   p.Public(),
		Timestamp: o.deps.Now(),
	}
	o.record(ctx, session, req, resp)
	return resp
}

// record stores the exchange in the session transcript; failures only log.
func (o *Orchestrator) record(ctx context.Context, session *chat.Session, req chat.Request, resp chat.Response) {
	if session == nil || o.deps.Sessions == nil {
		return
	}
	student := chat.Message{Content: req.Message, Category: string(req.Category), Mode: string(req.Mode), CreatedAt: resp.Timestamp}
	reply := chat.Message{Content: resp.Text, Category: string(req.Category), Mode: string(req.Mode), CreatedAt: resp.Timestamp}
	if _, err := o.deps.Sessions.RecordExchange(ctx, session.ID, student, reply); err != nil {
		o.logger.Warn("failed to record exchange", zap.String("session", session.ID), zap.Error(err))
	}
}

func (o *Orchestrator) count(outcome string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.ChatRequests.WithLabelValues(outcome).Inc()
	}
}
