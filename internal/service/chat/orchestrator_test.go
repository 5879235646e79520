package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-counsel/backend/internal/metrics"
	model "github.com/zhouzirui/persona-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/personality"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/ai"
	chat "github.com/zhouzirui/persona-counsel/backend/internal/service/chat"
)

type recordingGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []ai.MockCall
}

func (g *recordingGenerator) Generate(_ context.Context, systemInstruction, userPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, ai.MockCall{SystemInstruction: systemInstruction, UserPrompt: userPrompt})
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *recordingGenerator) Calls() []ai.MockCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ai.MockCall(nil), g.calls...)
}

type failingAnswers struct{ calls int }

func (f *failingAnswers) GetByPersonaID(context.Context, string) (personality.AnswerSet, error) {
	f.calls++
	return personality.AnswerSet{}, errors.New("connection refused")
}

func (f *failingAnswers) Save(context.Context, string, map[string]string) (personality.AnswerSet, error) {
	return personality.AnswerSet{}, errors.New("connection refused")
}

// staleAnswers returns a set flagged complete that misses most answers.
type staleAnswers struct{}

func (staleAnswers) GetByPersonaID(_ context.Context, personaID string) (personality.AnswerSet, error) {
	return personality.AnswerSet{
		PersonaID:  personaID,
		Answers:    map[string]string{"basic-01": "古い回答"},
		IsComplete: true,
	}, nil
}

func (staleAnswers) Save(context.Context, string, map[string]string) (personality.AnswerSet, error) {
	return personality.AnswerSet{}, errors.New("read only")
}

var fixedNow = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	orch      *chat.Orchestrator
	gen       *recordingGenerator
	store     *persona.MemoryStore
	answers   personality.AnswerStore
	sessions  *chat.Service
	collector *metrics.Collector
}

func newFixture(t *testing.T, answers personality.AnswerStore) fixture {
	t.Helper()
	store := persona.NewMemoryStore(persona.Seed())
	if answers == nil {
		answers = personality.NewMemoryAnswerStore(personality.DefaultCatalog())
	}
	gen := &recordingGenerator{reply: "一緒に考えましょう。"}
	sessions := chat.NewService()
	collector := metrics.NewCollector("test")
	orch, err := chat.NewOrchestrator(chat.Dependencies{
		Personas:  store,
		Answers:   answers,
		Generator: gen,
		Sessions:  sessions,
		Metrics:   collector,
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return fixture{orch: orch, gen: gen, store: store, answers: answers, sessions: sessions, collector: collector}
}

func completeAnswers() map[string]string {
	out := make(map[string]string)
	for _, q := range personality.DefaultCatalog().Questions() {
		out[q.ID] = "回答:" + q.ID
	}
	return out
}

func TestSendMessageGeneratesReply(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.orch.SendMessage(context.Background(), nil, model.Request{
		Message:   "勉強のやる気が出ません",
		PersonaID: "sato",
		Category:  persona.CategoryStudy,
		Mode:      persona.ModeQuick,
	})
	require.NoError(t, err)

	assert.Equal(t, "一緒に考えましょう。", resp.Text)
	assert.Equal(t, "sato", resp.Persona.ID)
	assert.Equal(t, fixedNow, resp.Timestamp)

	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].SystemInstruction, "佐藤先生")
	assert.Contains(t, calls[0].SystemInstruction, ai.IncompleteProfileMarker)
	assert.Equal(t, ai.CategoryPreamble(persona.CategoryStudy)+ai.ModePreamble(persona.ModeQuick)+"勉強のやる気が出ません", calls[0].UserPrompt)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.ChatRequests.WithLabelValues(metrics.OutcomeGenerated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.PersonalityFallback))
}

func TestSendMessageUsesCompleteQuestionnaire(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.answers.Save(context.Background(), "sato", completeAnswers())
	require.NoError(t, err)

	_, err = f.orch.SendMessage(context.Background(), nil, model.Request{Message: "進路に迷っています", PersonaID: "sato"})
	require.NoError(t, err)

	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].SystemInstruction, ai.IncompleteProfileMarker)
	assert.Contains(t, calls[0].SystemInstruction, "回答:basic-01")
	assert.Equal(t, 0.0, testutil.ToFloat64(f.collector.PersonalityFallback))
}

func TestSendMessageCountsFallbackForStaleCompleteFlag(t *testing.T) {
	f := newFixture(t, staleAnswers{})

	_, err := f.orch.SendMessage(context.Background(), nil, model.Request{Message: "進路に迷っています", PersonaID: "sato"})
	require.NoError(t, err)

	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].SystemInstruction, ai.IncompleteProfileMarker)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.PersonalityFallback))
}

func TestNewOrchestratorRequiresStoreAndGenerator(t *testing.T) {
	store := persona.NewMemoryStore(persona.Seed())

	_, err := chat.NewOrchestrator(chat.Dependencies{Personas: store})
	assert.ErrorIs(t, err, chat.ErrMissingDependency)
	assert.ErrorContains(t, err, "generator")

	_, err = chat.NewOrchestrator(chat.Dependencies{Generator: ai.NewMockGenerator()})
	assert.ErrorIs(t, err, chat.ErrMissingDependency)
	assert.ErrorContains(t, err, "persona store")
}

func TestSendMessageBlockedSkipsGeneration(t *testing.T) {
	answers := &failingAnswers{}
	f := newFixture(t, answers)
	ctx := context.Background()
	session, err := f.sessions.CreateSession(ctx, "tanaka", "", true)
	require.NoError(t, err)

	resp, err := f.orch.SendMessage(ctx, &session, model.Request{Message: "テストでカンニングしたい", PersonaID: "tanaka"})
	require.NoError(t, err)

	assert.Contains(t, resp.Text, "カンニング")
	assert.Equal(t, "tanaka", resp.Persona.ID)
	assert.Empty(t, f.gen.Calls())
	assert.Zero(t, answers.calls)

	transcript, err := f.sessions.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, resp.Text, transcript[1].Content)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.ChatRequests.WithLabelValues(metrics.OutcomeBlocked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.ModerationBlocks.WithLabelValues("ng_word")))
}

func TestSendMessageRestrictedTopic(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.orch.SendMessage(context.Background(), nil, model.Request{Message: "医療診断をしてほしい", PersonaID: "suzuki"})
	require.NoError(t, err)

	assert.Contains(t, resp.Text, "医療診断")
	assert.Empty(t, f.gen.Calls())
}

func TestSendMessageAppliesCustomPrompt(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.SendMessage(context.Background(), nil, model.Request{
		Message:   "友達とけんかしました",
		PersonaID: "suzuki",
		Category:  persona.CategoryRelationship,
	})
	require.NoError(t, err)

	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].UserPrompt, "相談者の気持ちを否定せず、まず受け止める言葉から始めてください。\n\n"))
	assert.True(t, strings.HasSuffix(calls[0].UserPrompt, "友達とけんかしました"))
}

func TestSendMessageIgnoresCustomPromptWhenDisabled(t *testing.T) {
	f := newFixture(t, nil)
	disabled := false
	p, err := f.store.FindByID(context.Background(), "suzuki")
	require.NoError(t, err)
	rc := p.ResponseCustomization
	rc.EnableCustomization = disabled
	_, err = f.store.Update(context.Background(), "suzuki", persona.Update{ResponseCustomization: &rc})
	require.NoError(t, err)

	resp, err := f.orch.SendMessage(context.Background(), nil, model.Request{
		Message:   "医療診断と友達のこと",
		PersonaID: "suzuki",
		Category:  persona.CategoryRelationship,
	})
	require.NoError(t, err)
	assert.Equal(t, "一緒に考えましょう。", resp.Text)

	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].UserPrompt, ai.CategoryPreamble(persona.CategoryRelationship)))
}

func TestSendMessageHidesFreeNotes(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.orch.SendMessage(context.Background(), nil, model.Request{Message: "部活がつらい", PersonaID: "suzuki"})
	require.NoError(t, err)

	assert.Empty(t, resp.Persona.FreeNotes)
	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].SystemInstruction, "保護者面談")
}

func TestSendMessagePersonaNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.SendMessage(context.Background(), nil, model.Request{Message: "こんにちは", PersonaID: "ghost"})
	assert.ErrorIs(t, err, chat.ErrPersonaNotFound)
	assert.Empty(t, f.gen.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.ChatRequests.WithLabelValues(metrics.OutcomeNotFound)))
}

func TestSendMessageInvalidRequest(t *testing.T) {
	f := newFixture(t, nil)

	cases := []model.Request{
		{Message: "", PersonaID: "sato"},
		{Message: "hi", PersonaID: ""},
		{Message: "hi", PersonaID: "sato", Category: "部活"},
		{Message: "hi", PersonaID: "sato", Mode: "loud"},
		{Message: strings.Repeat("あ", 4001), PersonaID: "sato"},
	}
	for _, req := range cases {
		_, err := f.orch.SendMessage(context.Background(), nil, req)
		assert.ErrorIs(t, err, chat.ErrInvalidRequest)
	}
	assert.Empty(t, f.gen.Calls())
}

func TestSendMessageGenerationFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.err = errors.New("upstream 503")

	_, err := f.orch.SendMessage(context.Background(), nil, model.Request{Message: "こんにちは", PersonaID: "sato"})
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrGenerationFailure)
	assert.Contains(t, err.Error(), "upstream 503")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.ChatRequests.WithLabelValues(metrics.OutcomeFailed)))
}

func TestSendMessagePersonalityOutageFallsBack(t *testing.T) {
	answers := &failingAnswers{}
	f := newFixture(t, answers)

	resp, err := f.orch.SendMessage(context.Background(), nil, model.Request{Message: "こんにちは", PersonaID: "sato"})
	require.NoError(t, err)
	assert.Equal(t, "一緒に考えましょう。", resp.Text)
	assert.Equal(t, 1, answers.calls)

	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].SystemInstruction, ai.IncompleteProfileMarker)
}

func TestSendMessageRecordsTranscript(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session, err := f.sessions.CreateSession(ctx, "sato", "student-9", false)
	require.NoError(t, err)

	_, err = f.orch.SendMessage(ctx, &session, model.Request{Message: "志望校が決まらない", PersonaID: "sato", Category: persona.CategoryCareer})
	require.NoError(t, err)

	transcript, err := f.sessions.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "志望校が決まらない", transcript[0].Content)
	assert.Equal(t, string(persona.CategoryCareer), transcript[0].Category)
	assert.Equal(t, model.SenderPersona, transcript[1].Sender)
}
