package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-counsel/backend/internal/config"
	editorHandler "github.com/zhouzirui/persona-counsel/backend/internal/handler/editor"
	"github.com/zhouzirui/persona-counsel/backend/internal/metrics"
	personaModel "github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	personalityModel "github.com/zhouzirui/persona-counsel/backend/internal/model/personality"
	aiService "github.com/zhouzirui/persona-counsel/backend/internal/service/ai"
	chatService "github.com/zhouzirui/persona-counsel/backend/internal/service/chat"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/editor"
)

type testServer struct {
	*httptest.Server
	store *personaModel.MemoryStore
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	store := personaModel.NewMemoryStore(personaModel.Seed())
	catalog := personalityModel.DefaultCatalog()
	answers := personalityModel.NewMemoryAnswerStore(catalog)
	sessions := chatService.NewService()
	collector := metrics.NewCollector("test")
	gen := aiService.NewMockGenerator()
	orch, err := chatService.NewOrchestrator(chatService.Dependencies{
		Personas:  store,
		Answers:   answers,
		Generator: gen,
		Sessions:  sessions,
		Metrics:   collector,
	})
	require.NoError(t, err)

	router := NewRouter(Dependencies{
		Personas:     store,
		Answers:      answers,
		Catalog:      catalog,
		Sessions:     sessions,
		Orchestrator: orch,
		Generator:    gen,
		Provider:     config.ProviderMock,
		Metrics:      collector,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return testServer{Server: srv, store: store}
}

func (s testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, body := srv.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestPersonaCRUDRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, http.MethodGet, "/api/personas", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []personaModel.Persona
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 3)
	for _, p := range list {
		assert.Empty(t, p.FreeNotes)
	}

	resp, _ = srv.do(t, http.MethodPost, "/api/personas", map[string]any{
		"id":          "yamada",
		"name":        "山田先生",
		"displayName": "山田先生",
		"specialties": []string{"英語"},
		"ngWords":     map[string]any{"enabled": true, "words": []string{"喧嘩"}, "categories": []string{"暴力"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodPost, "/api/personas", map[string]any{
		"name":        "x",
		"displayName": "x",
		"ngWords":     map[string]any{"enabled": true, "categories": []string{"スポーツ"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = srv.do(t, http.MethodPatch, "/api/personas/yamada", map[string]any{"greeting": "Hello!"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated personaModel.Persona
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "Hello!", updated.Greeting)
	assert.Equal(t, []string{"英語"}, updated.Specialties)

	resp, _ = srv.do(t, http.MethodGet, "/api/personas/suzuki", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodDelete, "/api/personas/yamada", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodGet, "/api/personas/yamada", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPersonalityRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, http.MethodGet, "/api/personality/questions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var catalog personalityModel.Catalog
	require.NoError(t, json.Unmarshal(body, &catalog))
	assert.Len(t, catalog.Questions(), personalityModel.QuestionCount)

	resp, body = srv.do(t, http.MethodGet, "/api/personality/sato", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view personalityModel.View
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, 0, view.Answered)
	assert.Equal(t, 50, view.Total)

	resp, body = srv.do(t, http.MethodPut, "/api/personality/sato", map[string]any{
		"answers": map[string]string{"basic-01": "恩師に憧れて", "basic-02": "十五年"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, 2, view.Answered)
	assert.False(t, view.IsComplete)

	resp, _ = srv.do(t, http.MethodPut, "/api/personality/sato", map[string]any{"answers": map[string]string{"zzz": "?"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodGet, "/api/personality/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatAndMetricsRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "受験が不安です", "personaId": "sato", "category": "進路"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := srv.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `test_chat_requests_total{outcome="generated"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func readView(t *testing.T, conn *websocket.Conn) editorHandler.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev editorHandler.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// readUntil skips pushes until one satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, match func(editorHandler.Event) bool) editorHandler.Event {
	t.Helper()
	for i := 0; i < 20; i++ {
		ev := readView(t, conn)
		if match(ev) {
			return ev
		}
	}
	t.Fatal("expected event not received")
	return editorHandler.Event{}
}

func TestEditorWebSocketFlow(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/editor/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readView(t, conn)
	assert.Equal(t, editorHandler.EventView, initial.Type)
	assert.Equal(t, editor.StateViewing, initial.View.State)

	require.NoError(t, conn.WriteJSON(editorHandler.Command{Type: editorHandler.CommandSelect, PersonaID: "sato"}))
	ev := readUntil(t, conn, func(ev editorHandler.Event) bool { return ev.View != nil && ev.View.PersonaID == "sato" })
	require.NotNil(t, ev.View.Draft)

	require.NoError(t, conn.WriteJSON(editorHandler.Command{Type: editorHandler.CommandBegin}))
	ev = readUntil(t, conn, func(ev editorHandler.Event) bool { return ev.View != nil && ev.View.State == editor.StateEditing })

	draft := *ev.View.Draft
	draft.Greeting = "編集後の挨拶"
	require.NoError(t, conn.WriteJSON(editorHandler.Command{Type: editorHandler.CommandEdit, Draft: &draft}))
	readUntil(t, conn, func(ev editorHandler.Event) bool {
		return ev.View != nil && ev.View.Draft != nil && ev.View.Draft.Greeting == "編集後の挨拶"
	})

	require.NoError(t, conn.WriteJSON(editorHandler.Command{Type: editorHandler.CommandSave}))
	readUntil(t, conn, func(ev editorHandler.Event) bool {
		return ev.View != nil && ev.View.State == editor.StateViewing && ev.View.Authoritative != nil &&
			ev.View.Authoritative.Greeting == "編集後の挨拶"
	})

	require.NoError(t, conn.WriteJSON(editorHandler.Command{Type: "explode"}))
	errEv := readUntil(t, conn, func(ev editorHandler.Event) bool { return ev.Type == editorHandler.EventError })
	assert.Equal(t, "unknown command", errEv.Error)
}

func TestEditorWebSocketRejectsUnknownModerationSettings(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/editor/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readView(t, conn)

	require.NoError(t, conn.WriteJSON(editorHandler.Command{Type: editorHandler.CommandSelect, PersonaID: "tanaka"}))
	readUntil(t, conn, func(ev editorHandler.Event) bool { return ev.View != nil && ev.View.PersonaID == "tanaka" })
	require.NoError(t, conn.WriteJSON(editorHandler.Command{Type: editorHandler.CommandBegin}))
	ev := readUntil(t, conn, func(ev editorHandler.Event) bool { return ev.View != nil && ev.View.State == editor.StateEditing })

	draft := *ev.View.Draft
	draft.NGWords.Categories = append(draft.NGWords.Categories, "ギャンブル")
	require.NoError(t, conn.WriteJSON(editorHandler.Command{Type: editorHandler.CommandEdit, Draft: &draft}))
	errEv := readUntil(t, conn, func(ev editorHandler.Event) bool { return ev.Type == editorHandler.EventError })
	assert.Equal(t, "draft has unknown moderation settings", errEv.Error)

	require.NoError(t, conn.WriteJSON(editorHandler.Command{Type: editorHandler.CommandSave}))
	readUntil(t, conn, func(ev editorHandler.Event) bool {
		return ev.View != nil && ev.View.State == editor.StateViewing
	})

	stored, err := srv.store.FindByID(t.Context(), "tanaka")
	require.NoError(t, err)
	assert.Equal(t, []string{"暴力", "犯罪"}, stored.NGWords.Categories)
}
