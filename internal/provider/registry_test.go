package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-agent/pi/pkg/types"
)

// fakeProvider serves one fake chat model for every model id.
type fakeProvider struct {
	id     string
	models []types.Model
	cm     *fakeChatModel
	levels []types.ThinkingLevel
}

func (p *fakeProvider) ID() string            { return p.id }
func (p *fakeProvider) Name() string          { return "Fake" }
func (p *fakeProvider) API() string           { return "fake" }
func (p *fakeProvider) Models() []types.Model { return p.models }
func (p *fakeProvider) ChatModel(_ context.Context, _ string, level types.ThinkingLevel) (model.ToolCallingChatModel, error) {
	p.levels = append(p.levels, level)
	return p.cm, nil
}

func newFakeProvider(id string, modelIDs ...string) *fakeProvider {
	p := &fakeProvider{id: id, cm: &fakeChatModel{chunks: []*schema.Message{{Role: schema.Assistant, Content: "from " + id}}}}
	for _, m := range modelIDs {
		p.models = append(p.models, types.Model{ID: m, Provider: id, API: "fake", ContextWindow: 1000})
	}
	return p
}

func TestRegistry_FindModel(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(newFakeProvider("anthropic", "claude-haiku-4-5", "claude-sonnet-4-5"))
	r.Register(newFakeProvider("openai", "gpt-4o"))

	m, err := r.FindModel("openai/gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Provider)

	m, err = r.FindModel("claude-haiku-4-5")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", m.Provider)

	_, err = r.FindModel("openai/nope")
	assert.ErrorIs(t, err, ErrModelNotFound)

	_, err = r.FindModel("mistral/large")
	assert.Error(t, err)

	all := r.AllModels()
	require.Len(t, all, 3)
	assert.Equal(t, "claude-sonnet-4-5", all[0].ID)
}

func TestRegistry_DefaultModel(t *testing.T) {
	settings := &types.Settings{DefaultProvider: "openai", DefaultModel: "gpt-4o"}
	r := NewRegistry(settings)
	r.Register(newFakeProvider("anthropic", "claude-sonnet-4-5"))
	r.Register(newFakeProvider("openai", "gpt-4o"))

	m, err := r.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", m.ID)

	_, err = NewRegistry(nil).DefaultModel()
	assert.Error(t, err)
}

func TestRegistry_StreamFunc(t *testing.T) {
	r := NewRegistry(nil)
	p := newFakeProvider("anthropic", "claude-sonnet-4-5")
	r.Register(p)
	stream := r.StreamFunc()

	m, err := r.FindModel("claude-sonnet-4-5")
	require.NoError(t, err)

	msg := stream(context.Background(), m, Context{}, Options{ThinkingLevel: types.ThinkingHigh}, nil)
	assert.Equal(t, "from anthropic", msg.Content.Texts())
	assert.Equal(t, []types.ThinkingLevel{types.ThinkingHigh}, p.levels)

	msg = stream(context.Background(), types.Model{ID: "x", Provider: "gone"}, Context{}, Options{}, nil)
	assert.Equal(t, types.StopReasonError, msg.StopReason)
	assert.Contains(t, msg.ErrorMessage, "provider not found: gone")
}

func TestRegistry_LoadCustomModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// local server
		"providers": {
			"ollama": {
				"name": "Ollama",
				"baseUrl": "http://localhost:11434/v1",
				"apiKey": "none",
				"models": [{"id": "qwen3", "name": "Qwen 3", "contextWindow": 32768}],
			},
		},
	}`), 0644))

	r := NewRegistry(nil)
	require.NoError(t, r.LoadCustomModels(context.Background(), path, nil))

	m, err := r.FindModel("ollama/qwen3")
	require.NoError(t, err)
	assert.Equal(t, "ollama", m.Provider)
	assert.Equal(t, APIOpenAI, m.API)
	assert.Equal(t, "http://localhost:11434/v1", m.BaseURL)
	assert.Equal(t, int64(32768), m.ContextWindow)

	assert.NoError(t, r.LoadCustomModels(context.Background(), filepath.Join(t.TempDir(), "missing.json"), nil))
}

func TestInitializeProviders(t *testing.T) {
	settings := &types.Settings{Provider: map[string]types.ProviderConfig{
		"anthropic": {APIKey: "sk-ant"},
		"openai":    {APIKey: "sk-oai", Disable: true},
	}}
	creds := NewCredentials(nil, settings)
	creds.getenv = fakeEnv(nil)

	r, err := InitializeProviders(context.Background(), settings, creds, "")
	require.NoError(t, err)

	_, err = r.Get("anthropic")
	assert.NoError(t, err)
	_, err = r.Get("openai")
	assert.Error(t, err)
	_, err = r.Get("ark")
	assert.Error(t, err)
}

// sseChunk renders one OpenAI chat.completion.chunk event.
func sseChunk(delta, finish string) string {
	finishJSON := "null"
	if finish != "" {
		finishJSON = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"mock","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`+"\n\n", delta, finishJSON)
}

func TestOpenAIProvider_StreamsFromCompatibleServer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			sseChunk(`{"role":"assistant","content":""}`, ""),
			sseChunk(`{"content":"Hello "}`, ""),
			sseChunk(`{"content":"world"}`, ""),
			sseChunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"ls","arguments":"{\"path\":"}}]}`, ""),
			sseChunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\".\"}"}}]}`, ""),
			sseChunk(`{}`, "tool_calls"),
		} {
			fmt.Fprint(w, chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(&OpenAIConfig{
		ID:      "local",
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Models:  []types.Model{{ID: "mock", ContextWindow: 8000}},
	})
	require.NoError(t, err)

	r := NewRegistry(nil)
	r.Register(p)
	m, err := r.FindModel("local/mock")
	require.NoError(t, err)

	var deltas []string
	msg := r.StreamFunc()(context.Background(), m, Context{Messages: []types.AgentMessage{types.NewUserMessage("hi")}}, Options{}, func(ev StreamEvent) {
		if ev.Type == EventTextDelta {
			deltas = append(deltas, ev.Delta)
		}
	})

	require.Equal(t, types.StopReasonToolUse, msg.StopReason, msg.ErrorMessage)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "Hello world", msg.Content.Texts())
	assert.Equal(t, []string{"Hello ", "world"}, deltas)
	calls := msg.Content.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, map[string]any{"path": "."}, calls[0].Arguments)
}
