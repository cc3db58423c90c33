package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pi-agent/pi/internal/compaction"
	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/event"
	"github.com/pi-agent/pi/internal/extension"
	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/internal/permission"
	"github.com/pi-agent/pi/internal/provider"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/internal/tool"
	"github.com/pi-agent/pi/pkg/types"
)

// ModelLookup resolves a model reference stored in a session.
// *provider.Registry implements it.
type ModelLookup interface {
	GetModel(providerID, modelID string) (types.Model, error)
}

// Config holds the collaborators of an Engine. Store and Stream are
// required; everything else has a usable default.
type Config struct {
	Store  *session.Store
	Stream provider.StreamFunc
	Model  types.Model
	// Models restores the model of a session opened with SwitchSession.
	Models        ModelLookup
	ThinkingLevel types.ThinkingLevel

	Tools *tool.Registry
	// MCPTools are consulted after built-in and extension tools.
	MCPTools   *tool.Registry
	Compactor  *compaction.Manager
	Permission *permission.Checker
	Bus        *event.Bus
	Settings   *types.Settings

	// SystemPrompt replaces the generated prompt when set.
	SystemPrompt string
	AgentDir     string
}

// Engine runs prompts against one session. It is safe for concurrent use;
// runs themselves are serialized.
type Engine struct {
	mu sync.Mutex

	store        *session.Store
	model        types.Model
	thinking     types.ThinkingLevel
	systemPrompt string
	ext          *extension.Host

	stream    provider.StreamFunc
	models    ModelLookup
	tools     *tool.Registry
	mcpTools  *tool.Registry
	compactor *compaction.Manager
	perm      *permission.Checker
	bus       *event.Bus
	settings  *types.Settings

	steering     []*types.UserMessage
	followUp     []*types.UserMessage
	steeringMode string
	followUpMode string

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	log zerolog.Logger
}

// New creates an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("agent: store is required")
	}
	if cfg.Stream == nil {
		return nil, errors.New("agent: stream function is required")
	}

	e := &Engine{
		store:        cfg.Store,
		model:        cfg.Model,
		thinking:     cfg.ThinkingLevel,
		stream:       cfg.Stream,
		models:       cfg.Models,
		tools:        cfg.Tools,
		mcpTools:     cfg.MCPTools,
		compactor:    cfg.Compactor,
		perm:         cfg.Permission,
		bus:          cfg.Bus,
		settings:     cfg.Settings,
		steeringMode: config.QueueOneAtATime,
		followUpMode: config.QueueOneAtATime,
		log:          logging.Component("agent"),
	}
	if e.tools == nil {
		e.tools = tool.NewRegistry(cfg.Store.Cwd())
	}
	if e.compactor == nil {
		e.compactor = compaction.NewManager(nil)
	}
	if e.bus == nil {
		e.bus = event.NewBus()
	}
	if cfg.Settings != nil {
		e.steeringMode = config.QueueMode(cfg.Settings.SteeringMode)
		e.followUpMode = config.QueueMode(cfg.Settings.FollowUpMode)
		if e.thinking == "" {
			e.thinking = types.ParseThinkingLevel(cfg.Settings.DefaultThinkingLevel)
		}
	}
	if e.thinking == "" {
		e.thinking = types.ThinkingOff
	}

	e.systemPrompt = cfg.SystemPrompt
	if e.systemPrompt == "" {
		sp := &SystemPrompt{Cwd: cfg.Store.Cwd(), AgentDir: cfg.AgentDir, Tools: e.toolIDs()}
		e.systemPrompt = sp.Build()
	}
	return e, nil
}

// Bus returns the bus the engine publishes on.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Subscribe registers fn for every event of the engine and returns the
// unsubscribe function.
func (e *Engine) Subscribe(fn func(event.Event)) func() {
	return e.bus.SubscribeAll(fn)
}

func (e *Engine) publish(t event.Type, data any) {
	e.bus.Publish(event.Event{Type: t, Data: data})
}

// Session returns the store the engine currently writes to. Branch and
// SwitchSession replace it.
func (e *Engine) Session() *session.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store
}

func (e *Engine) setStore(s *session.Store) {
	e.mu.Lock()
	e.store = s
	e.mu.Unlock()
	if e.perm != nil {
		e.perm.Reset()
	}
	e.publish(event.SessionSwitched, event.SessionSwitchedData{SessionID: s.SessionID(), SessionFile: s.SessionFile()})
}

// Messages returns the context of the active branch.
func (e *Engine) Messages() []types.AgentMessage {
	return e.Session().BuildContext().Messages
}

// Model returns the current model.
func (e *Engine) Model() types.Model {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// ThinkingLevel returns the current thinking level.
func (e *Engine) ThinkingLevel() types.ThinkingLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thinking
}

// SystemPrompt returns the system prompt sent with every model call.
func (e *Engine) SystemPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.systemPrompt
}

// SetSystemPrompt replaces the system prompt for the next model call.
func (e *Engine) SetSystemPrompt(prompt string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.systemPrompt = prompt
}

// SetModel switches the model and records the change in the session.
func (e *Engine) SetModel(m types.Model) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return &ConcurrencyError{Op: "setModel"}
	}
	e.model = m
	store := e.store
	e.mu.Unlock()

	store.AppendModelChange(m.Provider, m.ID)
	return nil
}

// SetThinkingLevel changes the thinking level and records the change in
// the session.
func (e *Engine) SetThinkingLevel(level types.ThinkingLevel) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return &ConcurrencyError{Op: "setThinkingLevel"}
	}
	e.thinking = level
	store := e.store
	e.mu.Unlock()

	store.AppendThinkingLevelChange(level)
	return nil
}

// SetExtensionHost attaches host. Its tools become available to the model
// and its hooks take part in tool calls and compaction. A nil host detaches.
func (e *Engine) SetExtensionHost(host *extension.Host) {
	e.mu.Lock()
	e.ext = host
	e.mu.Unlock()
	if host != nil {
		host.SetEntriesFunc(func() []types.Entry { return e.Session().Entries() })
	}
}

// ExtensionHost returns the attached host, if any.
func (e *Engine) ExtensionHost() *extension.Host {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ext
}

func (e *Engine) compactionHooks() []compaction.Hook {
	if ext := e.ExtensionHost(); ext != nil {
		return []compaction.Hook{ext}
	}
	return nil
}

// IsStreaming reports whether a run or another exclusive operation is in
// progress.
func (e *Engine) IsStreaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// begin claims the engine for op. The returned context is cancelled by
// Abort or when end is called.
func (e *Engine) begin(parent context.Context, op string) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, &ConcurrencyError{Op: op}
	}
	ctx, cancel := context.WithCancel(parent)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	return ctx, nil
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.release()
}

// endIfIdle ends the run unless canContinue is set, ctx is still live and
// messages are queued. The queue check and the release share one critical
// section.
func (e *Engine) endIfIdle(ctx context.Context, canContinue bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if canContinue && ctx.Err() == nil && len(e.steering)+len(e.followUp) > 0 {
		return false
	}
	e.release()
	return true
}

func (e *Engine) release() {
	if e.cancel != nil {
		e.cancel()
	}
	e.running = false
	e.cancel = nil
	close(e.done)
}

// Prompt appends a user message and starts a run in the background. It
// fails with *ConcurrencyError while another run is active. Values of ctx
// are kept for the run but its cancellation is not; use Abort.
func (e *Engine) Prompt(ctx context.Context, text string) error {
	return e.PromptMessage(ctx, types.NewUserMessage(text))
}

// PromptMessage is Prompt for a prepared message, e.g. one with images.
func (e *Engine) PromptMessage(ctx context.Context, msg *types.UserMessage) error {
	runCtx, err := e.begin(context.WithoutCancel(ctx), "prompt")
	if err != nil {
		return err
	}
	if e.Model().ID == "" {
		e.end()
		return ErrNoModel
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = types.NowMillis()
	}

	e.publish(event.AgentStart, nil)
	e.publish(event.TurnStart, nil)
	produced := []types.AgentMessage{e.deliver(msg)}
	for _, m := range e.takeSteering() {
		produced = append(produced, e.deliver(m))
	}

	go e.run(runCtx, produced)
	return nil
}

// Continue starts a run from the current context without a new message,
// for example to retry after a failed call. The last message must not be
// an assistant message.
func (e *Engine) Continue(ctx context.Context) error {
	runCtx, err := e.begin(context.WithoutCancel(ctx), "continue")
	if err != nil {
		return err
	}
	msgs := e.Messages()
	if len(msgs) == 0 {
		e.end()
		return errors.New("No messages to continue from")
	}
	if last, ok := msgs[len(msgs)-1].(*types.AssistantMessage); ok && !last.IsFailed() {
		e.end()
		return errors.New("Cannot continue from message role: assistant")
	}

	e.publish(event.AgentStart, nil)
	e.publish(event.TurnStart, nil)
	go e.run(runCtx, nil)
	return nil
}

// Abort cancels the active run or operation. It does not wait; use Wait.
func (e *Engine) Abort() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		e.log.Debug().Msg("abort requested")
		cancel()
	}
}

// Wait blocks until the engine is idle or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Steer queues text for delivery into the running turn.
func (e *Engine) Steer(text string) {
	e.mu.Lock()
	e.steering = append(e.steering, types.NewUserMessage(text))
	e.mu.Unlock()
	e.publishQueue()
}

// FollowUp queues text to be sent once the current run has no more tool
// calls.
func (e *Engine) FollowUp(text string) {
	e.mu.Lock()
	e.followUp = append(e.followUp, types.NewUserMessage(text))
	e.mu.Unlock()
	e.publishQueue()
}

// PendingMessageCount returns the number of queued steering and follow-up
// messages.
func (e *Engine) PendingMessageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.steering) + len(e.followUp)
}

// ClearQueues drops every queued message and returns their texts.
func (e *Engine) ClearQueues() (steering, followUp []string) {
	e.mu.Lock()
	steering, followUp = queueTexts(e.steering), queueTexts(e.followUp)
	e.steering, e.followUp = nil, nil
	e.mu.Unlock()
	e.publishQueue()
	return steering, followUp
}

// SetSteeringMode sets how many steering messages one delivery takes:
// config.QueueOneAtATime or config.QueueAll.
func (e *Engine) SetSteeringMode(mode string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steeringMode = config.QueueMode(mode)
}

// SetFollowUpMode is SetSteeringMode for follow-up messages.
func (e *Engine) SetFollowUpMode(mode string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.followUpMode = config.QueueMode(mode)
}

func (e *Engine) takeSteering() []types.AgentMessage {
	e.mu.Lock()
	msgs := take(&e.steering, e.steeringMode)
	e.mu.Unlock()
	if len(msgs) > 0 {
		e.publishQueue()
	}
	return msgs
}

func (e *Engine) takeFollowUp() []types.AgentMessage {
	e.mu.Lock()
	msgs := take(&e.followUp, e.followUpMode)
	e.mu.Unlock()
	if len(msgs) > 0 {
		e.publishQueue()
	}
	return msgs
}

func take(queue *[]*types.UserMessage, mode string) []types.AgentMessage {
	q := *queue
	if len(q) == 0 {
		return nil
	}
	n := 1
	if mode == config.QueueAll {
		n = len(q)
	}
	out := make([]types.AgentMessage, 0, n)
	for _, m := range q[:n] {
		out = append(out, m)
	}
	*queue = q[n:]
	return out
}

func queueTexts(q []*types.UserMessage) []string {
	out := make([]string, 0, len(q))
	for _, m := range q {
		out = append(out, m.Content.PlainText())
	}
	return out
}

func (e *Engine) publishQueue() {
	e.mu.Lock()
	data := event.QueueUpdateData{Steering: queueTexts(e.steering), FollowUp: queueTexts(e.followUp)}
	e.mu.Unlock()
	e.publish(event.QueueUpdate, data)
}

// State is a snapshot of the engine.
type State struct {
	Model         types.Model         `json:"model"`
	ThinkingLevel types.ThinkingLevel `json:"thinkingLevel"`
	IsStreaming   bool                `json:"isStreaming"`
	MessageCount  int                 `json:"messageCount"`
	PendingCount  int                 `json:"pendingMessageCount"`
	SteeringMode  string              `json:"steeringMode"`
	FollowUpMode  string              `json:"followUpMode"`
	SessionID     string              `json:"sessionId"`
	SessionFile   string              `json:"sessionFile,omitempty"`
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	store := e.Session()
	count := len(store.BuildContext().Messages)

	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Model:         e.model,
		ThinkingLevel: e.thinking,
		IsStreaming:   e.running,
		MessageCount:  count,
		PendingCount:  len(e.steering) + len(e.followUp),
		SteeringMode:  e.steeringMode,
		FollowUpMode:  e.followUpMode,
		SessionID:     store.SessionID(),
		SessionFile:   store.SessionFile(),
	}
}

// TokenStats sums token usage.
type TokenStats struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cacheRead"`
	CacheWrite int64 `json:"cacheWrite"`
	Total      int64 `json:"total"`
}

// Stats summarizes the messages of the active branch.
type Stats struct {
	SessionID         string     `json:"sessionId"`
	SessionFile       string     `json:"sessionFile,omitempty"`
	UserMessages      int        `json:"userMessages"`
	AssistantMessages int        `json:"assistantMessages"`
	ToolCalls         int        `json:"toolCalls"`
	ToolResults       int        `json:"toolResults"`
	TotalMessages     int        `json:"totalMessages"`
	Tokens            TokenStats `json:"tokens"`
	Cost              float64    `json:"cost"`
}

// Stats counts messages, tokens and cost on the active branch.
func (e *Engine) Stats() Stats {
	store := e.Session()
	msgs := store.BuildContext().Messages
	s := Stats{SessionID: store.SessionID(), SessionFile: store.SessionFile(), TotalMessages: len(msgs)}
	for _, m := range msgs {
		switch m := m.(type) {
		case *types.UserMessage:
			s.UserMessages++
		case *types.AssistantMessage:
			s.AssistantMessages++
			s.ToolCalls += len(m.Content.ToolCalls())
			s.Tokens.Input += m.Usage.Input
			s.Tokens.Output += m.Usage.Output
			s.Tokens.CacheRead += m.Usage.CacheRead
			s.Tokens.CacheWrite += m.Usage.CacheWrite
			if m.Usage.Cost != nil {
				s.Cost += m.Usage.Cost.Total
			}
		case *types.ToolResultMessage:
			s.ToolResults++
		}
	}
	s.Tokens.Total = s.Tokens.Input + s.Tokens.Output + s.Tokens.CacheRead + s.Tokens.CacheWrite
	return s
}

// LastAssistantText returns the text of the newest assistant message that
// has any, skipping empty aborted ones.
func (e *Engine) LastAssistantText() string {
	msgs := e.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		a, ok := msgs[i].(*types.AssistantMessage)
		if !ok {
			continue
		}
		if text := a.Content.Texts(); text != "" {
			return text
		}
	}
	return ""
}
