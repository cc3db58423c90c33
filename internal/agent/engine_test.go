package agent_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pi-agent/pi/internal/agent"
	"github.com/pi-agent/pi/internal/compaction"
	"github.com/pi-agent/pi/internal/event"
	"github.com/pi-agent/pi/internal/permission"
	"github.com/pi-agent/pi/internal/provider"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/internal/tool"
	"github.com/pi-agent/pi/pkg/types"
)

var _ = Describe("Engine", func() {
	var (
		model    *scriptedModel
		store    *session.Store
		tools    *tool.Registry
		settings *types.Settings
		rec      *recorder
		engine   *agent.Engine
		ctx      context.Context

		checker   *permission.Checker
		compactor *compaction.Manager
		mcpTools  *tool.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		model = &scriptedModel{}
		store = session.InMemory(GinkgoT().TempDir())
		tools = tool.NewRegistry(store.Cwd())
		settings = &types.Settings{Retry: &types.RetrySettings{Enabled: boolPtr(false)}}
		rec = &recorder{}
		checker = nil
		compactor = nil
		mcpTools = nil
	})

	// start builds the engine lazily so specs can adjust its collaborators.
	start := func() {
		var err error
		engine, err = agent.New(agent.Config{
			Store:        store,
			Stream:       model.stream,
			Model:        testModel,
			Tools:        tools,
			MCPTools:     mcpTools,
			Settings:     settings,
			Permission:   checker,
			Compactor:    compactor,
			SystemPrompt: "You are a test.",
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(engine.Subscribe(rec.add))
		DeferCleanup(func() { engine.Abort(); waitIdle(engine.Wait) })
	}

	prompt := func(text string) {
		GinkgoHelper()
		Expect(engine.Prompt(ctx, text)).To(Succeed())
		waitIdle(engine.Wait)
	}

	roles := func() []string {
		var out []string
		for _, m := range engine.Messages() {
			out = append(out, m.MessageRole())
		}
		return out
	}

	Describe("Prompt", func() {
		It("appends the prompt and the reply and publishes a complete run", func() {
			model.then(say("hello"))
			start()
			prompt("hi")

			Expect(roles()).To(Equal([]string{types.RoleUser, types.RoleAssistant}))
			Expect(engine.LastAssistantText()).To(Equal("hello"))
			Expect(rec.types()).To(Equal([]event.Type{
				event.AgentStart,
				event.TurnStart,
				event.MessageStart, event.MessageEnd,
				event.MessageStart, event.MessageUpdate, event.MessageEnd,
				event.TurnEnd,
				event.AgentEnd,
			}))
			Expect(model.lastCall().SystemPrompt).To(Equal("You are a test."))
		})

		It("normalizes the usage total of the reply", func() {
			model.then(say("hello"))
			start()
			prompt("hi")

			last := engine.Messages()[1].(*types.AssistantMessage)
			Expect(last.Usage.TotalTokens).To(Equal(last.Usage.Sum()))
			Expect(engine.Stats().Tokens.Total).To(Equal(int64(19)))
		})

		It("rejects a second prompt while running", func() {
			started, release := make(chan struct{}), make(chan struct{})
			model.then(hang(started, release))
			start()

			Expect(engine.Prompt(ctx, "first")).To(Succeed())
			Eventually(started).Should(BeClosed())

			err := engine.Prompt(ctx, "second")
			Expect(agent.IsConcurrencyError(err)).To(BeTrue())
			Expect(err).To(MatchError("Agent is already processing a prompt. Use steer() or followUp() to queue messages, or wait for completion."))
			Expect(engine.SetModel(testModel)).To(MatchError(ContainSubstring("before calling setModel")))

			close(release)
			waitIdle(engine.Wait)
			Expect(engine.IsStreaming()).To(BeFalse())
			Expect(engine.Prompt(ctx, "third")).To(Succeed())
		})

		It("fails without a model", func() {
			start()
			Expect(engine.SetModel(types.Model{})).To(Succeed())
			Expect(engine.Prompt(ctx, "hi")).To(MatchError(agent.ErrNoModel))
			Expect(engine.IsStreaming()).To(BeFalse())
		})

		It("ends the run on a model error and allows continuing", func() {
			model.then(fail("invalid request"), say("recovered"))
			start()
			prompt("hi")

			last := engine.Messages()[1].(*types.AssistantMessage)
			Expect(last.StopReason).To(Equal(types.StopReasonError))
			Expect(model.callCount()).To(Equal(1))

			Expect(engine.Continue(ctx)).To(Succeed())
			waitIdle(engine.Wait)
			Expect(engine.LastAssistantText()).To(Equal("recovered"))
			Expect(engine.Continue(ctx)).To(MatchError(ContainSubstring("Cannot continue")))
		})
	})

	Describe("Abort", func() {
		It("records an aborted reply with consistent usage", func() {
			started := make(chan struct{})
			model.then(hang(started, nil))
			start()

			Expect(engine.Prompt(ctx, "long")).To(Succeed())
			Eventually(started).Should(BeClosed())
			engine.Abort()
			waitIdle(engine.Wait)

			last := engine.Messages()[1].(*types.AssistantMessage)
			Expect(last.StopReason).To(Equal(types.StopReasonAborted))
			Expect(last.Usage.TotalTokens).To(Equal(last.Usage.Input + last.Usage.Output + last.Usage.CacheRead + last.Usage.CacheWrite))
			Expect(rec.ofType(event.AgentEnd)).To(HaveLen(1))
		})

		It("keeps the streamed part of an interrupted reply", func() {
			started := make(chan struct{})
			model.then(streamThenHang("Hel", started))
			start()

			Expect(engine.Prompt(ctx, "say hello")).To(Succeed())
			Eventually(started).Should(BeClosed())
			engine.Abort()
			waitIdle(engine.Wait)

			last := engine.Messages()[1].(*types.AssistantMessage)
			Expect(last.StopReason).To(Equal(types.StopReasonAborted))
			Expect(last.ErrorMessage).To(Equal(provider.AbortedMessage))
			Expect(last.Content.Texts()).To(Equal("Hel"))

			updates := rec.ofType(event.MessageUpdate)
			Expect(updates).To(HaveLen(1))
			Expect(updates[0].Data.(event.MessageUpdateData).Delta).To(Equal("Hel"))
			Expect(model.callCount()).To(Equal(1))
		})
	})

	Describe("queues", func() {
		It("counts one pending message per steer", func() {
			started, release := make(chan struct{}), make(chan struct{})
			model.then(hang(started, release))
			start()

			Expect(engine.Prompt(ctx, "first")).To(Succeed())
			Eventually(started).Should(BeClosed())

			before := engine.PendingMessageCount()
			engine.Steer("one")
			Expect(engine.PendingMessageCount()).To(Equal(before + 1))
			engine.Steer("two")
			Expect(engine.PendingMessageCount()).To(Equal(before + 2))

			engine.Abort()
			waitIdle(engine.Wait)
		})

		It("delivers a steer queued during a reply without tool calls before the next call", func() {
			started, release := make(chan struct{}), make(chan struct{})
			model.then(hang(started, release), say("steered"))
			start()

			Expect(engine.Prompt(ctx, "first")).To(Succeed())
			Eventually(started).Should(BeClosed())
			engine.Steer("actually, do this")
			close(release)
			waitIdle(engine.Wait)

			Expect(roles()).To(Equal([]string{types.RoleUser, types.RoleAssistant, types.RoleUser, types.RoleAssistant}))
			Expect(model.callCount()).To(Equal(2))
			sent := model.lastCall().Messages
			Expect(sent[len(sent)-1].(*types.UserMessage).Content.PlainText()).To(Equal("actually, do this"))
			Expect(engine.LastAssistantText()).To(Equal("steered"))
			Expect(engine.PendingMessageCount()).To(BeZero())
			Expect(rec.ofType(event.AgentEnd)).To(HaveLen(1))
		})

		It("picks up a follow-up queued as the run ends", func() {
			model.then(say("first"), say("second"))
			start()
			var once sync.Once
			DeferCleanup(engine.Subscribe(func(ev event.Event) {
				if ev.Type == event.AgentEnd {
					once.Do(func() { engine.FollowUp("late") })
				}
			}))

			prompt("hi")

			Expect(roles()).To(Equal([]string{types.RoleUser, types.RoleAssistant, types.RoleUser, types.RoleAssistant}))
			Expect(engine.LastAssistantText()).To(Equal("second"))
			Expect(engine.PendingMessageCount()).To(BeZero())
			Expect(engine.IsStreaming()).To(BeFalse())
			Expect(rec.ofType(event.AgentEnd)).To(HaveLen(2))
		})

		It("counts queued messages and delivers follow-ups after the run", func() {
			started, release := make(chan struct{}), make(chan struct{})
			model.then(hang(started, release), say("after follow-up"))
			start()

			Expect(engine.Prompt(ctx, "first")).To(Succeed())
			Eventually(started).Should(BeClosed())

			before := engine.PendingMessageCount()
			engine.FollowUp("and then")
			Expect(engine.PendingMessageCount()).To(Equal(before + 1))

			close(release)
			waitIdle(engine.Wait)

			Expect(engine.PendingMessageCount()).To(BeZero())
			Expect(roles()).To(Equal([]string{types.RoleUser, types.RoleAssistant, types.RoleUser, types.RoleAssistant}))
			Expect(engine.LastAssistantText()).To(Equal("after follow-up"))
			Expect(rec.ofType(event.AgentEnd)).To(HaveLen(1))
		})

		It("steering skips the remaining tool calls", func() {
			tools.Register(echoTool(func() { engine.Steer("change of plan") }))
			model.then(
				callTools(call("c1", "echo", map[string]any{"text": "one"}), call("c2", "echo", map[string]any{"text": "two"})),
				say("ok"),
			)
			start()
			prompt("go")

			msgs := engine.Messages()
			Expect(roles()).To(Equal([]string{
				types.RoleUser, types.RoleAssistant,
				types.RoleToolResult, types.RoleToolResult,
				types.RoleUser, types.RoleAssistant,
			}))
			first := msgs[2].(*types.ToolResultMessage)
			Expect(first.IsError).To(BeFalse())
			Expect(first.Content.Texts()).To(Equal("one"))

			skipped := msgs[3].(*types.ToolResultMessage)
			Expect(skipped.ToolCallID).To(Equal("c2"))
			Expect(skipped.IsError).To(BeTrue())
			Expect(skipped.Content.Texts()).To(Equal("Skipped due to queued user message."))

			Expect(msgs[4].(*types.UserMessage).Content.PlainText()).To(Equal("change of plan"))
			Expect(model.callCount()).To(Equal(2))
		})

		It("clears queued messages", func() {
			start()
			engine.Steer("a")
			engine.FollowUp("b")
			steering, followUp := engine.ClearQueues()
			Expect(steering).To(Equal([]string{"a"}))
			Expect(followUp).To(Equal([]string{"b"}))
			Expect(engine.PendingMessageCount()).To(BeZero())
		})
	})

	Describe("tools", func() {
		It("runs tools and feeds results back to the model", func() {
			tools.Register(echoTool(nil))
			model.then(callTools(call("c1", "echo", map[string]any{"text": "pong"})), say("done"))
			start()
			prompt("ping")

			Expect(roles()).To(Equal([]string{types.RoleUser, types.RoleAssistant, types.RoleToolResult, types.RoleAssistant}))
			Expect(rec.ofType(event.ToolExecutionStart)).To(HaveLen(1))
			end := rec.ofType(event.ToolExecutionEnd)[0].Data.(event.ToolExecutionEndData)
			Expect(end.Content.Texts()).To(Equal("pong"))
			Expect(rec.ofType(event.TurnStart)).To(HaveLen(2))
			Expect(model.lastCall().Tools).To(HaveLen(1))
		})

		It("resolves built-in, then extension, then MCP tools", func() {
			tools.Register(echoTool(nil))
			mcpTools = tool.NewRegistry(store.Cwd())
			mcpTools.Register(fixedTool("echo", "from mcp"))
			mcpTools.Register(fixedTool("lookup", "from mcp"))
			mcpTools.Register(fixedTool("srv_search", "searched"))
			model.then(
				callTools(
					call("c1", "echo", map[string]any{"text": "built-in"}),
					call("c2", "lookup", nil),
					call("c3", "srv_search", nil),
				),
				say("done"),
			)
			start()
			engine.SetExtensionHost(spawnLookupExtension(store.Cwd()))
			prompt("go")

			msgs := engine.Messages()
			Expect(msgs[2].(*types.ToolResultMessage).Content.Texts()).To(Equal("built-in"))
			Expect(msgs[3].(*types.ToolResultMessage).Content.Texts()).To(Equal("from extension"))
			Expect(msgs[4].(*types.ToolResultMessage).Content.Texts()).To(Equal("searched"))

			var names []string
			for _, info := range model.lastCall().Tools {
				names = append(names, info.Name)
			}
			Expect(names).To(Equal([]string{"echo", "lookup", "srv_search"}))
		})

		It("reports unknown tools", func() {
			model.then(callTools(call("c1", "nope", nil)), say("sorry"))
			start()
			prompt("x")

			res := engine.Messages()[2].(*types.ToolResultMessage)
			Expect(res.IsError).To(BeTrue())
			Expect(res.Content.Texts()).To(Equal("Tool nope not found"))
		})

		It("turns a denied approval into an error result", func() {
			tools.Register(echoTool(nil))
			checker = permission.NewChecker(permission.Rules{Default: permission.ActionAsk}, "", func(context.Context, permission.Request) (permission.Decision, error) {
				return permission.Deny, nil
			})
			model.then(callTools(call("c1", "echo", map[string]any{"text": "x"})), say("fine"))
			start()
			prompt("x")

			res := engine.Messages()[2].(*types.ToolResultMessage)
			Expect(res.IsError).To(BeTrue())
			Expect(res.Content.Texts()).To(Equal("Tool call denied by user."))
			Expect(model.callCount()).To(Equal(2))
		})

		It("ends the run when approval is aborted", func() {
			tools.Register(echoTool(nil))
			checker = permission.NewChecker(permission.Rules{Default: permission.ActionAsk}, "", func(context.Context, permission.Request) (permission.Decision, error) {
				return permission.Abort, nil
			})
			model.then(callTools(call("c1", "echo", map[string]any{"text": "x"}), call("c2", "echo", map[string]any{"text": "y"})))
			start()
			prompt("x")

			Expect(roles()).To(Equal([]string{types.RoleUser, types.RoleAssistant, types.RoleToolResult, types.RoleToolResult}))
			Expect(model.callCount()).To(Equal(1))
			Expect(rec.ofType(event.AgentEnd)).To(HaveLen(1))
		})
	})

	Describe("compaction", func() {
		BeforeEach(func() {
			settings.Compaction = &types.CompactionSettings{KeepRecentTokens: 1}
		})

		It("is cancelled by a hook", func() {
			compactor = compaction.NewManager(nil, compaction.HookFuncs{
				Before: func(context.Context, *compaction.BeforeCompactEvent) (*compaction.BeforeCompactResult, error) {
					return &compaction.BeforeCompactResult{Cancel: true}, nil
				},
			})
			model.then(say("one"), say("two"))
			start()
			prompt("first")
			prompt("second")
			leaf := store.LeafID()

			_, err := engine.Compact(ctx)
			Expect(errors.Is(err, compaction.ErrCompactionCancelled)).To(BeTrue())
			Expect(err).To(MatchError("Compaction cancelled"))
			Expect(store.LeafID()).To(Equal(leaf))
			Expect(rec.ofType(event.SessionCompacted)).To(BeEmpty())
		})

		It("appends a compaction entry and starts the context with its summary", func() {
			compactor = compaction.NewManager(nil)
			model.then(say("one"), say("two"))
			start()
			prompt("first")
			prompt("second")

			res, err := engine.Compact(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Summary).NotTo(BeEmpty())

			leaf, ok := store.Leaf()
			Expect(ok).To(BeTrue())
			Expect(leaf).To(BeAssignableToTypeOf(&types.CompactionEntry{}))
			Expect(engine.Messages()[0]).To(BeAssignableToTypeOf(&types.CompactionSummaryMessage{}))
			Expect(rec.ofType(event.SessionCompacted)).To(HaveLen(1))
		})
	})

	Describe("session tree", func() {
		It("navigates to a user message and returns its text", func() {
			model.then(say("one"), say("two"))
			start()
			prompt("first")
			prompt("second")

			secondUser := store.Branch("")[2].Base().ID
			res, err := engine.NavigateTree(ctx, secondUser, agent.NavigateOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.EditorText).To(Equal("second"))
			Expect(roles()).To(Equal([]string{types.RoleUser, types.RoleAssistant}))
			Expect(rec.ofType(event.SessionTree)).To(HaveLen(1))
		})

		It("summarizes the abandoned branch when asked", func() {
			compactor = compaction.NewManager(nil)
			model.then(say("one"), say("two"))
			start()
			prompt("first")
			prompt("second")

			firstReply := store.Branch("")[1].Base().ID
			res, err := engine.NavigateTree(ctx, firstReply, agent.NavigateOptions{Summarize: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.SummaryEntryID).NotTo(BeEmpty())
			Expect(store.LeafID()).To(Equal(res.SummaryEntryID))
			Expect(engine.Messages()[2]).To(BeAssignableToTypeOf(&types.BranchSummaryMessage{}))
		})

		It("rejects unknown targets", func() {
			start()
			_, err := engine.NavigateTree(ctx, "missing", agent.NavigateOptions{})
			var refErr *session.ReferenceError
			Expect(errors.As(err, &refErr)).To(BeTrue())
		})

		It("branches from a user message into a new session", func() {
			model.then(say("one"), say("two"))
			start()
			prompt("first")
			prompt("second")
			original := engine.Session()

			secondUser := store.Branch("")[2].Base().ID
			text, err := engine.Branch(secondUser)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("second"))
			Expect(engine.Session()).NotTo(BeIdenticalTo(original))
			Expect(roles()).To(Equal([]string{types.RoleUser, types.RoleAssistant}))
			Expect(rec.ofType(event.SessionSwitched)).To(HaveLen(1))
		})

		It("refuses to branch from a non-user entry", func() {
			model.then(say("one"))
			start()
			prompt("first")

			reply := store.Branch("")[1].Base().ID
			_, err := engine.Branch(reply)
			Expect(err).To(MatchError(agent.ErrInvalidBranchEntry))
		})
	})
})
