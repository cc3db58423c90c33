package extension_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pi-agent/pi/internal/compaction"
	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/extension"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/pkg/types"
)

// extensionFile creates an empty file whose name selects the helper scenario.
func extensionFile(dir, scenario string) string {
	path := filepath.Join(dir, scenario+".ext")
	Expect(os.WriteFile(path, nil, 0o755)).To(Succeed())
	return path
}

func spawn(ctx context.Context, paths []string, opts ...extension.Option) (*extension.Host, *extension.Manifest, error) {
	opts = append([]extension.Option{extension.WithCommand(helperCommand)}, opts...)
	return extension.Spawn(ctx, paths, filepath.Dir(paths[0]), opts...)
}

var _ = Describe("Host", func() {
	var (
		ctx context.Context
		dir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
	})

	Describe("Spawn", func() {
		It("collects every registration into the manifest", func() {
			host, manifest, err := spawn(ctx, []string{extensionFile(dir, "tools")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			Expect(manifest.Extensions).To(HaveLen(1))
			ext := manifest.Extensions[0]
			Expect(ext.Path).To(HaveSuffix("tools.ext"))
			Expect(ext.Tools).To(HaveLen(7))
			Expect(ext.Commands).To(ConsistOf(extension.CommandDef{Name: "greet", Description: "Say hello"}))
			Expect(ext.Flags).To(HaveLen(1))
			Expect(ext.Flags[0].Name).To(Equal("loud"))

			names := make([]string, 0)
			for _, t := range host.Tools() {
				names = append(names, t.Name)
			}
			Expect(names).To(ContainElement("hello_tool"))
			Expect(sort.StringsAreSorted(names)).To(BeTrue())
			Expect(host.Commands()).To(Equal(ext.Commands))
		})

		It("expands glob patterns", func() {
			extensionFile(dir, "tools")
			extensionFile(dir, "hooks_cancel")
			host, manifest, err := spawn(ctx, []string{filepath.Join(dir, "*.ext")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()
			Expect(manifest.Extensions).To(HaveLen(2))
		})

		It("fails on a tool without a name", func() {
			_, _, err := spawn(ctx, []string{extensionFile(dir, "bad_manifest")})
			var he *extension.HostError
			Expect(errors.As(err, &he)).To(BeTrue())
			Expect(he.Message).To(Equal("malformed manifest"))
			Expect(he.ExtensionPath).To(HaveSuffix("bad_manifest.ext"))
		})

		It("fails when the handshake times out", func() {
			_, _, err := spawn(ctx, []string{extensionFile(dir, "slow")},
				extension.WithHandshakeTimeout(200*time.Millisecond))
			var he *extension.HostError
			Expect(errors.As(err, &he)).To(BeTrue())
			Expect(he.Error()).To(ContainSubstring("handshake timed out"))
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})

		It("rejects a tool registered by two extensions", func() {
			sub := filepath.Join(dir, "other")
			Expect(os.Mkdir(sub, 0o755)).To(Succeed())
			_, _, err := spawn(ctx, []string{extensionFile(dir, "tools"), extensionFile(sub, "tools")})
			Expect(err).To(MatchError(ContainSubstring("already registered")))
		})

		It("fails for a missing path", func() {
			_, _, err := extension.Spawn(ctx, []string{filepath.Join(dir, "missing.js")}, dir)
			var he *extension.HostError
			Expect(errors.As(err, &he)).To(BeTrue())
			Expect(he.Message).To(Equal("extension not found"))
		})
	})

	Describe("CallTool", func() {
		var host *extension.Host

		BeforeEach(func() {
			var err error
			host, _, err = spawn(ctx, []string{extensionFile(dir, "tools")})
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			host.Close()
		})

		It("round-trips content and details", func() {
			res, err := host.CallTool(ctx, "hello_tool", "call-1", map[string]any{"name": "Rust"}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())

			content, err := json.Marshal(res.Content)
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(MatchJSON(`[{"type":"text","text":"Hello Rust"}]`))
			Expect(res.Details).To(Equal(map[string]any{"greeted": "Rust"}))
		})

		It("wraps a string result in a text block", func() {
			res, err := host.CallTool(ctx, "string_tool", "c", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).To(Equal(types.Content{types.Text("plain")}))
		})

		It("turns a null result into empty content", func() {
			res, err := host.CallTool(ctx, "null_tool", "c", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).To(BeEmpty())
			Expect(res.IsError).To(BeFalse())
		})

		It("reports an extension error as an error result", func() {
			res, err := host.CallTool(ctx, "fail_tool", "c", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
			Expect(res.Content.Texts()).To(Equal("boom"))
		})

		It("rejects unknown tools", func() {
			_, err := host.CallTool(ctx, "nope", "c", nil, nil)
			Expect(err).To(MatchError(extension.ErrUnknownTool))
		})

		It("matches responses to calls by id", func() {
			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				order []string
			)
			for _, ms := range []float64{300, 10, 150} {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					res, err := host.CallTool(ctx, "sleep_tool", "c", map[string]any{"ms": ms}, nil)
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					order = append(order, res.Content.Texts())
					mu.Unlock()
				}()
			}
			wg.Wait()
			Expect(order).To(Equal([]string{"slept 10", "slept 150", "slept 300"}))
		})

		It("honours context cancellation", func() {
			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err := host.CallTool(cctx, "sleep_tool", "c", map[string]any{"ms": 1000}, nil)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("fails every pending call with the same error when the process dies", func() {
			errs := make([]error, 3)
			var wg sync.WaitGroup
			for i := range errs {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, errs[i] = host.CallTool(ctx, "hang_tool", "c", nil, nil)
				}()
			}
			wg.Wait()

			var first *extension.HostError
			Expect(errors.As(errs[0], &first)).To(BeTrue())
			Expect(first.Message).To(Equal("extension process exited"))
			for _, err := range errs[1:] {
				Expect(err).To(BeIdenticalTo(errs[0]))
			}

			_, err := host.CallTool(ctx, "hello_tool", "c", map[string]any{"name": "again"}, nil)
			Expect(err).To(BeIdenticalTo(errs[0]))
			Expect(host.Err(first.ExtensionPath)).To(BeIdenticalTo(errs[0]))
		})
	})

	Describe("UI requests", func() {
		It("relays the handler's answer to the extension", func() {
			var got extension.UIRequest
			host, _, err := spawn(ctx, []string{extensionFile(dir, "tools")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			host.SetUIHandler(func(_ context.Context, req extension.UIRequest) (extension.UIResponse, error) {
				got = req
				return extension.UIResponse{Value: "Ada"}, nil
			})
			Expect(host.HasUI()).To(BeTrue())

			res, err := host.CallTool(ctx, "ask_tool", "c", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content.Texts()).To(Equal("Hello Ada"))
			Expect(got.Kind).To(Equal("input"))
			Expect(got.Title).To(Equal("Name?"))
			Expect(got.Placeholder).To(Equal("your name"))
		})

		It("answers cancelled without a handler", func() {
			host, _, err := spawn(ctx, []string{extensionFile(dir, "tools")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			res, err := host.CallTool(ctx, "ask_tool", "c", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content.Texts()).To(Equal("cancelled"))
		})
	})

	Describe("hooks", func() {
		compactable := func() *session.Store {
			s := session.InMemory(dir)
			body := strings.Repeat("x", 400)
			for i := 0; i < 3; i++ {
				s.AppendMessage(&types.UserMessage{Content: types.StringContent(body), Timestamp: 1})
				s.AppendMessage(&types.AssistantMessage{Content: types.Content{types.Text(body)}, StopReason: types.StopReasonStop, Timestamp: 2})
			}
			return s
		}
		settings := config.Compaction{Enabled: true, ReserveTokens: 1000, KeepRecentTokens: 350}

		It("cancels a compaction", func() {
			host, _, err := spawn(ctx, []string{extensionFile(dir, "hooks_cancel")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			s := compactable()
			before := len(s.Entries())
			_, err = compaction.NewManager(nil, host).Compact(ctx, s, settings, "")
			Expect(err).To(MatchError(ContainSubstring("Compaction cancelled")))
			Expect(s.Entries()).To(HaveLen(before))
		})

		It("supplies the compaction summary", func() {
			host, _, err := spawn(ctx, []string{extensionFile(dir, "hooks_override")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			s := compactable()
			res, err := compaction.NewManager(nil, host).Compact(ctx, s, settings, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Summary).To(Equal("summary from session_before_compact"))
			Expect(res.TokensBefore).To(Equal(int64(42)))

			leaf, _ := s.Leaf()
			Expect(leaf).To(BeAssignableToTypeOf(&types.CompactionEntry{}))
			Expect(leaf.(*types.CompactionEntry).FromHook).To(BeTrue())
			Expect(s.BuildContext().Messages[0].MessageRole()).To(Equal(types.RoleCompactionSummary))
		})

		It("lets the first cancel win over a later override", func() {
			host, _, err := spawn(ctx, []string{
				extensionFile(dir, "hooks_cancel"),
				extensionFile(dir, "hooks_override"),
			})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			res, err := host.BeforeCompact(ctx, &compaction.BeforeCompactEvent{Preparation: &compaction.Preparation{}})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Cancel).To(BeTrue())
			Expect(res.Compaction).To(BeNil())
		})

		It("dispatches to in-process handlers", func() {
			host, _, err := spawn(ctx, []string{extensionFile(dir, "tools")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			var payload map[string]any
			host.On(compaction.EventBeforeCompact, func(_ context.Context, raw json.RawMessage) (any, error) {
				Expect(json.Unmarshal(raw, &payload)).To(Succeed())
				return map[string]any{"compaction": map[string]any{"summary": "in process", "firstKeptEntryId": "e1"}}, nil
			})
			Expect(host.HasHandlers(compaction.EventBeforeCompact)).To(BeTrue())

			res, err := host.BeforeCompact(ctx, &compaction.BeforeCompactEvent{
				Preparation:        &compaction.Preparation{FirstKeptEntryID: "e1"},
				CustomInstructions: "focus",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Compaction.Summary).To(Equal("in process"))
			Expect(payload).To(HaveKeyWithValue("type", compaction.EventBeforeCompact))
			Expect(payload).To(HaveKeyWithValue("customInstructions", "focus"))
		})

		It("blocks tool calls", func() {
			host, _, err := spawn(ctx, []string{extensionFile(dir, "blocker")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			d := host.EmitToolCall(ctx, "bash", "c1", map[string]any{"command": "rm -rf /"})
			Expect(d.Block).To(BeTrue())
			Expect(d.Reason).To(Equal("no blocker"))
		})

		It("chains tool_result patches", func() {
			host, _, err := spawn(ctx, []string{extensionFile(dir, "tools")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			host.On(extension.EventToolResult, func(_ context.Context, _ json.RawMessage) (any, error) {
				return map[string]any{"content": []map[string]any{{"type": "text", "text": "redacted"}}}, nil
			})
			host.On(extension.EventToolResult, func(_ context.Context, raw json.RawMessage) (any, error) {
				var ev extension.ToolResultEvent
				Expect(json.Unmarshal(raw, &ev)).To(Succeed())
				Expect(ev.Content.Texts()).To(Equal("redacted"))
				return map[string]any{"isError": true}, nil
			})

			out := host.EmitToolResult(ctx, extension.ToolResultEvent{
				ToolName: "read",
				Content:  types.Content{types.Text("secret")},
			})
			Expect(out.Content.Texts()).To(Equal("redacted"))
			Expect(out.IsError).To(BeTrue())
		})

		It("rewrites the model context", func() {
			host, _, err := spawn(ctx, []string{extensionFile(dir, "tools")})
			Expect(err).NotTo(HaveOccurred())
			defer host.Close()

			host.On(extension.EventContext, func(_ context.Context, _ json.RawMessage) (any, error) {
				return map[string]any{"messages": []any{types.NewUserMessage("only this")}}, nil
			})
			out := host.EmitContext(ctx, []types.AgentMessage{types.NewUserMessage("a"), types.NewUserMessage("b")})
			Expect(out).To(HaveLen(1))
			Expect(out[0].(*types.UserMessage).Content.PlainText()).To(Equal("only this"))
		})
	})
})
