// Package extension runs extensions as subprocesses speaking newline
// delimited JSON over stdin and stdout.
//
// Each extension registers tools, hooks, commands and flags while answering
// the initialize request. Afterwards the host calls its tools and forwards
// lifecycle events to the hooks it subscribed to. Extensions may issue
// ui.* requests at any time, which are answered by the embedding
// application's UIHandler.
package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/pkg/types"
)

// DefaultHandshakeTimeout bounds the initialize exchange of one extension.
const DefaultHandshakeTimeout = 10 * time.Second

// ErrUnknownTool is returned by CallTool for names no extension registered.
var ErrUnknownTool = errors.New("unknown extension tool")

// Metadata describes what one extension registered.
type Metadata struct {
	Path     string       `json:"path"`
	Tools    []ToolDef    `json:"tools"`
	Hooks    []string     `json:"hooks"`
	Commands []CommandDef `json:"commands"`
	Flags    []FlagDef    `json:"flags"`
}

// Manifest lists every registration made during the handshake, in the order
// the extension paths were given.
type Manifest struct {
	Extensions []Metadata `json:"extensions"`
}

// Tools returns all registered tools.
func (m *Manifest) Tools() []ToolDef {
	var out []ToolDef
	for _, e := range m.Extensions {
		out = append(out, e.Tools...)
	}
	return out
}

// Handler is an in-process hook. payload is the JSON event sent to
// subprocess hooks; the returned value is interpreted like a subprocess
// reply. A nil result means no opinion.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

type options struct {
	timeout time.Duration
	command CommandFunc
	flags   map[string]any
	ui      UIHandler
}

// Option configures Spawn.
type Option func(*options)

// WithHandshakeTimeout overrides DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithCommand overrides how extension paths are turned into processes.
func WithCommand(fn CommandFunc) Option {
	return func(o *options) { o.command = fn }
}

// WithFlags passes CLI flag values to extensions during initialize.
func WithFlags(flags map[string]any) Option {
	return func(o *options) { o.flags = flags }
}

// WithUIHandler installs the UI handler before the handshake, so extensions
// may prompt while initializing.
func WithUIHandler(fn UIHandler) Option {
	return func(o *options) { o.ui = fn }
}

// process is one spawned extension.
type process struct {
	meta   Metadata
	client *client
	hooks  map[string]bool

	// registering is true until the initialize response arrives.
	registering  atomic.Bool
	mu           sync.Mutex
	manifestErrs []error
}

func (p *process) manifestError(err error) {
	p.mu.Lock()
	p.manifestErrs = append(p.manifestErrs, err)
	p.mu.Unlock()
}

// Host owns the extension processes of one session.
type Host struct {
	cwd   string
	procs []*process
	tools map[string]*process

	mu       sync.RWMutex
	handlers map[string][]Handler
	ui       UIHandler
	entries  func() []types.Entry

	closeOnce sync.Once
	log       zerolog.Logger
}

// Spawn starts one process per extension path and completes the handshake
// with each of them concurrently. Paths may be doublestar patterns. Any
// failure stops every process that was started and returns a *HostError.
func Spawn(ctx context.Context, paths []string, cwd string, opts ...Option) (*Host, *Manifest, error) {
	o := options{timeout: DefaultHandshakeTimeout, command: DefaultCommand}
	for _, opt := range opts {
		opt(&o)
	}

	resolved, err := expandPaths(paths, cwd)
	if err != nil {
		return nil, nil, err
	}
	if len(resolved) == 0 {
		return nil, nil, &HostError{Message: "no extension paths provided"}
	}

	h := &Host{
		cwd:      cwd,
		procs:    make([]*process, len(resolved)),
		tools:    make(map[string]*process),
		handlers: make(map[string][]Handler),
		ui:       o.ui,
		log:      logging.Component("extension"),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range resolved {
		g.Go(func() error {
			p, err := h.start(gctx, path, o)
			if p != nil {
				h.procs[i] = p
			}
			return err
		})
	}
	err = g.Wait()
	if err == nil {
		err = h.indexTools()
	}
	if err != nil {
		h.Close()
		return nil, nil, err
	}

	manifest := &Manifest{Extensions: make([]Metadata, len(h.procs))}
	for i, p := range h.procs {
		manifest.Extensions[i] = p.meta
	}
	h.log.Info().Int("extensions", len(h.procs)).Int("tools", len(h.tools)).Msg("extensions ready")
	return h, manifest, nil
}

func expandPaths(patterns []string, cwd string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(cwd, pattern)
		}
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return nil, &HostError{ExtensionPath: pattern, Message: "invalid path pattern"}
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &HostError{ExtensionPath: pattern, Message: "invalid path pattern", Err: err}
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err != nil {
				return nil, &HostError{ExtensionPath: pattern, Message: "extension not found", Err: err}
			}
			matches = []string{pattern}
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

// start launches the extension at path and runs the handshake.
func (h *Host) start(ctx context.Context, path string, o options) (*process, error) {
	p := &process{meta: Metadata{Path: path}, hooks: make(map[string]bool)}
	p.registering.Store(true)

	cmd := prepare(o.command(path), h.cwd)
	c, err := startClient(path, cmd, h.requestHandler(p), h.eventHandler, h.log)
	if err != nil {
		return nil, err
	}
	p.client = c

	hctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	_, err = c.call(hctx, MethodInitialize, InitializeParams{
		Cwd:             h.cwd,
		ProtocolVersion: ProtocolVersion,
		Flags:           o.flags,
	})
	p.registering.Store(false)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		return p, hostErrorf(path, MethodInitialize, err, "handshake timed out after %s", o.timeout)
	case errors.Is(err, context.Canceled):
		return p, hostErrorf(path, MethodInitialize, err, "handshake cancelled")
	default:
		var he *HostError
		if errors.As(err, &he) {
			return p, err
		}
		return p, hostErrorf(path, MethodInitialize, err, "handshake failed")
	}

	p.mu.Lock()
	errs := errors.Join(p.manifestErrs...)
	p.mu.Unlock()
	if errs != nil {
		return p, hostErrorf(path, MethodInitialize, errs, "malformed manifest")
	}
	return p, nil
}

func (h *Host) indexTools() error {
	for _, p := range h.procs {
		for _, t := range p.meta.Tools {
			if other, ok := h.tools[t.Name]; ok {
				return hostErrorf(p.meta.Path, MethodRegisterTool, nil,
					"tool %q is already registered by %s", t.Name, other.meta.Path)
			}
			h.tools[t.Name] = p
		}
	}
	return nil
}

// requestHandler serves the requests an extension sends to the host.
func (h *Host) requestHandler(p *process) requestHandler {
	return func(ctx context.Context, c *client, method string, params json.RawMessage) (any, error) {
		if isRegistration(method) {
			if !p.registering.Load() {
				return nil, fmt.Errorf("%s is only allowed during initialize", method)
			}
			if err := p.register(method, params); err != nil {
				p.manifestError(err)
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		}
		if isUIMethod(method) {
			return h.handleUI(ctx, c.path, method, params)
		}
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func (p *process) register(method string, params json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch method {
	case MethodRegisterTool:
		var def ToolDef
		if err := json.Unmarshal(params, &def); err != nil {
			return fmt.Errorf("invalid %s params: %w", method, err)
		}
		if def.Name == "" {
			return fmt.Errorf("%s: tool name is required", method)
		}
		for _, t := range p.meta.Tools {
			if t.Name == def.Name {
				return fmt.Errorf("%s: duplicate tool %q", method, def.Name)
			}
		}
		p.meta.Tools = append(p.meta.Tools, def)
	case MethodRegisterHook:
		var def HookDef
		if err := json.Unmarshal(params, &def); err != nil {
			return fmt.Errorf("invalid %s params: %w", method, err)
		}
		if def.Event == "" {
			return fmt.Errorf("%s: event is required", method)
		}
		if !p.hooks[def.Event] {
			p.hooks[def.Event] = true
			p.meta.Hooks = append(p.meta.Hooks, def.Event)
		}
	case MethodRegisterCommand:
		var def CommandDef
		if err := json.Unmarshal(params, &def); err != nil {
			return fmt.Errorf("invalid %s params: %w", method, err)
		}
		if def.Name == "" {
			return fmt.Errorf("%s: command name is required", method)
		}
		p.meta.Commands = append(p.meta.Commands, def)
	case MethodRegisterFlag:
		var def FlagDef
		if err := json.Unmarshal(params, &def); err != nil {
			return fmt.Errorf("invalid %s params: %w", method, err)
		}
		if def.Name == "" {
			return fmt.Errorf("%s: flag name is required", method)
		}
		p.meta.Flags = append(p.meta.Flags, def)
	}
	return nil
}

func (h *Host) handleUI(ctx context.Context, path, method string, params json.RawMessage) (any, error) {
	req, err := decodeUIRequest(path, method, params)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	ui := h.ui
	h.mu.RUnlock()
	if ui == nil {
		return UIResponse{Cancelled: true}, nil
	}
	resp, err := ui(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *Host) eventHandler(c *client, name string, data json.RawMessage) {
	switch name {
	case EventLog:
		var l logData
		if err := json.Unmarshal(data, &l); err != nil {
			h.log.Warn().Err(err).Str("extension", c.path).Msg("malformed log event")
			return
		}
		lvl, err := zerolog.ParseLevel(l.Level)
		if err != nil || lvl == zerolog.NoLevel {
			lvl = zerolog.InfoLevel
		}
		h.log.WithLevel(lvl).Str("extension", c.path).Msg(l.Message)
	default:
		h.log.Debug().Str("extension", c.path).Str("event", name).Msg("ignoring extension event")
	}
}

// SetUIHandler installs the handler for ui.* requests. A nil handler
// answers every request as cancelled.
func (h *Host) SetUIHandler(fn UIHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ui = fn
}

// HasUI reports whether a UI handler is installed.
func (h *Host) HasUI() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ui != nil
}

// SetEntriesFunc supplies the session entries sent with hook events.
func (h *Host) SetEntriesFunc(fn func() []types.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = fn
}

// On registers an in-process handler for event. In-process handlers run
// after the subprocess hooks, in registration order.
func (h *Host) On(event string, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], fn)
}

// Tools returns the registered tools sorted by name.
func (h *Host) Tools() []ToolDef {
	out := make([]ToolDef, 0, len(h.tools))
	for _, p := range h.procs {
		out = append(out, p.meta.Tools...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Commands returns the registered commands in extension order.
func (h *Host) Commands() []CommandDef {
	var out []CommandDef
	for _, p := range h.procs {
		out = append(out, p.meta.Commands...)
	}
	return out
}

// Err returns the crash error of the extension at path, if it died.
func (h *Host) Err(path string) error {
	for _, p := range h.procs {
		if p.meta.Path == path {
			return p.client.Err()
		}
	}
	return nil
}

func (h *Host) callContext(entries []types.Entry) CallContext {
	return CallContext{Cwd: h.cwd, HasUI: h.HasUI(), SessionEntries: entries}
}

// CallTool invokes an extension tool and waits for its result. An error
// answer from the extension becomes an IsError result; a dead or
// misbehaving process yields a *HostError. When the process dies, all of
// its outstanding calls return the same *HostError.
func (h *Host) CallTool(ctx context.Context, name, callID string, input map[string]any, entries []types.Entry) (*ToolResult, error) {
	p, ok := h.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if input == nil {
		input = map[string]any{}
	}

	raw, err := p.client.call(ctx, MethodCallTool, callToolParams{
		Name:       name,
		ToolCallID: callID,
		Input:      input,
		Context:    h.callContext(entries),
	})
	if err != nil {
		var rpcErr *RPCErrorResponse
		if errors.As(err, &rpcErr) {
			return &ToolResult{Content: types.Content{types.Text(rpcErr.Message)}, IsError: true}, nil
		}
		return nil, err
	}

	res, err := parseToolResult(raw)
	if err != nil {
		return nil, hostErrorf(p.meta.Path, MethodCallTool, err, "malformed result for tool %q", name)
	}
	return res, nil
}

// Close sends shutdown to every extension, closes their stdin and waits for
// them to exit.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for _, p := range h.procs {
			if p == nil || p.client == nil {
				continue
			}
			wg.Add(1)
			go func(p *process) {
				defer wg.Done()
				if p.hooks[EventShutdown] {
					_ = p.client.notify(EventShutdown, nil)
				}
				p.client.close()
			}(p)
		}
		wg.Wait()
	})
}
