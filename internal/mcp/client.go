package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/pkg/types"
)

const defaultTimeout = 5 * time.Second

// ErrUnknownTool is returned by CallTool for names no connected server
// offers.
var ErrUnknownTool = errors.New("unknown MCP tool")

// Client manages MCP server connections using the official MCP SDK.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*mcpServer
	sdkClient *sdkmcp.Client
	log       zerolog.Logger
}

// mcpServer represents a configured MCP server.
type mcpServer struct {
	name    string
	config  *Config
	session *sdkmcp.ClientSession
	tools   []Tool
	status  Status
	err     string
	version string
}

// NewClient creates a new MCP client.
func NewClient() *Client {
	return &Client{
		servers:   make(map[string]*mcpServer),
		sdkClient: sdkmcp.NewClient(&sdkmcp.Implementation{Name: "pi", Version: "1.0.0"}, nil),
		log:       logging.Component("mcp"),
	}
}

// ConnectAll connects to every configured server in parallel. Failures are
// recorded in the server status and logged; the returned error joins them.
func (c *Client) ConnectAll(ctx context.Context, servers map[string]types.MCPConfig) error {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, name := range names {
		cfg := ConfigFromSettings(servers[name])
		g.Go(func() error {
			if err := c.AddServer(ctx, name, cfg); err != nil {
				c.log.Warn().Err(err).Str("server", name).Msg("MCP server unavailable")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// AddServer adds and connects to an MCP server.
func (c *Client) AddServer(ctx context.Context, name string, config *Config) error {
	if !c.reserve(name, config) {
		return fmt.Errorf("server already exists: %s", name)
	}
	if !config.Enabled {
		c.setServer(&mcpServer{name: name, config: config, status: StatusDisabled})
		return nil
	}

	transport, err := c.transport(config)
	if err != nil {
		c.setServer(&mcpServer{name: name, config: config, status: StatusFailed, err: err.Error()})
		return err
	}
	return c.connect(ctx, name, config, transport)
}

// AddTransport connects to a server over an already constructed transport,
// e.g. one end of sdkmcp.NewInMemoryTransports.
func (c *Client) AddTransport(ctx context.Context, name string, transport sdkmcp.Transport) error {
	config := &Config{Enabled: true, Type: TransportTypeStdio}
	if !c.reserve(name, config) {
		return fmt.Errorf("server already exists: %s", name)
	}
	return c.connect(ctx, name, config, transport)
}

// reserve claims name with a connecting placeholder.
func (c *Client) reserve(name string, config *Config) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.servers[name]; ok {
		return false
	}
	c.servers[name] = &mcpServer{name: name, config: config, status: StatusConnecting}
	return true
}

func (c *Client) setServer(s *mcpServer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[s.name] = s
}

func (c *Client) transport(config *Config) (sdkmcp.Transport, error) {
	switch config.Type {
	case TransportTypeRemote:
		if config.URL == "" {
			return nil, errors.New("remote server without url")
		}
		return &remoteTransport{
			url:    config.URL,
			client: httpClientWithHeaders(config.Headers),
		}, nil

	case TransportTypeLocal, TransportTypeStdio:
		if len(config.Command) == 0 {
			return nil, errors.New("empty command")
		}
		cmd := exec.Command(config.Command[0], config.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range config.Environment {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &sdkmcp.CommandTransport{Command: cmd}, nil
	}
	return nil, fmt.Errorf("unknown transport type: %s", config.Type)
}

func (c *Client) connect(ctx context.Context, name string, config *Config, transport sdkmcp.Transport) error {
	timeout := time.Duration(config.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	server := &mcpServer{name: name, config: config}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := c.sdkClient.Connect(connectCtx, transport, nil)
	if err != nil {
		server.status, server.err = StatusFailed, err.Error()
		c.setServer(server)
		return fmt.Errorf("connect: %w", err)
	}
	if init := session.InitializeResult(); init != nil && init.ServerInfo != nil {
		server.version = init.ServerInfo.Version
	}

	tools, err := listTools(connectCtx, session)
	if err != nil {
		session.Close()
		server.status, server.err = StatusFailed, err.Error()
		c.setServer(server)
		return fmt.Errorf("list tools: %w", err)
	}

	server.session, server.tools, server.status = session, tools, StatusConnected
	c.setServer(server)
	c.log.Info().Str("server", name).Int("tools", len(tools)).Msg("MCP server connected")
	return nil
}

func listTools(ctx context.Context, session *sdkmcp.ClientSession) ([]Tool, error) {
	var tools []Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, err
		}
		schema, err := json.Marshal(t.InputSchema)
		if err != nil || string(schema) == "null" {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return tools, nil
}

// remoteTransport tries streamable HTTP first and falls back to SSE for
// servers that predate it.
type remoteTransport struct {
	url    string
	client *http.Client
}

func (t *remoteTransport) Connect(ctx context.Context) (sdkmcp.Connection, error) {
	conn, err := (&sdkmcp.StreamableClientTransport{Endpoint: t.url, HTTPClient: t.client}).Connect(ctx)
	if err == nil {
		return conn, nil
	}
	sse, sseErr := (&sdkmcp.SSEClientTransport{Endpoint: t.url, HTTPClient: t.client}).Connect(ctx)
	if sseErr != nil {
		return nil, fmt.Errorf("streamable transport: %w; sse transport: %w", err, sseErr)
	}
	return sse, nil
}

func httpClientWithHeaders(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return &http.Client{}
	}
	return &http.Client{Transport: &headerRoundTripper{headers: headers, next: http.DefaultTransport}}
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

// Tools returns the tools of every connected server, named
// "<server>_<tool>" and sorted by name.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Tool
	for name, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}
		for _, t := range server.tools {
			all = append(all, Tool{
				Name:        toolName(name, t.Name),
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

func toolName(server, tool string) string {
	return sanitizeToolName(server) + "_" + sanitizeToolName(tool)
}

// resolve finds the server and server-local name behind a prefixed tool
// name.
func (c *Client) resolve(name string) (*mcpServer, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for serverName, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}
		for _, t := range server.tools {
			if toolName(serverName, t.Name) == name {
				return server, t.Name, true
			}
		}
	}
	return nil, "", false
}

// CallTool runs a prefixed tool. A tool reporting failure yields its
// content with isError set; err is reserved for transport problems.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (content types.Content, isError bool, err error) {
	server, original, ok := c.resolve(name)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := server.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: original, Arguments: args})
	if err != nil {
		return nil, false, fmt.Errorf("call %s: %w", name, err)
	}
	return convertContent(res), res.IsError, nil
}

func convertContent(res *sdkmcp.CallToolResult) types.Content {
	out := types.Content{}
	for _, block := range res.Content {
		switch b := block.(type) {
		case *sdkmcp.TextContent:
			out = append(out, types.Text(b.Text))
		case *sdkmcp.ImageContent:
			out = append(out, &types.ImageContent{Data: base64.StdEncoding.EncodeToString(b.Data), MimeType: b.MIMEType})
		case *sdkmcp.EmbeddedResource:
			if b.Resource != nil && b.Resource.Text != "" {
				out = append(out, types.Text(b.Resource.Text))
			}
		}
	}
	if len(out) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			out = append(out, types.Text(string(data)))
		}
	}
	return out
}

// Status returns the status of every configured server, sorted by name.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := make([]ServerStatus, 0, len(c.servers))
	for name, server := range c.servers {
		s := ServerStatus{Name: name, Status: server.status, ToolCount: len(server.tools), Version: server.version}
		if server.err != "" {
			e := server.err
			s.Error = &e
		}
		status = append(status, s)
	}
	sort.Slice(status, func(i, j int) bool { return status[i].Name < status[j].Name })
	return status
}

// ConnectedCount returns the number of connected servers.
func (c *Client) ConnectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.servers {
		if s.status == StatusConnected {
			n++
		}
	}
	return n
}

// Close disconnects all servers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, server := range c.servers {
		if server.session != nil {
			if err := server.session.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	c.servers = make(map[string]*mcpServer)
	return errors.Join(errs...)
}

// sanitizeToolName replaces non-alphanumeric chars with underscore.
func sanitizeToolName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}
