// Package mcp connects to Model Context Protocol servers and exposes their
// tools to the agent.
//
// Servers are configured in the "mcp" section of the settings:
//
//	"mcp": {
//	  "files": {"command": ["npx", "-y", "@modelcontextprotocol/server-filesystem", "."]},
//	  "search": {"type": "remote", "url": "https://example.com/mcp"}
//	}
//
// Local servers run as subprocesses speaking MCP over stdio; remote servers
// are reached over streamable HTTP, falling back to SSE. Each server tool is
// registered in a tool.Registry as "<server>_<tool>". The engine consults
// that registry after built-in and extension tools.
//
//	client := mcp.NewClient()
//	defer client.Close()
//	client.ConnectAll(ctx, settings.MCP)
//	mcp.Register(client, registry)
package mcp
