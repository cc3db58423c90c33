package tool

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pi-agent/pi/pkg/types"
)

const (
	DefaultReadLimit = 2000
	MaxLineLength    = 2000
)

const readDescription = `Reads a file from the local filesystem.

Usage:
- path may be absolute or relative to the working directory
- By default, reads up to 2000 lines from the beginning
- You can optionally specify offset (1-based line number) and limit for pagination
- Returns file contents with line numbers
- Image files (png, jpg, gif, webp) are returned as image attachments`

// ReadTool implements file reading.
type ReadTool struct {
	workDir string
}

// ReadInput represents the input for the read tool.
type ReadInput struct {
	pathArg
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

// ReadDetails describes what part of the file was returned.
type ReadDetails struct {
	Path       string `json:"path"`
	Lines      int    `json:"lines"`
	TotalLines int    `json:"totalLines"`
	Truncated  bool   `json:"truncated,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
}

// NewReadTool creates a new read tool.
func NewReadTool(workDir string) *ReadTool {
	return &ReadTool{workDir: workDir}
}

func (t *ReadTool) ID() string          { return "read" }
func (t *ReadTool) Description() string { return readDescription }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Path to the file to read"
			},
			"offset": {
				"type": "integer",
				"description": "Line number to start reading from (1-based)"
			},
			"limit": {
				"type": "integer",
				"description": "Number of lines to read (default: 2000)"
			}
		},
		"required": ["path"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	path, err := params.resolve(toolCtx.workDir(t.workDir))
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = DefaultReadLimit
	}

	// .env files stay private unless they are samples.
	if shouldBlockEnvFile(path) {
		return nil, fmt.Errorf("The user has blocked you from reading %s, DO NOT make further attempts to read it", params.raw())
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", params.raw())
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", params.raw())
	}

	if isImageFile(path) {
		return readImage(path)
	}
	if isBinaryFile(path) {
		return nil, fmt.Errorf("file appears to be binary: %s", params.raw())
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNum++
		if params.Offset > 0 && lineNum < params.Offset {
			continue
		}
		if len(lines) >= params.Limit {
			continue
		}
		line := scanner.Text()
		if len(line) > MaxLineLength {
			line = line[:MaxLineLength] + "..."
		}
		lines = append(lines, fmt.Sprintf("%05d| %s", lineNum, line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	first := max(params.Offset, 1)
	if params.Offset > lineNum && lineNum > 0 {
		return nil, fmt.Errorf("offset %d is beyond end of file (%d lines)", params.Offset, lineNum)
	}

	var sb strings.Builder
	sb.WriteString("<file>\n")
	sb.WriteString(strings.Join(lines, "\n"))
	last := first - 1 + len(lines)
	more := lineNum > last
	if more {
		fmt.Fprintf(&sb, "\n\n(File has more lines. Use 'offset' parameter to read beyond line %d)", last)
	} else {
		fmt.Fprintf(&sb, "\n\n(End of file - total %d lines)", lineNum)
	}
	sb.WriteString("\n</file>")

	return TextResult(sb.String(), ReadDetails{
		Path:       path,
		Lines:      len(lines),
		TotalLines: lineNum,
		Truncated:  more,
	}), nil
}

func readImage(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mediaType := detectMediaType(path)
	return &Result{
		Content: types.Content{
			types.Text(fmt.Sprintf("Read image file [%s]", mediaType)),
			&types.ImageContent{Data: base64.StdEncoding.EncodeToString(data), MimeType: mediaType},
		},
		Details: ReadDetails{Path: path, MimeType: mediaType},
	}, nil
}

func isImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp":
		return true
	}
	return false
}

func isBinaryFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	buf := make([]byte, 8000)
	n, _ := file.Read(buf)
	if n == 0 {
		return false
	}

	nonPrintable := 0
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
		if buf[i] < 32 && buf[i] != '\n' && buf[i] != '\r' && buf[i] != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.3
}

func detectMediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// shouldBlockEnvFile reports whether path is a .env file other than a
// .env.sample or .example one.
func shouldBlockEnvFile(path string) bool {
	for _, allowed := range []string{".env.sample", ".example"} {
		if strings.HasSuffix(path, allowed) {
			return false
		}
	}
	return strings.Contains(filepath.Base(path), ".env")
}
