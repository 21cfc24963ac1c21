package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/agentrelay/pkg/session"
	"github.com/xeipuuv/gojsonschema"
)

const defaultMaxReadBytes = 200000

// Tool is a locally executed tool the model may call
type Tool struct {
	Name        string
	Description string
	// Properties and Required describe the JSON object the tool accepts
	Properties map[string]any
	Required   []string
	Handler    func(ctx context.Context, input json.RawMessage) (string, error)
}

// ToolboxConfig configures the local tool set
type ToolboxConfig struct {
	// WorkspaceRoot enables read_file and write_file, confined to this directory
	WorkspaceRoot string
	MaxReadBytes  int64
}

// Toolbox holds the tools advertised to the model
type Toolbox struct {
	tools   []Tool
	byName  map[string]Tool
	schemas map[string]*gojsonschema.Schema
}

// NewToolbox builds the tool set. think is always present.
func NewToolbox(cfg ToolboxConfig) *Toolbox {
	tb := &Toolbox{
		byName:  make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
	tb.add(thinkTool())

	if root := strings.TrimSpace(cfg.WorkspaceRoot); root != "" {
		root = filepath.Clean(root)
		limit := cfg.MaxReadBytes
		if limit <= 0 {
			limit = defaultMaxReadBytes
		}
		tb.add(readFileTool(root, limit))
		tb.add(writeFileTool(root))
	}
	return tb
}

// add registers a built-in tool. Their schemas are static, so a schema that
// does not compile is a programming error.
func (t *Toolbox) add(tool Tool) {
	schema, err := inputSchema(tool)
	if err != nil {
		panic(fmt.Sprintf("tool %s: invalid input schema: %v", tool.Name, err))
	}
	t.tools = append(t.tools, tool)
	t.byName[tool.Name] = tool
	t.schemas[tool.Name] = schema
}

// inputSchema compiles the object schema the model sees for tool
func inputSchema(tool Tool) (*gojsonschema.Schema, error) {
	properties := tool.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	schemaMap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(tool.Required) > 0 {
		schemaMap["required"] = tool.Required
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateInput checks input against the tool's schema. An empty input is an
// empty object.
func (t *Toolbox) validateInput(name string, input json.RawMessage) error {
	schema := t.schemas[name]
	if schema == nil {
		return nil
	}
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid input: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Tools returns the tools in registration order
func (t *Toolbox) Tools() []Tool {
	out := make([]Tool, len(t.tools))
	copy(out, t.tools)
	return out
}

// Run executes a tool call. Unknown tools and handler failures come back as
// an error result rather than a Go error, so the model can see them.
func (t *Toolbox) Run(ctx context.Context, name string, input json.RawMessage) ToolResult {
	tool, ok := t.byName[name]
	if !ok {
		return ToolResult{Error: fmt.Sprintf("tool %q is not available", name)}
	}
	if err := t.validateInput(name, input); err != nil {
		return ToolResult{Error: err.Error()}
	}
	out, err := tool.Handler(ctx, input)
	if err != nil {
		return ToolResult{Error: err.Error()}
	}
	return ToolResult{Output: out}
}

// runTools reports every block of an assistant turn, executes its tool calls
// in order, and returns the tool_result blocks for the next user turn
func runTools(ctx context.Context, tb *Toolbox, blocks []session.ContentBlock, cb Callbacks) []session.ContentBlock {
	var results []session.ContentBlock
	for _, b := range blocks {
		cb.block(b)
		if b.Type != session.BlockToolUse {
			continue
		}
		result := tb.Run(ctx, b.Name, b.Input)
		cb.toolResult(result, b.ID)
		results = append(results, toolResultBlock(b.ID, result))
	}
	return results
}

func thinkTool() Tool {
	return Tool{
		Name:        "think",
		Description: "Use the tool to think about something. It will not obtain new information or change anything; it only records the thought.",
		Properties: map[string]any{
			"thought": map[string]any{"type": "string", "description": "A thought to think about."},
		},
		Required: []string{"thought"},
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var params struct {
				Thought string `json:"thought"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
			return "Thinking complete!", nil
		},
	}
}

func readFileTool(root string, limit int64) Tool {
	return Tool{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Properties: map[string]any{
			"path": map[string]any{"type": "string", "description": "Relative file path"},
		},
		Required: []string{"path"},
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var params struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
			target, err := resolvePathInWorkspace(root, params.Path)
			if err != nil {
				return "", err
			}

			data, truncated, err := readFileWithLimit(target, limit)
			if err != nil {
				return "", err
			}
			return encodeResult(map[string]any{
				"path":      params.Path,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			})
		},
	}
}

func writeFileTool(root string) Tool {
	return Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		Properties: map[string]any{
			"path":    map[string]any{"type": "string", "description": "Relative file path"},
			"content": map[string]any{"type": "string", "description": "File content"},
			"append":  map[string]any{"type": "boolean", "description": "Append to file (default false)"},
		},
		Required: []string{"path", "content"},
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var params struct {
				Path    string `json:"path"`
				Content string `json:"content"`
				Append  bool   `json:"append"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
			target, err := resolvePathInWorkspace(root, params.Path)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}

			flag := os.O_CREATE | os.O_WRONLY
			if params.Append {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0o644)
			if err != nil {
				return "", err
			}
			if _, err := f.WriteString(params.Content); err != nil {
				f.Close()
				return "", err
			}
			if err := f.Close(); err != nil {
				return "", err
			}

			return encodeResult(map[string]any{
				"path":   params.Path,
				"bytes":  len(params.Content),
				"append": params.Append,
			})
		},
	}
}

func encodeResult(v map[string]any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	extra := make([]byte, 1)
	n, _ := file.Read(extra)
	return buf.Bytes(), n > 0, nil
}

func resolvePathInWorkspace(root, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside workspace root", pathValue)
	}
	return candidate, nil
}
