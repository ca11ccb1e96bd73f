package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tool names of the built-in tools.
const (
	ToolGreet      = "greet"
	ToolServerTime = "server_time"
)

// ToolFunc runs a tool. args is the raw JSON object sent by the caller and
// may be empty.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is a named operation exposed by the resource server.
type Tool struct {
	Name        string         `json:"name"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`

	// RequiredScopes are checked on top of authentication when the tool is
	// protected.
	RequiredScopes []string `json:"-"`

	Handler ToolFunc `json:"-"`
}

// ArgumentError reports invalid tool arguments. Tool handlers return it so
// the HTTP layer can answer 400 instead of 500.
type ArgumentError struct {
	Tool   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// Registry holds the tools of a resource server.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry with tools. It panics on an invalid or
// duplicate tool, which is a programming error.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a tool.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultTools returns greet and server_time. now is the clock used by
// server_time.
func DefaultTools(now func() time.Time) []Tool {
	if now == nil {
		now = time.Now
	}
	return []Tool{
		{
			Name:        ToolGreet,
			Title:       "Greet a user",
			Description: "Return a friendly greeting for the provided name.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"punctuation": map[string]any{"type": "string", "default": "!"},
				},
				"required": []string{"name"},
			},
			Handler: greetTool,
		},
		{
			Name:        ToolServerTime,
			Title:       "Get current server time",
			Description: "Returns the server's current time and related details.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Handler: func(context.Context, json.RawMessage) (any, error) {
				return ServerTime(now()), nil
			},
		},
	}
}

// Greet returns "Hello, {name}{punctuation}". A blank name becomes "there"
// and empty punctuation becomes "!".
func Greet(name, punctuation string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "there"
	}
	if punctuation == "" {
		punctuation = "!"
	}
	return "Hello, " + name + punctuation
}

type greetArgs struct {
	Name        string  `json:"name"`
	Punctuation *string `json:"punctuation"`
}

func greetTool(_ context.Context, raw json.RawMessage) (any, error) {
	var args greetArgs
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &ArgumentError{Tool: ToolGreet, Reason: err.Error()}
		}
	}
	punctuation := "!"
	if args.Punctuation != nil {
		punctuation = *args.Punctuation
	}
	return Greet(args.Name, punctuation), nil
}

// ServerTimeResult is the result of the server_time tool.
type ServerTimeResult struct {
	CurrentTime string  `json:"current_time"`
	Timezone    string  `json:"timezone"`
	Timestamp   float64 `json:"timestamp"`
	Formatted   string  `json:"formatted"`
}

// ServerTime describes now in UTC.
func ServerTime(now time.Time) ServerTimeResult {
	now = now.UTC()
	return ServerTimeResult{
		CurrentTime: now.Format(time.RFC3339Nano),
		Timezone:    "UTC",
		Timestamp:   float64(now.UnixNano()) / float64(time.Second),
		Formatted:   now.Format("2006-01-02 15:04:05"),
	}
}
