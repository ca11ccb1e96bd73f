package resource

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGreet(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		punctuation string
		want        string
	}{
		{"plain", "Ada", "!", "Hello, Ada!"},
		{"trimmed", "  Ada  ", "!", "Hello, Ada!"},
		{"blank name", "   ", "!", "Hello, there!"},
		{"empty name", "", "?", "Hello, there?"},
		{"empty punctuation", "Ada", "", "Hello, Ada!"},
		{"custom punctuation", "Ada", "...", "Hello, Ada..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Greet(tt.input, tt.punctuation))
		})
	}
}

func TestGreetTool(t *testing.T) {
	registry := NewRegistry(DefaultTools(nil)...)
	greet, ok := registry.Get(ToolGreet)
	require.True(t, ok)

	result, err := greet.Handler(context.Background(), json.RawMessage(`{"name":"Grace"}`))
	require.NoError(t, err)
	assert.Equal(t, "Hello, Grace!", result)

	result, err = greet.Handler(context.Background(), json.RawMessage(`{"name":"Grace","punctuation":"?"}`))
	require.NoError(t, err)
	assert.Equal(t, "Hello, Grace?", result)

	result, err = greet.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, there!", result)

	_, err = greet.Handler(context.Background(), json.RawMessage(`{"name":42}`))
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, ToolGreet, argErr.Tool)
}

func TestServerTime(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 500_000_000, time.FixedZone("CET", 3600))

	got := ServerTime(fixed)
	assert.Equal(t, "2026-03-14T14:09:26.5Z", got.CurrentTime)
	assert.Equal(t, "UTC", got.Timezone)
	assert.Equal(t, "2026-03-14 14:09:26", got.Formatted)
	assert.InDelta(t, float64(fixed.Unix())+0.5, got.Timestamp, 1e-3)

	registry := NewRegistry(DefaultTools(func() time.Time { return fixed })...)
	tool, ok := registry.Get(ToolServerTime)
	require.True(t, ok)
	result, err := tool.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, got, result)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(DefaultTools(time.Now)...)

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, ToolGreet, list[0].Name)
	assert.Equal(t, ToolServerTime, list[1].Name)

	noop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }

	assert.Error(t, registry.Register(Tool{Name: ToolGreet, Handler: noop}), "duplicate names are rejected")
	assert.Error(t, registry.Register(Tool{Name: "", Handler: noop}))
	assert.Error(t, registry.Register(Tool{Name: "nohandler"}))

	require.NoError(t, registry.Register(Tool{Name: "echo", Handler: noop}))
	_, ok := registry.Get("echo")
	assert.True(t, ok)

	assert.Panics(t, func() {
		NewRegistry(Tool{Name: "a", Handler: noop}, Tool{Name: "a", Handler: noop})
	})
}
