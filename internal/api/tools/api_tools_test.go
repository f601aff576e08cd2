package tools

import (
	"context"
	"encoding/json"
	"testing"

	"llmn/internal/descriptor"
	"llmn/internal/enablement"
	"llmn/internal/orchestrator"
	"llmn/internal/registry"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTools(t *testing.T) *APITools {
	t.Helper()
	var descs []*descriptor.Descriptor
	for _, text := range []string{
		"service: postgres\ncompose_file: c.yaml\nservice_group: databases\n",
		"service: litellm\ncompose_file: c.yaml\nservice_group: middleware\ndepends_on: [postgres]\n",
		"service: n8n\ncompose_file: c.yaml\nservice_group: apps\ndepends_on: [litellm]\n",
	} {
		d, err := descriptor.Parse([]byte(text), "")
		require.NoError(t, err)
		descs = append(descs, d)
	}
	reg, err := registry.Build(descs, registry.Options{
		Groups: []string{"databases", "middleware", "apps"},
		Modes:  map[string]enablement.Mode{"llmn/postgres": enablement.ModeAuto},
	})
	require.NoError(t, err)
	return NewAPITools(orchestrator.New(orchestrator.Config{Registry: reg}))
}

func request(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestGetAPITools(t *testing.T) {
	at := newTools(t)

	names := map[string]bool{}
	for _, tool := range at.GetAPITools() {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"service_list", "service_status", "service_start", "service_stop",
		"service_restart", "service_dependents", "service_endpoints",
	} {
		assert.True(t, names[want], want)
	}

	for _, st := range at.ServerTools() {
		assert.NotNil(t, st.Handler, st.Tool.Name)
	}
	assert.NotNil(t, NewServer("dev", at))
}

func TestHandleServiceList(t *testing.T) {
	at := newTools(t)

	res, err := at.HandleServiceList(context.Background(), request("service_list", map[string]interface{}{}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var body struct {
		Services []map[string]interface{} `json:"services"`
		Total    int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, "llmn/postgres", body.Services[0]["id"])
	assert.Equal(t, "disabled", body.Services[2]["status"])
}

func TestHandlers_RequireService(t *testing.T) {
	at := newTools(t)
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"service_status":     at.HandleServiceStatus,
		"service_start":      at.HandleServiceStart,
		"service_stop":       at.HandleServiceStop,
		"service_restart":    at.HandleServiceRestart,
		"service_dependents": at.HandleServiceDependents,
		"service_endpoints":  at.HandleServiceEndpoints,
	}
	for name, h := range handlers {
		t.Run(name+" missing", func(t *testing.T) {
			res, err := h(context.Background(), request(name, map[string]interface{}{}))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, textOf(t, res), "service is required")
		})
		t.Run(name+" unknown", func(t *testing.T) {
			res, err := h(context.Background(), request(name, map[string]interface{}{"service": "nope"}))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, textOf(t, res), "Service not found: nope")
		})
	}
}

func TestHandleServiceStart_DisabledService(t *testing.T) {
	at := newTools(t)

	res, err := at.HandleServiceStart(context.Background(), request("service_start", map[string]interface{}{"service": "n8n"}))

	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), "not enabled")
	assert.NotContains(t, textOf(t, res), "Successfully")
}

func TestHandleServiceDependents(t *testing.T) {
	at := newTools(t)

	tests := []struct {
		service          string
		wantDependents   []string
		wantDependencies []string
	}{
		{service: "postgres", wantDependents: []string{"llmn/litellm", "llmn/n8n"}, wantDependencies: []string{}},
		{service: "litellm", wantDependents: []string{"llmn/n8n"}, wantDependencies: []string{"llmn/postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			res, err := at.HandleServiceDependents(context.Background(), request("service_dependents", map[string]interface{}{"service": tt.service}))
			require.NoError(t, err)

			var body struct {
				Service      string   `json:"service"`
				Dependents   []string `json:"dependents"`
				Dependencies []string `json:"dependencies"`
				Total        int      `json:"total"`
			}
			require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &body))
			assert.Equal(t, "llmn/"+tt.service, body.Service)
			assert.Equal(t, tt.wantDependents, body.Dependents)
			assert.Equal(t, tt.wantDependencies, body.Dependencies)
			assert.Equal(t, len(tt.wantDependents), body.Total)
		})
	}
}

func TestHandleServiceStatus_DisabledSkipsQuery(t *testing.T) {
	at := newTools(t)

	res, err := at.HandleServiceStatus(context.Background(), request("service_status", map[string]interface{}{"service": "llmn/n8n"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), `"status": "disabled"`)
}
