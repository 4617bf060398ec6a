package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/template"
)

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func newHTTPTransportForTest(t *testing.T, serverURL string, tools ...config.Tool) *HTTPTransport {
	t.Helper()
	renderer, err := template.NewRenderer()
	require.NoError(t, err)

	toolMap := make(map[string]*config.Tool, len(tools))
	order := make([]string, 0, len(tools))
	for i := range tools {
		toolMap[tools[i].Name] = &tools[i]
		order = append(order, tools[i].Name)
	}
	server := &config.HTTPServer{Name: "upstream", URL: serverURL, Tools: order}
	return NewHTTPTransport(server, toolMap, order, renderer)
}

func TestHTTPTransportGetWithQueryAndPath(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery, gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("units")
		gotHeader = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp": 21.5, "city": "berlin"}`))
	}))
	defer upstream.Close()

	tr := newHTTPTransportForTest(t, upstream.URL, config.Tool{
		Name:   "weather",
		Method: "GET",
		Path:   "/v1/weather/{{args.city}}",
		Args: []config.ToolArg{
			{Name: "city", Position: "path", Type: "string", Required: true},
			{Name: "units", Position: "query", Type: "string", Default: "metric"},
			{Name: "api_key", Position: "header", Type: "string"},
		},
	})

	result, err := tr.CallTool(context.Background(), CallParams{
		Name:      "weather",
		Arguments: map[string]any{"city": "berlin", "api_key": "k"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "/v1/weather/berlin", gotPath)
	assert.Equal(t, "metric", gotQuery, "default filled in")
	assert.Empty(t, gotHeader, "header arg uses its own name")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &parsed))
	assert.Equal(t, "berlin", parsed["city"])
}

func TestHTTPTransportPostBody(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotContentType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"id": "42"}`))
	}))
	defer upstream.Close()

	tr := newHTTPTransportForTest(t, upstream.URL, config.Tool{
		Name:        "create",
		Method:      "POST",
		Path:        "/v1/items",
		RequestBody: `{"name": "{{args.name}}", "count": {{args.count}}}`,
		Args: []config.ToolArg{
			{Name: "name", Position: "body", Type: "string", Required: true},
			{Name: "count", Position: "body", Type: "number"},
		},
	})

	result, err := tr.CallTool(context.Background(), CallParams{
		Name:      "create",
		Arguments: map[string]any{"name": "widget", "count": float64(2)},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "widget", gotBody["name"])
	assert.Equal(t, float64(2), gotBody["count"])
}

func TestHTTPTransportJSONStringNormalization(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	tr := newHTTPTransportForTest(t, upstream.URL, config.Tool{
		Name:   "submit",
		Method: "POST",
		Path:   "/v1/submit",
		Args: []config.ToolArg{
			{Name: "payload", Position: "body", Type: "object"},
		},
	})

	// The object argument arrives as a JSON string and is parsed.
	result, err := tr.CallTool(context.Background(), CallParams{
		Name:      "submit",
		Arguments: map[string]any{"payload": `{"k": "v"}`},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	payload, ok := gotBody["payload"].(map[string]any)
	require.True(t, ok, "JSON string argument parsed into an object")
	assert.Equal(t, "v", payload["k"])
}

func TestHTTPTransportResponseTemplate(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"temp": 21.5}}`))
	}))
	defer upstream.Close()

	tr := newHTTPTransportForTest(t, upstream.URL, config.Tool{
		Name:         "weather",
		Method:       "GET",
		Path:         "/v1/weather",
		ResponseBody: `temperature is {{response.data.result.temp}}`,
	})

	result, err := tr.CallTool(context.Background(), CallParams{Name: "weather"})
	require.NoError(t, err)
	assert.Equal(t, "temperature is 21.5", resultText(t, result))
}

func TestHTTPTransportUpstreamError(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	tr := newHTTPTransportForTest(t, upstream.URL, config.Tool{
		Name: "broken", Method: "GET", Path: "/v1/broken",
	})

	result, err := tr.CallTool(context.Background(), CallParams{Name: "broken"})
	require.NoError(t, err, "upstream failures surface as tool results, not errors")
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "500")
}

func TestHTTPTransportUnknownTool(t *testing.T) {
	t.Parallel()

	tr := newHTTPTransportForTest(t, "http://unused")
	result, err := tr.CallTool(context.Background(), CallParams{Name: "nope"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHTTPTransportUnreachableUpstream(t *testing.T) {
	t.Parallel()

	tr := newHTTPTransportForTest(t, "http://127.0.0.1:1", config.Tool{
		Name: "ping", Method: "GET", Path: "/ping",
	})

	result, err := tr.CallTool(context.Background(), CallParams{Name: "ping"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHTTPTransportRequestHeaderMerge(t *testing.T) {
	t.Parallel()

	var gotAuth, gotStatic string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotStatic = r.Header.Get("X-Static")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	tr := newHTTPTransportForTest(t, upstream.URL, config.Tool{
		Name:    "echo",
		Method:  "GET",
		Path:    "/echo",
		Headers: map[string]string{"X-Static": "tool-defined"},
	})

	result, err := tr.CallTool(context.Background(), CallParams{
		Name: "echo",
		Request: template.RequestContext{
			Headers: map[string]string{
				"Authorization": "Bearer tok",
				"X-Static":      "inbound-overridden",
			},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "Bearer tok", gotAuth, "inbound headers forwarded")
	assert.Equal(t, "tool-defined", gotStatic, "tool headers win over inbound")
}

func TestHTTPTransportFetchTools(t *testing.T) {
	t.Parallel()

	tr := newHTTPTransportForTest(t, "http://unused",
		config.Tool{
			Name:        "weather",
			Description: "fetch weather",
			Method:      "GET",
			Path:        "/v1/weather",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"city"},
			},
		},
		config.Tool{Name: "plain", Method: "GET", Path: "/plain"},
	)

	tools, err := tr.FetchTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "weather", tools[0].Name)
	assert.Equal(t, "fetch weather", tools[0].Description)
	assert.NotEmpty(t, tools[0].RawInputSchema)
	assert.Equal(t, "plain", tools[1].Name)
}

func TestNewTransportFactory(t *testing.T) {
	t.Parallel()

	for _, typ := range []config.MCPServerType{
		config.MCPServerTypeSSE, config.MCPServerTypeStdio, config.MCPServerTypeStreamable,
	} {
		tr, err := New(&config.MCPServer{Name: "s", Type: typ, Command: "cmd", URL: "http://x"})
		require.NoError(t, err, typ)
		assert.NotNil(t, tr)
		assert.False(t, tr.IsRunning())
	}

	_, err := New(&config.MCPServer{Name: "s", Type: "grpc"})
	assert.Error(t, err)
}
