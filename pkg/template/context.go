// Package template renders the `{{…}}` expression spans embedded in tool
// definitions (paths, headers, request and response bodies). Expressions are
// CEL, evaluated against a fixed context of args, config, request, and
// response, plus a set of builtin helper functions.
package template

// RequestContext is the inbound-request half of the render context. For tool
// calls it merges the session's captured request snapshot with the current
// request, the current request winning on conflict.
type RequestContext struct {
	Headers map[string]string
	Query   map[string]string
	Cookies map[string]string
	Path    map[string]string
	Body    map[string]any
}

// ResponseContext carries the upstream HTTP response for response_body
// templates. Data is the parsed JSON body; Body mirrors it for templates
// written against either name.
type ResponseContext struct {
	Data map[string]any
	Body map[string]any
}

// Context is the full render context. Config carries the static per-tool
// values (tool_name, method, path, description) plus the backend base url.
type Context struct {
	Args     map[string]any
	Config   map[string]string
	Request  RequestContext
	Response ResponseContext
}

// vars flattens the context into the CEL activation.
func (c *Context) vars() map[string]any {
	args := c.Args
	if args == nil {
		args = map[string]any{}
	}
	cfg := c.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	return map[string]any{
		"args":   args,
		"config": cfg,
		"request": map[string]any{
			"headers": orEmptyStr(c.Request.Headers),
			"query":   orEmptyStr(c.Request.Query),
			"cookies": orEmptyStr(c.Request.Cookies),
			"path":    orEmptyStr(c.Request.Path),
			"body":    orEmptyAny(c.Request.Body),
		},
		"response": map[string]any{
			"data": orEmptyAny(c.Response.Data),
			"body": orEmptyAny(c.Response.Body),
		},
	}
}

func orEmptyStr(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// MergeRequest combines a session's captured request snapshot with the
// current request. Current values win on key conflicts.
func MergeRequest(snapshot, current RequestContext) RequestContext {
	return RequestContext{
		Headers: mergeStr(snapshot.Headers, current.Headers),
		Query:   mergeStr(snapshot.Query, current.Query),
		Cookies: mergeStr(snapshot.Cookies, current.Cookies),
		Path:    mergeStr(snapshot.Path, current.Path),
		Body:    current.Body,
	}
}

func mergeStr(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
