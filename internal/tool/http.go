package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noetl/noetl/internal/pkg/httpx"
)

// httpAdapter issues a single HTTP request per invocation. Grounded on the
// teacher's llm_http.go transport style: a constructed *http.Request fed
// through a shared *http.Client with an explicit timeout, body read fully
// and decoded best-effort as JSON with a string fallback.
type httpAdapter struct {
	client *http.Client
}

func NewHTTPAdapter() Adapter {
	return httpAdapter{client: &http.Client{Timeout: 60 * time.Second}}
}

const kindHTTP = "http"

func (httpAdapter) Kind() string             { return kindHTTP }
func (httpAdapter) CapabilityTag() string    { return "cpu" }
func (httpAdapter) RequiredSecrets() []string { return nil }

func (a httpAdapter) Execute(ctx context.Context, spec map[string]any, rc RuntimeContext, cancel <-chan struct{}, progress chan<- Progress) (Result, error) {
	method, _ := spec["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	url, _ := spec["url"].(string)
	if url == "" {
		return Result{}, fmt.Errorf("http: spec.url is required")
	}

	var body io.Reader
	if raw, ok := spec["body"]; ok && raw != nil {
		switch b := raw.(type) {
		case string:
			body = bytes.NewBufferString(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return Result{}, fmt.Errorf("http: encoding spec.body: %w", err)
			}
			body = bytes.NewBuffer(encoded)
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-cancel:
			stop()
		case <-runCtx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(runCtx, method, url, body)
	if err != nil {
		return Result{}, fmt.Errorf("http: building request: %w", err)
	}
	if headers, ok := spec["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}
	if cred, ok := spec["credential"].(string); ok && cred != "" && rc.Secrets != nil {
		token, err := rc.Secrets.Resolve(runCtx, cred)
		if err != nil {
			return Result{}, fmt.Errorf("http: resolving credential %q: %w", cred, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if progress != nil {
		select {
		case progress <- Progress{Message: method + " " + url}:
		default:
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("http: reading response: %w", err)
	}

	data := map[string]any{"status_code": resp.StatusCode}
	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		data["body"] = decoded
	} else {
		data["body"] = string(raw)
	}

	res := Result{Data: data}
	if resp.StatusCode >= 400 {
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			res.Error = fmt.Sprintf("transient: http status %d", resp.StatusCode)
		} else {
			res.Error = fmt.Sprintf("http status %d", resp.StatusCode)
		}
	}
	return res, nil
}
