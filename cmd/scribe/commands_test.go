package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestRecordStart_SendsTitle(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/record/start": `{"id":"sess-123","title":"Planning","status":"in_progress"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/v1/record/start", map[string]string{"title": "Planning"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sess map[string]string
	if err := decodeJSON(resp, &sess); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if sess["id"] != "sess-123" {
		t.Errorf("id = %q, want sess-123", sess["id"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["title"] != "Planning" {
		t.Errorf("body.title = %q, want Planning", body["title"])
	}
}

func TestRecordStop_ErrorSurfaced(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.post(ctx, "/v1/record/stop", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", err.Error())
	}
}

func TestSessionsList_PassesLimit(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/sessions": `[{"id":"sess-1","title":"Standup","duration_seconds":60,"status":"completed"}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/v1/sessions?limit=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sessions []sessionRecord
	if err := decodeJSON(resp, &sessions); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Title != "Standup" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	if ts.requests[0].Path != "/v1/sessions?limit=5" {
		t.Errorf("path = %q, want limit passed through", ts.requests[0].Path)
	}
}

func TestSessionsRename_SendsPatch(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /v1/sessions/sess-1": `{"id":"sess-1","title":"Renamed"}`,
	})

	client := ts.client()
	resp, err := client.patch(ctx, "/v1/sessions/sess-1", map[string]string{"title": "Renamed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sess sessionRecord
	if err := decodeJSON(resp, &sess); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if sess.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", sess.Title)
	}
	if ts.requests[0].Method != "PATCH" {
		t.Errorf("method = %q, want PATCH", ts.requests[0].Method)
	}
}

func TestInsightsGenerate_SendsTypeAndPrompt(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/sessions/sess-1/insights": `{"type":"custom","content":"the risks are X"}`,
	})

	client := ts.client()
	body := map[string]string{"type": "custom", "prompt": "List the risks"}
	resp, err := client.post(ctx, "/v1/sessions/sess-1/insights", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var in map[string]string
	if err := decodeJSON(resp, &in); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if in["content"] != "the risks are X" {
		t.Errorf("content = %q", in["content"])
	}

	var sent map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["prompt"] != "List the risks" {
		t.Errorf("body.prompt = %q", sent["prompt"])
	}
}

func TestSessionsRename_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"sessions", "rename", "only-id"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing title arg")
	}
}

func TestInsightsGenerate_MissingSessionArg(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"insights", "generate"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0c9a7c41-1234-5678-9abc-def012345678"); got != "0c9a7c41" {
		t.Errorf("shortID = %q, want 0c9a7c41", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q, want abc", got)
	}
}
