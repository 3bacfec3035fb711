package nodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/flowmesh/flowmesh/pkg/logger"
)

func newIntegrationHandlers() *integrationHandlers {
	return &integrationHandlers{
		httpClient: http.DefaultClient,
		log:        logger.NewDefault("integrations-test"),
	}
}

func TestHTTPRequestNodeJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		if r.Header.Get("X-Custom") != "yes" {
			t.Errorf("missing custom header")
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("body not json: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"echo": payload["ping"]})
	}))
	defer srv.Close()

	h := newIntegrationHandlers()
	out, err := h.httpRequest(context.Background(), map[string]any{
		"url":         srv.URL,
		"method":      "post",
		"bearerToken": "tok",
		"headers":     map[string]any{"X-Custom": "yes"},
		"body":        map[string]any{"ping": "pong"},
	}, nil, nil)
	if err != nil {
		t.Fatalf("http request: %v", err)
	}
	m := out.(map[string]any)
	if m["status"] != http.StatusCreated {
		t.Fatalf("unexpected status: %v", m["status"])
	}
	body := m["body"].(map[string]any)
	if body["echo"] != "pong" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHTTPRequestNodeTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "plain text")
	}))
	defer srv.Close()

	h := newIntegrationHandlers()
	out, err := h.httpRequest(context.Background(), map[string]any{"url": srv.URL}, nil, nil)
	if err != nil {
		t.Fatalf("http request: %v", err)
	}
	if out.(map[string]any)["body"] != "plain text" {
		t.Fatalf("non-JSON body should stay text: %v", out)
	}
}

func TestSlackAndDiscordNodes(t *testing.T) {
	var slackPayload, discordPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		switch r.URL.Path {
		case "/slack":
			slackPayload = payload
		case "/discord":
			discordPayload = payload
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := newIntegrationHandlers()
	if _, err := h.slack(context.Background(), map[string]any{"webhookUrl": srv.URL + "/slack", "message": "hi"}, nil, nil); err != nil {
		t.Fatalf("slack: %v", err)
	}
	if slackPayload["text"] != "hi" {
		t.Fatalf("slack payload: %v", slackPayload)
	}

	if _, err := h.discord(context.Background(), map[string]any{"webhookUrl": srv.URL + "/discord"}, map[string]any{"prev": "from input"}, nil); err != nil {
		t.Fatalf("discord: %v", err)
	}
	if discordPayload["content"] != "from input" {
		t.Fatalf("discord payload: %v", discordPayload)
	}
}

func TestEmailNodeStub(t *testing.T) {
	h := newIntegrationHandlers()
	out, err := h.email(context.Background(), map[string]any{"to": "a@b.c", "subject": "hey"}, nil, nil)
	if err != nil {
		t.Fatalf("email: %v", err)
	}
	if out.(map[string]any)["queued"] != true {
		t.Fatalf("email should report queued: %v", out)
	}

	if _, err := h.email(context.Background(), map[string]any{}, nil, nil); err == nil {
		t.Fatalf("expected missing recipient error")
	}
}

func TestDBQueryNodeGuards(t *testing.T) {
	h := newIntegrationHandlers()

	if _, err := h.dbQuery(context.Background(), map[string]any{"query": "DELETE FROM workflows"}, nil, nil); err == nil {
		t.Fatalf("non-SELECT query must be rejected")
	}
	if _, err := h.dbQuery(context.Background(), map[string]any{"query": "SELECT 1"}, nil, nil); err == nil {
		t.Fatalf("expected error when database is not configured")
	}
}

func TestDBQueryNodeRows(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer mockDB.Close()

	mock.ExpectQuery("SELECT id, name FROM workflows").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow("wf-1", []byte("demo")))

	h := newIntegrationHandlers()
	h.db = sqlx.NewDb(mockDB, "sqlmock")

	out, err := h.dbQuery(context.Background(), map[string]any{"query": "SELECT id, name FROM workflows"}, nil, nil)
	if err != nil {
		t.Fatalf("db query: %v", err)
	}
	m := out.(map[string]any)
	if m["count"] != 1 {
		t.Fatalf("unexpected row count: %v", m)
	}
	row := m["rows"].([]map[string]any)[0]
	if row["name"] != "demo" {
		t.Fatalf("byte columns should decode to strings: %v", row)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFileWriteAndRead(t *testing.T) {
	h := newIntegrationHandlers()
	path := filepath.Join(t.TempDir(), "nested", "out.txt")

	out, err := h.fileWrite(context.Background(), map[string]any{"path": path, "content": "hello"}, nil, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if out.(map[string]any)["bytes"] != 5 {
		t.Fatalf("unexpected byte count: %v", out)
	}

	out, err = h.fileRead(context.Background(), map[string]any{"path": path}, nil, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.(map[string]any)["content"] != "hello" {
		t.Fatalf("unexpected content: %v", out)
	}

	if _, err := h.fileRead(context.Background(), map[string]any{"path": filepath.Join(t.TempDir(), "missing")}, nil, nil); err == nil {
		t.Fatalf("expected read error for missing file")
	}
}

const sampleFeed = `<?xml version="1.0"?>
<rss><channel>
<item><title>First</title><link>http://e/1</link><description><![CDATA[cdata text]]></description><pubDate>Mon, 01 Jan 2024 00:00:00 GMT</pubDate></item>
<item><title>Second</title><link>http://e/2</link></item>
<item><title>Third</title></item>
</channel></rss>`

func TestRSSNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, sampleFeed)
	}))
	defer srv.Close()

	h := newIntegrationHandlers()
	out, err := h.rss(context.Background(), map[string]any{"url": srv.URL, "maxItems": 2}, nil, nil)
	if err != nil {
		t.Fatalf("rss: %v", err)
	}
	m := out.(map[string]any)
	if m["count"] != 2 {
		t.Fatalf("maxItems cap not applied: %v", m["count"])
	}
	first := m["items"].([]any)[0].(map[string]any)
	if first["title"] != "First" || first["description"] != "cdata text" {
		t.Fatalf("unexpected first item: %v", first)
	}
}
