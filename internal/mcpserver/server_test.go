package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/meetupwiki/internal/announcement"
	"github.com/starford/meetupwiki/internal/ledger"
	"github.com/starford/meetupwiki/internal/publishing"
	"github.com/starford/meetupwiki/internal/testutil"
	"github.com/starford/meetupwiki/internal/wiki"
)

type fixedSource struct{}

func (fixedSource) Parse(_ context.Context, uri string) announcement.Announcement {
	return announcement.Announcement{
		Number:    27,
		Date:      time.Date(2015, 5, 30, 0, 0, 0, 0, time.UTC),
		SourceURI: uri,
	}
}

func testServer(t *testing.T) (*Server, *testutil.Recorder, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "meetup.wiki")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	rec := &testutil.Recorder{}
	pub, err := wiki.New(wiki.Checkout{Path: dir}, rec)
	if err != nil {
		t.Fatal(err)
	}

	db, err := ledger.Open(filepath.Join(t.TempDir(), "runs.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	srv := New(publishing.NewService(fixedSource{}, pub, publishing.WithLedger(db)))
	return srv, rec, dir
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "publish_meetup":
		result, err = srv.publishMeetup(ctx, req)
	case "preview_page":
		result, err = srv.previewPage(ctx, req)
	case "list_runs":
		result, err = srv.listRuns(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestPublishMeetup(t *testing.T) {
	srv, rec, dir := testServer(t)

	r := callTool(t, srv, "publish_meetup", map[string]interface{}{"source_uri": "mail.html"})
	if r.IsError {
		t.Fatalf("publish failed: %s", resultText(r))
	}
	var out publishing.Outcome
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Result.Page != "第二十七回-Meetup.md" {
		t.Errorf("page = %q", out.Result.Page)
	}
	if _, err := os.Stat(filepath.Join(dir, out.Result.Page)); err != nil {
		t.Errorf("page not written: %v", err)
	}
	if len(rec.Calls()) == 0 {
		t.Error("expected git calls")
	}

	r = callTool(t, srv, "list_runs", map[string]interface{}{"limit": 5})
	if !strings.Contains(resultText(r), `"status": "succeeded"`) {
		t.Errorf("runs = %s", resultText(r))
	}
}

func TestPublishMeetup_GitFailure(t *testing.T) {
	srv, rec, _ := testServer(t)
	rec.FailOn("git commit", os.ErrPermission)

	r := callTool(t, srv, "publish_meetup", map[string]interface{}{"source_uri": "mail.html"})
	if !r.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(resultText(r), "stopped at rendered") {
		t.Errorf("error = %q", resultText(r))
	}
}

func TestPublishMeetup_MissingArgument(t *testing.T) {
	srv, rec, _ := testServer(t)
	r := callTool(t, srv, "publish_meetup", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing source_uri")
	}
	if len(rec.Calls()) != 0 {
		t.Error("git must not run without a source")
	}
}

func TestPreviewPage(t *testing.T) {
	srv, rec, _ := testServer(t)
	r := callTool(t, srv, "preview_page", map[string]interface{}{"source_uri": "mail.html"})
	text := resultText(r)
	if !strings.Contains(text, "# 第二十七回 Meetup") {
		t.Errorf("preview = %q", text)
	}
	if len(rec.Calls()) != 0 {
		t.Error("preview must not run git")
	}
}

func TestListRuns_Empty(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "list_runs", map[string]interface{}{})
	if resultText(r) != "no runs recorded" {
		t.Errorf("runs = %q", resultText(r))
	}
}
