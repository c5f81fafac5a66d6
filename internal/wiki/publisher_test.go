package wiki

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/starford/meetupwiki/internal/announcement"
	"github.com/starford/meetupwiki/internal/apperr"
	"github.com/starford/meetupwiki/internal/testutil"
)

const remote = "https://github.com/kyotorb/meetup.wiki.git"

const homeDoc = "# Kyoto.rb Meetup\n\n* [[第十四回 Meetup]] 2014/02/08\n"

func meetup15() announcement.Announcement {
	return announcement.Announcement{
		Number:    15,
		Date:      time.Date(2014, 3, 8, 0, 0, 0, 0, time.UTC),
		SourceURI: "https://groups.example.com/kyotorb/mail/15.html",
		Kind:      announcement.KindParsed,
	}
}

type fixture struct {
	dir string
	rec *testutil.Recorder
	pub *Publisher
}

func newFixture(t *testing.T, create bool, opts ...Option) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "meetup.wiki")
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	rec := &testutil.Recorder{}
	pub, err := New(Checkout{Path: dir, RemoteURL: remote}, rec, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{dir: dir, rec: rec, pub: pub}
}

type stateLog []State

func (l *stateLog) Transition(_ context.Context, s State) { *l = append(*l, s) }

func TestPageName(t *testing.T) {
	cases := map[int]string{
		1:  "第一回 Meetup",
		2:  "第二回 Meetup",
		3:  "第三回 Meetup",
		15: "第十五回 Meetup",
		27: "第二十七回 Meetup",
	}
	for n, want := range cases {
		if got := PageName(n); got != want {
			t.Errorf("PageName(%d) = %q, want %q", n, got, want)
		}
	}
	if got := FileName(15); got != "第十五回-Meetup.md" {
		t.Errorf("FileName(15) = %q", got)
	}
}

func TestInitializeOrUpdate_ClonesMissingCheckout(t *testing.T) {
	f := newFixture(t, false)
	if err := f.pub.InitializeOrUpdate(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := f.rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want exactly one clone", f.rec.Lines())
	}
	want := []string{"clone", remote, f.dir}
	if !slices.Equal(calls[0].Args, want) {
		t.Errorf("args = %q, want %q", calls[0].Args, want)
	}
	if calls[0].Dir != filepath.Dir(f.dir) {
		t.Errorf("clone ran in %q, want parent %q", calls[0].Dir, filepath.Dir(f.dir))
	}
}

func TestInitializeOrUpdate_PullsInsideStash(t *testing.T) {
	f := newFixture(t, true)
	if err := f.pub.InitializeOrUpdate(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"git stash save", "git pull", "git stash pop"}
	if got := f.rec.Lines(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	for _, c := range f.rec.Calls() {
		if c.Dir != f.dir {
			t.Errorf("%s ran in %q, want %q", c, c.Dir, f.dir)
		}
	}
}

func TestInitializeOrUpdate_PopsWhenPullFails(t *testing.T) {
	f := newFixture(t, true)
	f.rec.FailOn("git pull", &apperr.VCSError{Args: []string{"pull"}, ExitCode: 1})

	err := f.pub.InitializeOrUpdate(context.Background())
	if !errors.Is(err, apperr.ErrVersionControl) {
		t.Fatalf("err = %v", err)
	}
	want := []string{"git stash save", "git pull", "git stash pop"}
	if got := f.rec.Lines(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestRender_WritesPage(t *testing.T) {
	f := newFixture(t, true)
	a := meetup15()

	created, err := f.pub.Render(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected page to be created")
	}
	body, err := os.ReadFile(filepath.Join(f.dir, "第十五回-Meetup.md"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# 第十五回 Meetup", "2014/03/08", a.SourceURI} {
		if !strings.Contains(string(body), want) {
			t.Errorf("page missing %q:\n%s", want, body)
		}
	}
	if len(f.rec.Calls()) != 0 {
		t.Errorf("render issued git calls: %v", f.rec.Lines())
	}
}

func TestRender_NeverOverwrites(t *testing.T) {
	f := newFixture(t, true)
	a := meetup15()
	if _, err := f.pub.Render(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	page := filepath.Join(f.dir, FileName(a.Number))
	if err := os.WriteFile(page, []byte("edited by hand\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	created, err := f.pub.Render(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second render should be a no-op")
	}
	body, _ := os.ReadFile(page)
	if string(body) != "edited by hand\n" {
		t.Errorf("page overwritten: %q", body)
	}
}

func TestRender_MissingTemplateField(t *testing.T) {
	f := newFixture(t, true, WithTemplate("# {{.Name}} {{.Venue}}\n"))
	_, err := f.pub.Render(context.Background(), meetup15())
	if !errors.Is(err, apperr.ErrTemplateRender) {
		t.Fatalf("err = %v, want template render failure", err)
	}
	if _, statErr := os.Stat(filepath.Join(f.dir, FileName(15))); !os.IsNotExist(statErr) {
		t.Error("no page should be written when rendering fails")
	}
}

func TestNew_InvalidTemplate(t *testing.T) {
	_, err := New(Checkout{Path: t.TempDir()}, &testutil.Recorder{}, WithTemplate("{{.Name"))
	if !errors.Is(err, apperr.ErrTemplateRender) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadTemplate(t *testing.T) {
	text, err := LoadTemplate("")
	if err != nil || text != DefaultTemplate() {
		t.Fatalf("default template: %v", err)
	}
	path := testutil.WriteFile(t, t.TempDir(), "page.md.tmpl", "# {{.Name}}\n")
	text, err = LoadTemplate(path)
	if err != nil || text != "# {{.Name}}\n" {
		t.Fatalf("LoadTemplate = %q, %v", text, err)
	}
	if _, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.tmpl")); !errors.Is(err, apperr.ErrTemplateRender) {
		t.Errorf("missing template err = %v", err)
	}
}

func TestRender_MissingCheckout(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.pub.Render(context.Background(), meetup15()); !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateHistoryIndex(t *testing.T) {
	f := newFixture(t, true, WithHistoryIndex("Home.md"))
	testutil.WriteFile(t, f.dir, "Home.md", homeDoc)

	changed, err := f.pub.UpdateHistoryIndex(context.Background(), meetup15())
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected index change")
	}
	got, _ := os.ReadFile(filepath.Join(f.dir, "Home.md"))
	want := "# Kyoto.rb Meetup\n\n* [[第十五回 Meetup]] 2014/03/08\n* [[第十四回 Meetup]] 2014/02/08\n"
	if string(got) != want {
		t.Errorf("index:\n%s\nwant:\n%s", got, want)
	}

	changed, err = f.pub.UpdateHistoryIndex(context.Background(), meetup15())
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("second update should not add a duplicate entry")
	}
}

func TestUpdateHistoryIndex_LinkAboveListStillInserts(t *testing.T) {
	f := newFixture(t, true, WithHistoryIndex("Home.md"))
	testutil.WriteFile(t, f.dir, "Home.md", "# Home\n\nNext: [[第十五回 Meetup]]\n\n* [[第十四回 Meetup]] 2014/02/08\n")

	changed, err := f.pub.UpdateHistoryIndex(context.Background(), meetup15())
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("a link outside the list must not block the entry")
	}
	got, _ := os.ReadFile(filepath.Join(f.dir, "Home.md"))
	want := "# Home\n\nNext: [[第十五回 Meetup]]\n\n* [[第十五回 Meetup]] 2014/03/08\n* [[第十四回 Meetup]] 2014/02/08\n"
	if string(got) != want {
		t.Errorf("index:\n%s\nwant:\n%s", got, want)
	}
}

func TestUpdateHistoryIndex_NoBulletLine(t *testing.T) {
	f := newFixture(t, true, WithHistoryIndex("Home.md"))
	testutil.WriteFile(t, f.dir, "Home.md", "# Home\n\nNo meetups yet.\n")

	changed, err := f.pub.UpdateHistoryIndex(context.Background(), meetup15())
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("index without a bullet line must stay unchanged")
	}
	got, _ := os.ReadFile(filepath.Join(f.dir, "Home.md"))
	if string(got) != "# Home\n\nNo meetups yet.\n" {
		t.Errorf("index changed: %q", got)
	}
}

func TestUpdateHistoryIndex_MissingIndex(t *testing.T) {
	f := newFixture(t, true, WithHistoryIndex("Home.md"))
	if _, err := f.pub.UpdateHistoryIndex(context.Background(), meetup15()); !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("err = %v", err)
	}
}

func TestPublish_MissingCheckout(t *testing.T) {
	f := newFixture(t, false, WithHistoryIndex("Home.md"))
	err := f.pub.Publish(context.Background(), meetup15())
	if !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition failure", err)
	}
	if n := len(f.rec.Calls()); n != 0 {
		t.Errorf("issued %d git calls, want 0", n)
	}
}

func TestPublish_Ordering(t *testing.T) {
	f := newFixture(t, true, WithHistoryIndex("Home.md"))
	if err := f.pub.Publish(context.Background(), meetup15()); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"git add 第十五回-Meetup.md",
		"git add Home.md",
		"git commit -m Created next meetup #15",
		"git stash save",
		"git push",
		"git stash pop",
	}
	if got := f.rec.Lines(); !slices.Equal(got, want) {
		t.Errorf("calls:\n%v\nwant:\n%v", got, want)
	}
	commit := f.rec.Calls()[2].Args
	if len(commit) != 3 || commit[2] != "Created next meetup #15" {
		t.Errorf("commit args = %q", commit)
	}
}

func TestPublish_WithoutIndex(t *testing.T) {
	f := newFixture(t, true)
	if err := f.pub.Publish(context.Background(), meetup15()); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"git add 第十五回-Meetup.md",
		"git commit -m Created next meetup #15",
		"git stash save",
		"git push",
		"git stash pop",
	}
	if got := f.rec.Lines(); !slices.Equal(got, want) {
		t.Errorf("calls = %v", got)
	}
}

func TestPublish_CommitFailureStopsBeforePush(t *testing.T) {
	f := newFixture(t, true)
	f.rec.FailOn("git commit", &apperr.VCSError{Args: []string{"commit"}, ExitCode: 1})
	if err := f.pub.Publish(context.Background(), meetup15()); !errors.Is(err, apperr.ErrVersionControl) {
		t.Fatalf("err = %v", err)
	}
	for _, l := range f.rec.Lines() {
		if l == "git push" {
			t.Error("push must not run after a failed commit")
		}
	}
}

func TestGenerate_FullRun(t *testing.T) {
	f := newFixture(t, true, WithHistoryIndex("Home.md"))
	testutil.WriteFile(t, f.dir, "Home.md", homeDoc)
	var states stateLog

	res, err := f.pub.Generate(context.Background(), meetup15(), &states)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StatePublished || !res.Created || !res.Indexed {
		t.Errorf("result = %+v", res)
	}
	if res.Checksum == "" {
		t.Error("expected page checksum")
	}
	wantStates := stateLog{StateSynced, StateRendered, StateIndexed, StatePublished}
	if len(states) != len(wantStates) {
		t.Fatalf("states = %v", states)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], wantStates[i])
		}
	}
	want := []string{
		"git stash save", "git pull", "git stash pop",
		"git add 第十五回-Meetup.md", "git add Home.md",
		"git commit -m Created next meetup #15",
		"git stash save", "git push", "git stash pop",
	}
	if got := f.rec.Lines(); !slices.Equal(got, want) {
		t.Errorf("calls:\n%v\nwant:\n%v", got, want)
	}
}

func TestGenerate_ClonesThenRenders(t *testing.T) {
	f := newFixture(t, false)
	f.rec.OnRun = testutil.CloneCreatesDir

	res, err := f.pub.Generate(context.Background(), meetup15(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StatePublished {
		t.Errorf("state = %v", res.State)
	}
	if got := f.rec.Lines()[0]; got != "git clone "+remote+" "+f.dir {
		t.Errorf("first call = %q", got)
	}
	if _, err := os.Stat(filepath.Join(f.dir, FileName(15))); err != nil {
		t.Errorf("page not written: %v", err)
	}
}

func TestGenerate_PushFailureKeepsLastState(t *testing.T) {
	f := newFixture(t, true, WithHistoryIndex("Home.md"))
	testutil.WriteFile(t, f.dir, "Home.md", homeDoc)
	f.rec.FailOn("git push", &apperr.VCSError{Args: []string{"push"}, ExitCode: 1})

	res, err := f.pub.Generate(context.Background(), meetup15(), nil)
	if !errors.Is(err, apperr.ErrVersionControl) {
		t.Fatalf("err = %v", err)
	}
	if res.State != StateIndexed {
		t.Errorf("state = %v, want indexed", res.State)
	}
	lines := f.rec.Lines()
	if last := lines[len(lines)-1]; last != "git stash pop" {
		t.Errorf("last call = %q, want stash pop", last)
	}
}

func TestGenerate_SyncFailureStopsRun(t *testing.T) {
	f := newFixture(t, false)
	f.rec.FailOn("git clone", &apperr.VCSError{Args: []string{"clone"}, ExitCode: 128})

	res, err := f.pub.Generate(context.Background(), meetup15(), nil)
	if !errors.Is(err, apperr.ErrVersionControl) {
		t.Fatalf("err = %v", err)
	}
	if res.State != StateInit {
		t.Errorf("state = %v", res.State)
	}
	if n := len(f.rec.Calls()); n != 1 {
		t.Errorf("calls = %v", f.rec.Lines())
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t, false)
	md, html, err := f.pub.Preview(meetup15())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(md), "# 第十五回 Meetup") {
		t.Errorf("markdown = %q", md)
	}
	if !strings.Contains(string(html), "<h1>第十五回 Meetup</h1>") {
		t.Errorf("html = %s", html)
	}
	if !strings.Contains(string(html), "<table>") {
		t.Errorf("expected GFM table in html: %s", html)
	}
	if len(f.rec.Calls()) != 0 {
		t.Error("preview must not call git")
	}
}

func TestStateString(t *testing.T) {
	if StatePublished.String() != "published" || State(42).String() != "state(42)" {
		t.Error("unexpected state names")
	}
}
