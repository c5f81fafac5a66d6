package publishing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/meetupwiki/internal/announcement"
	"github.com/starford/meetupwiki/internal/apperr"
	"github.com/starford/meetupwiki/internal/ledger"
	"github.com/starford/meetupwiki/internal/metrics"
	"github.com/starford/meetupwiki/internal/sse"
	"github.com/starford/meetupwiki/internal/testutil"
	"github.com/starford/meetupwiki/internal/wiki"
)

type fixedSource struct {
	a announcement.Announcement
}

func (f fixedSource) Parse(_ context.Context, uri string) announcement.Announcement {
	a := f.a
	a.SourceURI = uri
	return a
}

type eventLog struct {
	mu    sync.Mutex
	kinds []string
	last  sse.RunEvent
	other []sse.Event
}

func (e *eventLog) Publish(event sse.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.other = append(e.other, event)
}

func (e *eventLog) PublishRunEvent(kind string, ev sse.RunEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind+":"+ev.State)
	e.last = ev
}

func testLedger(t *testing.T) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "runs.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setup(t *testing.T, opts ...Option) (*Service, *testutil.Recorder, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "meetup.wiki")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, dir, "Home.md", "# Home\n\n* [[第十四回 Meetup]] 2014/02/08\n")

	rec := &testutil.Recorder{}
	pub, err := wiki.New(wiki.Checkout{Path: dir, RemoteURL: "https://example.com/wiki.git"}, rec,
		wiki.WithHistoryIndex("Home.md"))
	if err != nil {
		t.Fatal(err)
	}
	src := fixedSource{a: announcement.Announcement{
		Number: 15,
		Date:   time.Date(2014, 3, 8, 0, 0, 0, 0, time.UTC),
	}}
	return NewService(src, pub, opts...), rec, dir
}

func TestPublish_RecordsSuccess(t *testing.T) {
	db := testLedger(t)
	events := &eventLog{}
	svc, _, dir := setup(t, WithLedger(db), WithMetrics(metrics.New()), WithEvents(events))

	out, err := svc.Publish(context.Background(), "mail.html")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if out.Result.State != wiki.StatePublished || out.RunID == "" {
		t.Errorf("outcome = %+v", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "第十五回-Meetup.md")); err != nil {
		t.Errorf("page missing: %v", err)
	}

	rec, err := db.Get(context.Background(), out.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != ledger.StatusSucceeded || rec.State != "published" || rec.SourceURI != "mail.html" {
		t.Errorf("ledger record = %+v", rec)
	}

	want := []string{
		"started:", "transition:synced", "transition:rendered",
		"transition:indexed", "transition:published", "finished:published",
	}
	if !slices.Equal(events.kinds, want) {
		t.Errorf("events = %v, want %v", events.kinds, want)
	}
	if events.last.Status != ledger.StatusSucceeded || events.last.RunID != out.RunID {
		t.Errorf("final event = %+v", events.last)
	}
}

func TestPublish_RecordsLastCompletedStateOnFailure(t *testing.T) {
	db := testLedger(t)
	svc, rec, _ := setup(t, WithLedger(db))
	rec.FailOn("git push", &apperr.VCSError{Args: []string{"push"}, ExitCode: 1})

	out, err := svc.Publish(context.Background(), "mail.html")
	if !errors.Is(err, apperr.ErrVersionControl) {
		t.Fatalf("err = %v", err)
	}
	r, err := db.Get(context.Background(), out.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != ledger.StatusFailed || r.State != "indexed" || r.Error == "" {
		t.Errorf("ledger record = %+v", r)
	}
}

func TestPublish_Serialized(t *testing.T) {
	svc, rec, _ := setup(t)
	var inFlight, maxInFlight atomic.Int32
	rec.OnRun = func(_ string, args []string) error {
		if args[0] == "pull" {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
		}
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Publish(context.Background(), "mail.html")
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxInFlight.Load())
	}
}

func TestRunsWithoutLedger(t *testing.T) {
	svc, _, _ := setup(t)
	runs, err := svc.Runs(context.Background(), 10)
	if err != nil || len(runs) != 0 {
		t.Errorf("runs = %v, %v", runs, err)
	}
}

func TestPreview(t *testing.T) {
	svc, rec, _ := setup(t)
	a, md, html, err := svc.Preview(context.Background(), "mail.html")
	if err != nil {
		t.Fatal(err)
	}
	if a.Number != 15 || len(md) == 0 || len(html) == 0 {
		t.Errorf("preview = %d, %d bytes md, %d bytes html", a.Number, len(md), len(html))
	}
	if len(rec.Calls()) != 0 {
		t.Error("preview must not call git")
	}
}

func TestPublish_AnnouncesDefaultedSource(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "meetup.wiki")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	pub, err := wiki.New(wiki.Checkout{Path: dir}, &testutil.Recorder{})
	if err != nil {
		t.Fatal(err)
	}
	src := fixedSource{a: announcement.Announcement{
		Date: time.Date(2014, 3, 8, 0, 0, 0, 0, time.UTC),
		Kind: announcement.KindDefaulted,
		Err:  apperr.ErrAnnouncementParse,
	}}
	events := &eventLog{}
	svc := NewService(src, pub, WithEvents(events))

	if _, err := svc.Publish(context.Background(), "broken.html"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(events.other) != 1 || events.other[0].Type != sse.AnnouncementDefaulted {
		t.Fatalf("events = %+v", events.other)
	}
	ev, ok := events.other[0].Data.(sse.AnnouncementEvent)
	if !ok || ev.SourceURI != "broken.html" || ev.Date != "2014/03/08" || ev.Error == "" {
		t.Errorf("payload = %+v", events.other[0].Data)
	}
}

func TestPublish_ParsedSourceSendsNoDefaultedEvent(t *testing.T) {
	events := &eventLog{}
	svc, _, _ := setup(t, WithEvents(events))
	if _, err := svc.Publish(context.Background(), "mail.html"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(events.other) != 0 {
		t.Errorf("unexpected events: %+v", events.other)
	}
}
