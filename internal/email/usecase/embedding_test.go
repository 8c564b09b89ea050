package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"
)

func TestSummarizeFallsBack(t *testing.T) {
	in := SummaryInput{Subject: "Quarterly report", Sender: "Alice <alice@example.com>"}
	want := "Email from Alice <alice@example.com> regarding: Quarterly report"

	cases := map[string]Summarizer{
		"nil summarizer": nil,
		"error":          &fakeSummarizer{err: errors.New("quota exceeded")},
		"blank answer":   &fakeSummarizer{out: "   "},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewEmbeddingPipeline(s, nil, nil)
			if got := p.Summarize(context.Background(), in); got != want {
				t.Errorf("summary = %q, want %q", got, want)
			}
		})
	}
}

func TestSummaryPromptTruncatesBody(t *testing.T) {
	s := &fakeSummarizer{out: "A short summary."}
	p := NewEmbeddingPipeline(s, nil, nil)
	body := strings.Repeat("é", MaxSummaryBodyChars+500)

	got := p.Summarize(context.Background(), SummaryInput{Subject: "s", Sender: "a@example.com", Body: body})
	if got != "A short summary." {
		t.Errorf("summary = %q", got)
	}
	if n := strings.Count(s.prompts[0], "é"); n != MaxSummaryBodyChars {
		t.Errorf("prompt carries %d body runes, want %d", n, MaxSummaryBodyChars)
	}
}

func TestEmbedReturnsZeroVectorOnFailure(t *testing.T) {
	narrow := newConceptEmbedder()
	narrow.width = 10

	cases := map[string]Embedder{
		"nil embedder":   nil,
		"error":          &conceptEmbedder{err: errors.New("connection refused")},
		"width mismatch": narrow,
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewEmbeddingPipeline(nil, e, nil)
			vec := p.Embed(context.Background(), "flight booking")
			if len(vec) != emaildomain.EmbeddingDimensions || !vec.IsZero() {
				t.Errorf("vector len=%d zero=%v, want zero vector of full width", len(vec), vec.IsZero())
			}
		})
	}
}

func TestEmbeddingTextCarriesMetadata(t *testing.T) {
	in := SummaryInput{Subject: "Trip", Sender: "bob@example.com", Date: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	got := BuildEmbeddingText("Summary here.", in)
	for _, want := range []string{"Summary here.", "From: bob@example.com", "Date: 2026-05-04", "Subject: Trip"} {
		if !strings.Contains(got, want) {
			t.Errorf("embedding text %q missing %q", got, want)
		}
	}
}

func newWorkerFixture(summarizer Summarizer, embedder Embedder) (*persistenceFixture, *EmbeddingWorkerService, *recordingMirror) {
	f := newPersistenceFixture()
	mirror := &recordingMirror{}
	w := NewEmbeddingWorkerService(f.emails, f.addresses, NewEmbeddingPipeline(summarizer, embedder, nil), mirror, 2, 10, 2, nil)
	return f, w, mirror
}

func TestProcessJobStoresSummaryWithEmbedding(t *testing.T) {
	f, w, mirror := newWorkerFixture(&fakeSummarizer{out: "Flight booking confirmed."}, newConceptEmbedder())
	ctx := context.Background()
	msg := testMessage("m1", "t1", "inbox")
	if _, err := f.p.UpsertEmail(ctx, &msg, "acc-1"); err != nil {
		t.Fatal(err)
	}

	if err := w.ProcessJob(ctx, EmbeddingJob{AccountID: "acc-1", EmailID: "m1"}); err != nil {
		t.Fatal(err)
	}
	stored := f.emails.get("m1")
	if stored.Summary == nil || *stored.Summary != "Flight booking confirmed." {
		t.Fatalf("summary = %v", stored.Summary)
	}
	if stored.Embedding == nil || stored.Embedding.IsZero() {
		t.Error("expected non-zero embedding")
	}
	if len(mirror.ids) != 1 {
		t.Errorf("mirror upserts = %d, want 1", len(mirror.ids))
	}

	// already summarized messages are skipped
	if err := w.ProcessJob(ctx, EmbeddingJob{AccountID: "acc-1", EmailID: "m1"}); err != nil {
		t.Fatal(err)
	}
	if len(mirror.ids) != 1 {
		t.Error("second job must be a no-op")
	}
}

func TestProcessJobDegradesWithoutAI(t *testing.T) {
	f, w, mirror := newWorkerFixture(&fakeSummarizer{err: errors.New("down")}, &conceptEmbedder{err: errors.New("down")})
	ctx := context.Background()
	msg := testMessage("m1", "t1", "inbox")
	msg.Subject = "Lunch"
	if _, err := f.p.UpsertEmail(ctx, &msg, "acc-1"); err != nil {
		t.Fatal(err)
	}

	if err := w.ProcessJob(ctx, EmbeddingJob{AccountID: "acc-1", EmailID: "m1"}); err != nil {
		t.Fatal(err)
	}
	stored := f.emails.get("m1")
	if stored.Summary == nil || *stored.Summary != "Email from Alice <alice@example.com> regarding: Lunch" {
		t.Errorf("summary = %v", stored.Summary)
	}
	if stored.Embedding == nil || !stored.Embedding.IsZero() {
		t.Error("expected zero vector stored alongside the fallback summary")
	}
	if len(mirror.ids) != 0 {
		t.Error("zero vectors must not be mirrored")
	}
}

func TestProcessJobMissingEmail(t *testing.T) {
	_, w, _ := newWorkerFixture(nil, nil)
	if err := w.ProcessJob(context.Background(), EmbeddingJob{EmailID: "gone"}); err != nil {
		t.Errorf("err = %v, want nil for a deleted message", err)
	}
}

func TestEmbeddingNeverWithoutSummary(t *testing.T) {
	f, w, _ := newWorkerFixture(&fakeSummarizer{out: "ok"}, newConceptEmbedder())
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		msg := testMessage(id, "t1", "inbox")
		if _, err := f.p.UpsertEmail(ctx, &msg, "acc-1"); err != nil {
			t.Fatal(err)
		}
	}
	_ = w.ProcessJob(ctx, EmbeddingJob{EmailID: "m2"})

	for _, id := range []string{"m1", "m2", "m3"} {
		e := f.emails.get(id)
		if e.Embedding != nil && e.Summary == nil {
			t.Errorf("%s has an embedding without a summary", id)
		}
	}
}

func TestBackfillQueuesOneBatch(t *testing.T) {
	f, w, _ := newWorkerFixture(nil, nil)
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		msg := testMessage(id, "t1", "inbox")
		if _, err := f.p.UpsertEmail(ctx, &msg, "acc-1"); err != nil {
			t.Fatal(err)
		}
	}

	n, err := w.Backfill(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("queued = %d, want the batch size of 2", n)
	}
}

func TestWorkerPoolDrainsOnStop(t *testing.T) {
	f, w, _ := newWorkerFixture(&fakeSummarizer{out: "done"}, newConceptEmbedder())
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		msg := testMessage(id, "t1", "inbox")
		if _, err := f.p.UpsertEmail(ctx, &msg, "acc-1"); err != nil {
			t.Fatal(err)
		}
		if !w.Enqueue(EmbeddingJob{AccountID: "acc-1", EmailID: id}) {
			t.Fatalf("enqueue %s refused", id)
		}
	}
	w.Start()
	w.Stop()
	w.Stop()

	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		if e := f.emails.get(id); e.Summary == nil {
			t.Errorf("%s not processed before stop returned", id)
		}
	}
	if w.Enqueue(EmbeddingJob{EmailID: "m5"}) {
		t.Error("enqueue after stop must be refused")
	}
}
