package video

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/veeky/veeky-indexer/internal/db"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func createTestVideo(t *testing.T, repo *SQLiteRepository) *Video {
	t.Helper()
	v := &Video{
		ID:         NewID(),
		Name:       "test video",
		Keywords:   []string{"go", "testing"},
		SourceType: SourceUpload,
		FilePath:   "/videos/test.mp4",
		Status:     StatusPending,
	}
	if err := repo.CreateVideo(context.Background(), v); err != nil {
		t.Fatalf("failed to create video: %v", err)
	}
	return v
}

func TestCreateAndGetVideo(t *testing.T) {
	repo := setupRepo(t)
	v := createTestVideo(t, repo)

	got, err := repo.GetVideo(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got == nil {
		t.Fatal("video not found")
	}
	if got.Name != v.Name || got.Status != StatusPending {
		t.Errorf("unexpected video: %+v", got)
	}
	if len(got.Keywords) != 2 || got.Keywords[0] != "go" {
		t.Errorf("keywords not round-tripped: %v", got.Keywords)
	}
}

func TestGetVideoMissing(t *testing.T) {
	repo := setupRepo(t)

	got, err := repo.GetVideo(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing video, got %+v", got)
	}
}

func TestTransitionStatusCAS(t *testing.T) {
	repo := setupRepo(t)
	v := createTestVideo(t, repo)
	ctx := context.Background()

	ok, err := repo.TransitionStatus(ctx, v.ID, StatusPending, StatusProcessing, "")
	if err != nil || !ok {
		t.Fatalf("PENDING->PROCESSING failed: ok=%v err=%v", ok, err)
	}

	// A second transition from PENDING must lose the compare-and-set.
	ok, err = repo.TransitionStatus(ctx, v.ID, StatusPending, StatusProcessing, "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("duplicate PENDING->PROCESSING transition succeeded")
	}

	ok, err = repo.TransitionStatus(ctx, v.ID, StatusProcessing, StatusFailed, "boom")
	if err != nil || !ok {
		t.Fatalf("PROCESSING->FAILED failed: ok=%v err=%v", ok, err)
	}

	// Terminal status cannot be left by pipeline transitions.
	ok, _ = repo.TransitionStatus(ctx, v.ID, StatusProcessing, StatusCompleted, "")
	if ok {
		t.Error("transition out of FAILED via PROCESSING guard succeeded")
	}

	got, _ := repo.GetVideo(ctx, v.ID)
	if got.Status != StatusFailed || got.FailureCause != "boom" {
		t.Errorf("unexpected final state: %s/%q", got.Status, got.FailureCause)
	}
}

func TestLeaseExclusivityAndExpiry(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	videoID := NewID()

	ok, err := repo.AcquireLease(ctx, videoID, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire failed: ok=%v err=%v", ok, err)
	}

	ok, err = repo.AcquireLease(ctx, videoID, "worker-b", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second worker acquired a held lease")
	}

	// An expired lease is free for the taking.
	ok, err = repo.AcquireLease(ctx, NewID(), "worker-a", -time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire with negative ttl failed: ok=%v err=%v", ok, err)
	}
	expired := NewID()
	if ok, _ = repo.AcquireLease(ctx, expired, "worker-a", -time.Second); !ok {
		t.Fatal("setup acquire failed")
	}
	ok, err = repo.AcquireLease(ctx, expired, "worker-b", time.Minute)
	if err != nil || !ok {
		t.Errorf("expired lease not taken over: ok=%v err=%v", ok, err)
	}

	// Release frees the lease for anyone.
	if err := repo.ReleaseLease(ctx, videoID, "worker-a"); err != nil {
		t.Fatal(err)
	}
	ok, err = repo.AcquireLease(ctx, videoID, "worker-b", time.Minute)
	if err != nil || !ok {
		t.Errorf("released lease not acquirable: ok=%v err=%v", ok, err)
	}
}

func TestRenewLeaseOnlyForOwner(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	videoID := NewID()

	if ok, _ := repo.AcquireLease(ctx, videoID, "worker-a", time.Minute); !ok {
		t.Fatal("setup acquire failed")
	}

	ok, err := repo.RenewLease(ctx, videoID, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Errorf("owner renewal failed: ok=%v err=%v", ok, err)
	}
	ok, err = repo.RenewLease(ctx, videoID, "worker-b", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("non-owner renewed the lease")
	}
}

func TestQueueLifecycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if _, ok, err := repo.Dequeue(ctx); err != nil || ok {
		t.Fatalf("empty queue dequeued something: ok=%v err=%v", ok, err)
	}

	if err := repo.Enqueue(ctx, "vid-1"); err != nil {
		t.Fatal(err)
	}
	// Duplicate enqueue collapses into one pending row.
	if err := repo.Enqueue(ctx, "vid-1"); err != nil {
		t.Fatal(err)
	}

	id, ok, err := repo.Dequeue(ctx)
	if err != nil || !ok || id != "vid-1" {
		t.Fatalf("dequeue failed: id=%q ok=%v err=%v", id, ok, err)
	}

	// A claimed row is invisible to further dequeues.
	if _, ok, _ = repo.Dequeue(ctx); ok {
		t.Error("claimed row dequeued twice")
	}

	if err := repo.Ack(ctx, "vid-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ = repo.Dequeue(ctx); ok {
		t.Error("acked row still in queue")
	}
}

func TestRequeueStale(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	stuck := createTestVideo(t, repo)
	if ok, _ := repo.TransitionStatus(ctx, stuck.ID, StatusPending, StatusProcessing, ""); !ok {
		t.Fatal("setup transition failed")
	}

	active := createTestVideo(t, repo)
	if ok, _ := repo.TransitionStatus(ctx, active.ID, StatusPending, StatusProcessing, ""); !ok {
		t.Fatal("setup transition failed")
	}
	if ok, _ := repo.AcquireLease(ctx, active.ID, "worker-a", time.Minute); !ok {
		t.Fatal("setup lease failed")
	}

	n, err := repo.RequeueStale(ctx, time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered video, got %d", n)
	}

	got, _ := repo.GetVideo(ctx, stuck.ID)
	if got.Status != StatusPending {
		t.Errorf("stuck video not reset: %s", got.Status)
	}
	id, ok, _ := repo.Dequeue(ctx)
	if !ok || id != stuck.ID {
		t.Errorf("stuck video not requeued: id=%q ok=%v", id, ok)
	}

	got, _ = repo.GetVideo(ctx, active.ID)
	if got.Status != StatusProcessing {
		t.Errorf("leased video was recovered: %s", got.Status)
	}
}

func TestRequeueStaleRecoversOldClaims(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	// A worker claimed the row and crashed before touching the video, so the
	// video is still PENDING and no lease exists.
	orphan := createTestVideo(t, repo)
	if err := repo.Enqueue(ctx, orphan.ID); err != nil {
		t.Fatal(err)
	}
	id, ok, err := repo.Dequeue(ctx)
	if err != nil || !ok || id != orphan.ID {
		t.Fatalf("setup dequeue failed: id=%q ok=%v err=%v", id, ok, err)
	}
	stale := time.Now().Add(-5 * time.Minute).UTC().Format(time.RFC3339)
	if _, err := repo.db.ExecContext(ctx,
		"UPDATE queue SET claimed_at = ? WHERE video_id = ?", stale, orphan.ID); err != nil {
		t.Fatal(err)
	}

	// A freshly claimed row belongs to a live worker and stays claimed.
	fresh := createTestVideo(t, repo)
	if err := repo.Enqueue(ctx, fresh.ID); err != nil {
		t.Fatal(err)
	}
	if id, ok, _ := repo.Dequeue(ctx); !ok || id != fresh.ID {
		t.Fatal("setup dequeue failed for fresh claim")
	}

	n, err := repo.RequeueStale(ctx, time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered claim, got %d", n)
	}

	id, ok, err = repo.Dequeue(ctx)
	if err != nil || !ok || id != orphan.ID {
		t.Errorf("orphaned claim not back on the queue: id=%q ok=%v err=%v", id, ok, err)
	}
	if id, ok, _ := repo.Dequeue(ctx); ok {
		t.Errorf("fresh claim was recovered: %q", id)
	}
}

func TestIntervalsRoundTrip(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	v := createTestVideo(t, repo)

	intervals := []Interval{
		{Order: 0, Start: 0, End: 30},
		{Order: 1, Start: 30, End: 55.5},
	}
	if err := repo.SetIntervals(ctx, v.ID, intervals); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetIntervals(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].End != 55.5 {
		t.Errorf("intervals not round-tripped: %+v", got)
	}

	// Replacing intervals discards the old set.
	if err := repo.SetIntervals(ctx, v.ID, intervals[:1]); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetIntervals(ctx, v.ID)
	if len(got) != 1 {
		t.Errorf("expected 1 interval after replace, got %d", len(got))
	}
}

func TestSnapshotDefaultsAndOverrides(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	defaults := SnapshotDefaults{TextModel: "text-default", VisionModel: "vision-default", EmbedModel: "embed-default"}

	snap, err := repo.Snapshot(ctx, "", defaults)
	if err != nil {
		t.Fatal(err)
	}
	if snap.TextModel != "text-default" || snap.EmbedModel != "embed-default" {
		t.Errorf("defaults not applied: %+v", snap)
	}
	if snap.Prompt(PromptTranscriptCleanup) == "" {
		t.Error("built-in prompt fallback missing")
	}

	// Stored settings override defaults.
	if err := repo.SetLLMSetting(ctx, "text", "llama-custom", 0.7, 1024); err != nil {
		t.Fatal(err)
	}
	snap, err = repo.Snapshot(ctx, "", defaults)
	if err != nil {
		t.Fatal(err)
	}
	if snap.TextModel != "llama-custom" || snap.Temperature != 0.7 || snap.MaxTokens != 1024 {
		t.Errorf("llm setting not applied: %+v", snap)
	}
}

func TestSnapshotCategoryEmbedModel(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	defaults := SnapshotDefaults{TextModel: "t", VisionModel: "v", EmbedModel: "embed-default"}

	cat := &Category{ID: NewID(), Name: "surgery", EmbedModel: "embed-medical"}
	if err := repo.CreateCategory(ctx, cat); err != nil {
		t.Fatal(err)
	}

	snap, err := repo.Snapshot(ctx, cat.ID, defaults)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ImageEmbedModel != "embed-medical" {
		t.Errorf("category image embed model not used: %s", snap.ImageEmbedModel)
	}
	// The override only touches image embeddings; text embeddings stay on
	// the shared model so query vectors remain comparable.
	if snap.EmbedModel != "embed-default" {
		t.Errorf("text embed model changed by category: %s", snap.EmbedModel)
	}
	if snap.Category != "surgery" {
		t.Errorf("category name missing: %q", snap.Category)
	}

	// A category without its own model falls back to the default.
	plain := &Category{ID: NewID(), Name: "general"}
	if err := repo.CreateCategory(ctx, plain); err != nil {
		t.Fatal(err)
	}
	snap, _ = repo.Snapshot(ctx, plain.ID, defaults)
	if snap.EmbedModel != "embed-default" || snap.ImageEmbedModel != "embed-default" {
		t.Errorf("fallback embed models not used: %s / %s", snap.EmbedModel, snap.ImageEmbedModel)
	}
}

func TestSnapshotCategoryEmbedModelSurvivesGlobalSetting(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	defaults := SnapshotDefaults{TextModel: "t", VisionModel: "v", EmbedModel: "embed-default"}

	// Category pin equal to the default is still a pin.
	cat := &Category{ID: NewID(), Name: "surgery", EmbedModel: "embed-default"}
	if err := repo.CreateCategory(ctx, cat); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetLLMSetting(ctx, "embedding", "embed-global", 0, 0); err != nil {
		t.Fatal(err)
	}

	snap, err := repo.Snapshot(ctx, cat.ID, defaults)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ImageEmbedModel != "embed-default" {
		t.Errorf("global setting clobbered category pin: %s", snap.ImageEmbedModel)
	}
	if snap.EmbedModel != "embed-global" {
		t.Errorf("text embed model not following global setting: %s", snap.EmbedModel)
	}
}

func TestSnapshotPromptSelection(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	defaults := SnapshotDefaults{TextModel: "t", VisionModel: "v", EmbedModel: "e"}

	cat := &Category{ID: NewID(), Name: "cooking"}
	if err := repo.CreateCategory(ctx, cat); err != nil {
		t.Fatal(err)
	}

	if err := repo.SetPrompt(ctx, PromptKeyframeDescription, "", "generic {category} prompt"); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetPrompt(ctx, PromptKeyframeDescription, "cooking", "cooking prompt for {category}"); err != nil {
		t.Fatal(err)
	}

	snap, err := repo.Snapshot(ctx, cat.ID, defaults)
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.Prompt(PromptKeyframeDescription); got != "cooking prompt for cooking" {
		t.Errorf("category prompt not selected: %q", got)
	}

	// Snapshot is immutable: a later prompt change is not observed.
	if err := repo.SetPrompt(ctx, PromptKeyframeDescription, "cooking", "changed"); err != nil {
		t.Fatal(err)
	}
	if got := snap.Prompt(PromptKeyframeDescription); got != "cooking prompt for cooking" {
		t.Errorf("snapshot observed a mid-run config change: %q", got)
	}
}
