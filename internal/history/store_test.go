package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkessler/anvil/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSummary(buildID, status string) *models.BuildSummary {
	return &models.BuildSummary{
		BuildID:       buildID,
		Task:          "Build",
		Configuration: "Debug",
		Status:        status,
		Results: []models.PhaseResult{
			{
				Phase:  "compile",
				Type:   models.PhaseSolution,
				Status: models.StatusSucceeded,
				Annotations: []models.Annotation{
					{Kind: models.KindWarning, File: "src/Main.cs", Line: 10, Column: 2, Message: "unused variable", Phase: "compile"},
				},
			},
			{
				Phase:  "lint",
				Type:   models.PhaseStyleCop,
				Status: models.StatusSkipped,
			},
		},
		Duration: 42 * time.Second,
	}
}

func TestRecordAndRetrieveBuild(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordBuild(ctx, sampleSummary("b-1", models.BuildSucceeded)); err != nil {
		t.Fatalf("RecordBuild() error: %v", err)
	}

	record, err := store.GetBuild(ctx, "b-1")
	if err != nil {
		t.Fatalf("GetBuild() error: %v", err)
	}
	if record == nil {
		t.Fatal("GetBuild() = nil, want record")
	}

	if record.Task != "Build" || record.Configuration != "Debug" {
		t.Errorf("record = %+v, wrong task/configuration", record)
	}
	if record.Status != models.BuildSucceeded {
		t.Errorf("Status = %q, want SUCCEEDED", record.Status)
	}
	if record.PhasesRun != 1 {
		t.Errorf("PhasesRun = %d, want 1 (skipped phases do not count)", record.PhasesRun)
	}
	if record.Duration != 42*time.Second {
		t.Errorf("Duration = %v, want 42s", record.Duration)
	}
}

func TestGetBuildUnknown(t *testing.T) {
	store := newTestStore(t)

	record, err := store.GetBuild(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetBuild() error: %v", err)
	}
	if record != nil {
		t.Errorf("GetBuild() = %+v, want nil for unknown build", record)
	}
}

func TestRecentBuildsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b-1", "b-2", "b-3"} {
		if err := store.RecordBuild(ctx, sampleSummary(id, models.BuildFailed)); err != nil {
			t.Fatalf("RecordBuild(%s) error: %v", id, err)
		}
	}

	records, err := store.RecentBuilds(ctx, 2)
	if err != nil {
		t.Fatalf("RecentBuilds() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("RecentBuilds() = %d records, want 2", len(records))
	}
	if records[0].BuildID != "b-3" || records[1].BuildID != "b-2" {
		t.Errorf("order = [%s, %s], want newest first", records[0].BuildID, records[1].BuildID)
	}

	latest, err := store.LatestBuild(ctx)
	if err != nil {
		t.Fatalf("LatestBuild() error: %v", err)
	}
	if latest == nil || latest.BuildID != "b-3" {
		t.Errorf("LatestBuild() = %+v, want b-3", latest)
	}
}

func TestAnnotationsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordBuild(ctx, sampleSummary("b-1", models.BuildSucceeded)); err != nil {
		t.Fatalf("RecordBuild() error: %v", err)
	}

	annotations, err := store.Annotations(ctx, "b-1")
	if err != nil {
		t.Fatalf("Annotations() error: %v", err)
	}
	if len(annotations) != 1 {
		t.Fatalf("Annotations() = %d, want 1", len(annotations))
	}

	a := annotations[0]
	if a.Kind != models.KindWarning || a.File != "src/Main.cs" || a.Line != 10 || a.Column != 2 {
		t.Errorf("annotation = %+v, lost fields in round trip", a)
	}
	if a.Phase != "compile" {
		t.Errorf("Phase = %q, want compile", a.Phase)
	}
}

func TestCleanupTrimsToMaxBuilds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b-1", "b-2", "b-3", "b-4"} {
		if err := store.RecordBuild(ctx, sampleSummary(id, models.BuildSucceeded)); err != nil {
			t.Fatalf("RecordBuild(%s) error: %v", id, err)
		}
	}

	deleted, err := store.CleanupOldBuilds(ctx, 0, 2)
	if err != nil {
		t.Fatalf("CleanupOldBuilds() error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	records, err := store.RecentBuilds(ctx, 0)
	if err != nil {
		t.Fatalf("RecentBuilds() error: %v", err)
	}
	if len(records) != 2 || records[0].BuildID != "b-4" {
		t.Errorf("kept = %d records, newest %s; want the 2 newest", len(records), records[0].BuildID)
	}
}

func TestDuplicateBuildIDRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordBuild(ctx, sampleSummary("b-1", models.BuildSucceeded)); err != nil {
		t.Fatalf("RecordBuild() error: %v", err)
	}
	if err := store.RecordBuild(ctx, sampleSummary("b-1", models.BuildFailed)); err == nil {
		t.Error("RecordBuild() with duplicate build ID should fail")
	}
}
