// ABOUTME: Tests for job registry persistence
// ABOUTME: Covers job CRUD, upsert semantics, and trigger bookkeeping

package store

import (
	"context"
	"testing"
)

func TestSaveAndGetJob(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	job := &Job{
		ID:       "daily-report",
		Schedule: "0 9 * * *",
		Payload:  "summarize yesterday's activity",
		Enabled:  true,
	}

	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	got, err := store.GetJob(ctx, "daily-report")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Schedule != job.Schedule {
		t.Errorf("Schedule = %q, want %q", got.Schedule, job.Schedule)
	}
	if got.Payload != job.Payload {
		t.Errorf("Payload = %q, want %q", got.Payload, job.Payload)
	}
	if !got.Enabled {
		t.Error("Enabled = false, want true")
	}
	if got.Source != JobSourceManaged {
		t.Errorf("Source = %q, want %q", got.Source, JobSourceManaged)
	}
}

func TestSaveJob_UpdatesExisting(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveJob(ctx, &Job{ID: "j1", Schedule: "* * * * *", Payload: "a", Enabled: true}); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}
	if err := store.SaveJob(ctx, &Job{ID: "j1", Schedule: "0 * * * *", Payload: "b", Enabled: false}); err != nil {
		t.Fatalf("SaveJob update failed: %v", err)
	}

	got, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Schedule != "0 * * * *" || got.Payload != "b" || got.Enabled {
		t.Errorf("job not updated: %+v", got)
	}

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job after upsert, got %d", len(jobs))
	}
}

func TestSaveJob_EmptyID(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	if err := store.SaveJob(context.Background(), &Job{Schedule: "* * * * *"}); err == nil {
		t.Error("expected error for empty job id, got nil")
	}
}

func TestGetJob_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetJob(context.Background(), "nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListJobs(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for _, id := range []string{"b-job", "a-job", "c-job"} {
		if err := store.SaveJob(ctx, &Job{ID: id, Schedule: "* * * * *", Payload: "p", Enabled: true}); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
	}

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "a-job" || jobs[1].ID != "b-job" || jobs[2].ID != "c-job" {
		t.Errorf("jobs not ordered by id: %v %v %v", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}
}

func TestDeleteJob_Idempotent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveJob(ctx, &Job{ID: "j1", Schedule: "* * * * *", Payload: "p"}); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	if err := store.DeleteJob(ctx, "j1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if _, err := store.GetJob(ctx, "j1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteJob(ctx, "j1"); err != nil {
		t.Errorf("second DeleteJob failed: %v", err)
	}
}

func TestMarkJobTriggered(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveJob(ctx, &Job{ID: "j1", Schedule: "* * * * *", Payload: "p"}); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	if err := store.MarkJobTriggered(ctx, "j1", 1234.5); err != nil {
		t.Fatalf("MarkJobTriggered failed: %v", err)
	}

	got, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.LastTriggered != 1234.5 {
		t.Errorf("LastTriggered = %v, want 1234.5", got.LastTriggered)
	}

	if err := store.MarkJobTriggered(ctx, "missing", 1); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for missing job, got %v", err)
	}
}
