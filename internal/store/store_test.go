package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/model"
)

type storeFactory func(t *testing.T) JobStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) JobStore { return NewMemoryStore() },
		"redis": func(t *testing.T) JobStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisStore(client, time.Hour)
		},
	}
}

func newJob(id string, created time.Time) *model.Job {
	return &model.Job{
		ID:        id,
		Status:    model.JobStatusQueued,
		CreatedAt: created,
		Config: model.RenderConfig{
			Segments: []model.Segment{{Type: model.SegmentTypeImage, MediaURL: "a.png", Duration: 2}},
			Resize:   "640x480",
			FPS:      30,
		},
	}
}

func TestJobStore(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) { testCreateGet(t, factory(t)) })
			t.Run("duplicate create", func(t *testing.T) { testDuplicateCreate(t, factory(t)) })
			t.Run("get unknown", func(t *testing.T) { testGetUnknown(t, factory(t)) })
			t.Run("list newest first", func(t *testing.T) { testListOrder(t, factory(t)) })
			t.Run("update", func(t *testing.T) { testUpdate(t, factory(t)) })
			t.Run("progress never decreases", func(t *testing.T) { testMonotonicProgress(t, factory(t)) })
			t.Run("terminal jobs are frozen", func(t *testing.T) { testTerminalGuard(t, factory(t)) })
			t.Run("update error leaves record", func(t *testing.T) { testUpdateAbort(t, factory(t)) })
			t.Run("delete", func(t *testing.T) { testDelete(t, factory(t)) })
			t.Run("concurrent updates", func(t *testing.T) { testConcurrentUpdates(t, factory(t)) })
		})
	}
}

func testCreateGet(t *testing.T, s JobStore) {
	ctx := context.Background()
	job := newJob("job-1", time.Now().UTC())
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != model.JobStatusQueued || got.Config.Resize != "640x480" {
		t.Errorf("unexpected job: %+v", got)
	}

	// Readers get copies.
	got.Config.Segments[0].MediaURL = "changed.png"
	again, _ := s.Get(ctx, "job-1")
	if again.Config.Segments[0].MediaURL != "a.png" {
		t.Error("mutating a snapshot changed the stored job")
	}
}

func testDuplicateCreate(t *testing.T, s JobStore) {
	ctx := context.Background()
	job := newJob("dup", time.Now())
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	err := s.Create(ctx, job)
	if apperr.CodeOf(err) != apperr.CodeConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func testGetUnknown(t *testing.T, s JobStore) {
	_, err := s.Get(context.Background(), "missing")
	if !apperr.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
	_, err = s.Update(context.Background(), "missing", func(*model.Job) error { return nil })
	if !apperr.IsNotFound(err) {
		t.Errorf("expected NotFound from Update, got %v", err)
	}
}

func testListOrder(t *testing.T, s JobStore) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.Create(ctx, newJob(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("List() returned %d jobs, want 3", len(jobs))
	}
	for i, want := range []string{"job-2", "job-1", "job-0"} {
		if jobs[i].ID != want {
			t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].ID, want)
		}
	}
}

func testUpdate(t *testing.T, s JobStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newJob("job-u", time.Now())); err != nil {
		t.Fatal(err)
	}

	got, err := s.Update(ctx, "job-u", func(j *model.Job) error {
		j.Status = model.JobStatusProcessing
		j.Progress = 40
		j.CurrentStep = "Rendered segment 1 of 2"
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got.Status != model.JobStatusProcessing || got.Progress != 40 {
		t.Errorf("unexpected update result: %+v", got)
	}

	stored, _ := s.Get(ctx, "job-u")
	if stored.CurrentStep != "Rendered segment 1 of 2" {
		t.Errorf("update was not persisted: %+v", stored)
	}
}

func testMonotonicProgress(t *testing.T, s JobStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newJob("job-m", time.Now())); err != nil {
		t.Fatal(err)
	}
	setProgress := func(p int) int {
		j, err := s.Update(ctx, "job-m", func(j *model.Job) error { j.Progress = p; return nil })
		if err != nil {
			t.Fatal(err)
		}
		return j.Progress
	}

	if got := setProgress(60); got != 60 {
		t.Errorf("progress = %d, want 60", got)
	}
	if got := setProgress(20); got != 60 {
		t.Errorf("progress went backwards to %d", got)
	}
	if got := setProgress(250); got != 100 {
		t.Errorf("progress = %d, want capped 100", got)
	}
}

func testTerminalGuard(t *testing.T, s JobStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newJob("job-t", time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, "job-t", func(j *model.Job) error {
		j.Status = model.JobStatusError
		j.Error = "segment 0: boom"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	_, err := s.Update(ctx, "job-t", func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		return nil
	})
	if !errors.Is(err, ErrJobFinalized) {
		t.Fatalf("expected ErrJobFinalized, got %v", err)
	}

	got, _ := s.Get(ctx, "job-t")
	if got.Status != model.JobStatusError {
		t.Errorf("terminal status changed to %s", got.Status)
	}
}

func testUpdateAbort(t *testing.T, s JobStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newJob("job-a", time.Now())); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	_, err := s.Update(ctx, "job-a", func(j *model.Job) error {
		j.Progress = 50
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	got, _ := s.Get(ctx, "job-a")
	if got.Progress != 0 {
		t.Errorf("aborted update was persisted: progress %d", got.Progress)
	}
}

func testDelete(t *testing.T, s JobStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newJob("job-d", time.Now())); err != nil {
		t.Fatal(err)
	}

	job, err := s.Delete(ctx, "job-d")
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if job.ID != "job-d" {
		t.Errorf("Delete() returned %s", job.ID)
	}
	if _, err := s.Get(ctx, "job-d"); !apperr.IsNotFound(err) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
	if _, err := s.Delete(ctx, "job-d"); !apperr.IsNotFound(err) {
		t.Errorf("expected NotFound on second delete, got %v", err)
	}
	jobs, _ := s.List(ctx)
	if len(jobs) != 0 {
		t.Errorf("List() after delete returned %d jobs", len(jobs))
	}
}

func testConcurrentUpdates(t *testing.T, s JobStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newJob("job-c", time.Now())); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "job-c", func(j *model.Job) error {
				j.Progress++
				return nil
			})
			if err != nil {
				t.Errorf("Update() error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "job-c")
	if got.Progress != workers {
		t.Errorf("progress = %d, want %d (lost update)", got.Progress, workers)
	}
}

func TestRedisStoreListDropsExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, time.Minute)
	ctx := context.Background()
	if err := s.Create(ctx, newJob("old", time.Now())); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Minute)

	jobs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected expired job to be dropped, got %d", len(jobs))
	}
	if mr.Exists(jobIndexKey) {
		members, _ := mr.Members(jobIndexKey)
		if len(members) != 0 {
			t.Errorf("index still holds %v", members)
		}
	}
}
