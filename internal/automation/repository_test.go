package automation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSQLiteRepository_DeviceCRUD(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	dev := testDevice("dev-1", "Pump 1")
	desc := "primary circulation pump"
	dev.Description = &desc

	t.Run("create", func(t *testing.T) {
		if err := repo.Create(ctx, dev); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if dev.CreatedAt.IsZero() || dev.UpdatedAt.IsZero() {
			t.Error("timestamps not set")
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		dup := testDevice("dev-1", "Other")
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrDeviceExists) {
			t.Errorf("Create duplicate id error = %v, want ErrDeviceExists", err)
		}
	})

	t.Run("duplicate slug", func(t *testing.T) {
		dup := testDevice("dev-2", "Pump 1")
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrDeviceExists) {
			t.Errorf("Create duplicate slug error = %v, want ErrDeviceExists", err)
		}
	})

	t.Run("get by id round trips transitions", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "dev-1")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Name != "Pump 1" || got.Slug != "pump-1" || !got.Enabled {
			t.Errorf("got %+v", got)
		}
		if got.Description == nil || *got.Description != desc {
			t.Errorf("Description = %v", got.Description)
		}
		on := got.Transitions["on"]
		if len(on) != 2 {
			t.Fatalf("on chain = %d steps, want 2", len(on))
		}
		if on[1].WaitBefore == nil || on[1].WaitBefore.Target != "hvac/pump-1/relay" || on[1].WaitBefore.TimeoutMS != 1000 {
			t.Errorf("wait_before = %+v", on[1].WaitBefore)
		}
		// JSON numbers come back as float64.
		if on[1].Value != float64(2) {
			t.Errorf("speed value = %#v, want 2.0", on[1].Value)
		}
	})

	t.Run("get by slug", func(t *testing.T) {
		got, err := repo.GetBySlug(ctx, "pump-1")
		if err != nil || got.ID != "dev-1" {
			t.Errorf("GetBySlug = %v, %v", got, err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("GetByID error = %v", err)
		}
		if _, err := repo.GetBySlug(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("GetBySlug error = %v", err)
		}
	})

	t.Run("update", func(t *testing.T) {
		dev.Enabled = false
		delete(dev.Transitions, "off")
		if err := repo.Update(ctx, dev); err != nil {
			t.Fatalf("Update: %v", err)
		}
		got, _ := repo.GetByID(ctx, "dev-1")
		if got.Enabled || len(got.Transitions) != 1 {
			t.Errorf("after update: enabled=%v transitions=%d", got.Enabled, len(got.Transitions))
		}
	})

	t.Run("update missing", func(t *testing.T) {
		if err := repo.Update(ctx, testDevice("missing", "Ghost")); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("Update error = %v", err)
		}
	})

	t.Run("list ordered by name", func(t *testing.T) {
		if err := repo.Create(ctx, testDevice("dev-0", "Boiler")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		list, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 2 || list[0].Name != "Boiler" || list[1].Name != "Pump 1" {
			t.Errorf("List order = %v", list)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "dev-0"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := repo.Delete(ctx, "dev-0"); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("second Delete error = %v", err)
		}
	})
}

func TestSQLiteRepository_Runs(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-1", "Pump 1")); err != nil {
		t.Fatalf("Create device: %v", err)
	}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	source := "api"
	for i := 0; i < 3; i++ {
		run := &RunRecord{
			ID:            "run-" + string(rune('a'+i)),
			DeviceID:      "dev-1",
			Transition:    "on",
			TriggerType:   "manual",
			TriggerSource: &source,
			Status:        RunRunning,
			StepsTotal:    2,
			StartedAt:     base.Add(time.Duration(i) * 150 * time.Millisecond),
		}
		if err := repo.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	t.Run("update settles run", func(t *testing.T) {
		completed := base.Add(time.Second)
		duration := int64(1000)
		step := 1
		run := &RunRecord{
			ID:           "run-a",
			Status:       RunFailed,
			FailedStep:   &step,
			ErrorCode:    CodeStateTimeout,
			ErrorMessage: "relay did not report",
			CompletedAt:  &completed,
			DurationMS:   &duration,
		}
		if err := repo.UpdateRun(ctx, run); err != nil {
			t.Fatalf("UpdateRun: %v", err)
		}

		got, err := repo.GetRun(ctx, "run-a")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status != RunFailed || got.ErrorCode != CodeStateTimeout || got.ErrorMessage != "relay did not report" {
			t.Errorf("got %+v", got)
		}
		if got.FailedStep == nil || *got.FailedStep != 1 {
			t.Errorf("FailedStep = %v", got.FailedStep)
		}
		if got.DurationMS == nil || *got.DurationMS != 1000 {
			t.Errorf("DurationMS = %v", got.DurationMS)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
			t.Errorf("CompletedAt = %v", got.CompletedAt)
		}
		if got.TriggerSource == nil || *got.TriggerSource != "api" {
			t.Errorf("TriggerSource = %v", got.TriggerSource)
		}
		if !got.StartedAt.Equal(base) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, base)
		}
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		runs, err := repo.ListRuns(ctx, "dev-1", 2)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if len(runs) != 2 || runs[0].ID != "run-c" || runs[1].ID != "run-b" {
			t.Errorf("ListRuns = %v", runs)
		}
	})

	t.Run("missing run", func(t *testing.T) {
		if _, err := repo.GetRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("GetRun error = %v", err)
		}
		if err := repo.UpdateRun(ctx, &RunRecord{ID: "nope", Status: RunCompleted}); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("UpdateRun error = %v", err)
		}
	})

	t.Run("cascade on device delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "dev-1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		runs, err := repo.ListRuns(ctx, "dev-1", 0)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if len(runs) != 0 {
			t.Errorf("runs after delete = %d, want 0", len(runs))
		}
	})
}
