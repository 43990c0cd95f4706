package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"lesson_player_backend/internal/authority"
	"lesson_player_backend/internal/model"
	"lesson_player_backend/internal/util"
)

func TestRollupPercentage(t *testing.T) {
	cases := []struct {
		completed, total, want int
	}{
		{0, 4, 0},
		{1, 4, 25},
		{3, 4, 75},
		{4, 4, 100},
		{1, 3, 33},
		{2, 3, 67},
		{5, 5, 100},
		{0, 0, 0},
		{1, 0, 0},
	}
	for _, c := range cases {
		if got := RollupPercentage(c.completed, c.total); got != c.want {
			t.Errorf("RollupPercentage(%d, %d) = %d, want %d", c.completed, c.total, got, c.want)
		}
	}
}

func seedProgress(store *fakeProgressStore, userID, courseID uint, completedItems []uint, pct int) {
	store.enrollments[[2]uint{userID, courseID}] = model.Enrollment{
		ID:                 100,
		UserID:             userID,
		CourseID:           courseID,
		ProgressPercentage: pct,
		Status:             model.EnrollmentActive,
	}
	now := time.Now()
	for _, itemID := range completedItems {
		store.items[[2]uint{userID, itemID}] = model.ItemProgress{
			UserID:      userID,
			ItemID:      itemID,
			CourseID:    courseID,
			Completed:   true,
			CompletedAt: &now,
		}
	}
}

func TestMarkCompleteFinalItemUnlocksCourse(t *testing.T) {
	// 4 个条目已完成 3 个，完成最后一个后权威确认 100%
	store := newFakeProgressStore()
	seedProgress(store, 7, 1, []uint{1, 2, 3}, 75)

	client := &fakeAuthority{
		completeState: &authority.EnrollmentState{ProgressPercentage: 100, Status: "completed"},
	}
	svc := NewProgressService(store, client)

	result, err := svc.MarkComplete(context.Background(), 7, 1, 4, 4)
	if err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if result.ProgressPercentage != 100 {
		t.Errorf("ProgressPercentage = %d, want 100", result.ProgressPercentage)
	}
	if result.Status != model.EnrollmentCompleted {
		t.Errorf("Status = %s, want completed", result.Status)
	}

	item, ok := store.itemState(7, 4)
	if !ok || !item.Completed || item.Pending {
		t.Errorf("item state = %+v, want completed and confirmed", item)
	}
	if item.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	enrollment := store.enrollment(7, 1)
	if enrollment.ProgressPercentage != 100 || enrollment.Status != model.EnrollmentCompleted {
		t.Errorf("enrollment = %+v, want 100%% completed", enrollment)
	}
}

func TestMarkCompleteAuthorityFailureRollsBack(t *testing.T) {
	store := newFakeProgressStore()
	seedProgress(store, 7, 1, []uint{1}, 25)

	client := &fakeAuthority{completeErr: errStoreDown}
	svc := NewProgressService(store, client)

	_, err := svc.MarkComplete(context.Background(), 7, 1, 2, 4)
	if !errors.Is(err, util.ErrAuthorityUnavailable) {
		t.Fatalf("err = %v, want ErrAuthorityUnavailable", err)
	}

	// 乐观写整体回滚：新行删除、报名还原，本地不声称服务端没有的进度
	if _, ok := store.itemState(7, 2); ok {
		t.Error("optimistic item progress row should have been deleted")
	}
	enrollment := store.enrollment(7, 1)
	if enrollment.ProgressPercentage != 25 || enrollment.Status != model.EnrollmentActive {
		t.Errorf("enrollment = %+v, want restored to 25%% active", enrollment)
	}
}

func TestMarkCompleteIdempotentForCompletedItem(t *testing.T) {
	store := newFakeProgressStore()
	seedProgress(store, 7, 1, []uint{1, 2}, 50)

	client := &fakeAuthority{
		completeState: &authority.EnrollmentState{ProgressPercentage: 50, Status: "active"},
	}
	svc := NewProgressService(store, client)

	result, err := svc.MarkComplete(context.Background(), 7, 1, 2, 4)
	if err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if !result.AlreadyCompleted {
		t.Error("AlreadyCompleted = false, want true")
	}
	if result.ProgressPercentage != 50 {
		t.Errorf("ProgressPercentage = %d, want 50", result.ProgressPercentage)
	}
	if client.completeCalls != 0 {
		t.Errorf("authority called %d times for a completed item, want 0", client.completeCalls)
	}
}

func TestMarkCompleteRejectsConcurrentSubmission(t *testing.T) {
	// 快速双击：第一笔在途时第二笔直接拒绝
	store := newFakeProgressStore()
	seedProgress(store, 7, 1, nil, 0)

	client := &fakeAuthority{
		completeState: &authority.EnrollmentState{ProgressPercentage: 25, Status: "active"},
	}
	svc := NewProgressService(store, client)

	svc.mu.Lock()
	svc.inflight[[2]uint{7, 2}] = true
	svc.mu.Unlock()

	_, err := svc.MarkComplete(context.Background(), 7, 1, 2, 4)
	if !errors.Is(err, util.ErrCompletionInFlight) {
		t.Fatalf("err = %v, want ErrCompletionInFlight", err)
	}
	if client.completeCalls != 0 {
		t.Errorf("authority called %d times, want 0", client.completeCalls)
	}
}

func TestMarkCompleteTakesAuthoritativePercentage(t *testing.T) {
	// 权威核算口径可能与本地预估不同，确认后以权威值为准
	store := newFakeProgressStore()
	seedProgress(store, 7, 1, []uint{1, 2, 3}, 75)

	client := &fakeAuthority{
		completeState: &authority.EnrollmentState{ProgressPercentage: 80, Status: "active"},
	}
	svc := NewProgressService(store, client)

	result, err := svc.MarkComplete(context.Background(), 7, 1, 4, 5)
	if err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if result.ProgressPercentage != 80 {
		t.Errorf("ProgressPercentage = %d, want authority value 80", result.ProgressPercentage)
	}
	if got := store.enrollment(7, 1).ProgressPercentage; got != 80 {
		t.Errorf("cached enrollment = %d, want 80", got)
	}
}

func TestMarkCompleteMissingEnrollment(t *testing.T) {
	store := newFakeProgressStore()
	client := &fakeAuthority{}
	svc := NewProgressService(store, client)

	if _, err := svc.MarkComplete(context.Background(), 7, 1, 2, 4); err == nil {
		t.Fatal("expected error for missing enrollment")
	}
}
