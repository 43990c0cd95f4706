package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"lesson_player_backend/internal/authority"
	"lesson_player_backend/internal/config"
	"lesson_player_backend/internal/util"
)

func newManagerDeps() managerDeps {
	store := newFakeProgressStore()
	client := &fakeAuthority{
		structure: &authority.CourseStructure{
			Course: *twoSectionCourse(),
			Enrollment: authority.EnrollmentState{
				ID:                 100,
				CourseID:           1,
				ProgressPercentage: 40,
				Status:             "active",
			},
			Progress: []authority.ItemProgressRecord{
				{ItemID: 1, Completed: true},
				{ItemID: 2, Completed: true},
			},
		},
	}
	return managerDeps{
		client:     client,
		timerStore: newFakeTimerStore(),
		courses:    newFakeCourseStore(),
		store:      store,
	}
}

type managerDeps struct {
	client     *fakeAuthority
	timerStore *fakeTimerStore
	courses    *fakeCourseStore
	store      *fakeProgressStore
}

func (d managerDeps) newManager() *SessionManager {
	// 定时循环拉到一小时外，测试里手动驱动 tick 与 flush
	cfg := config.SyncConfig{
		TickInterval:  time.Hour,
		FlushInterval: time.Hour,
		ExitFlushWait: time.Second,
	}
	return NewSessionManager(cfg, d.client, d.timerStore, d.courses, d.store, NewProgressService(d.store, d.client))
}

func TestSessionEnterCreatesAndCaches(t *testing.T) {
	deps := newManagerDeps()
	m := deps.newManager()

	session, structure, err := m.Enter(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer m.Exit(7, 1)

	if session.Graph().Len() != 5 {
		t.Errorf("graph len = %d, want 5", session.Graph().Len())
	}
	if structure.Enrollment.ProgressPercentage != 40 {
		t.Errorf("enrollment pct = %d, want 40", structure.Enrollment.ProgressPercentage)
	}

	// 权威下发落进了本地缓存
	if _, err := deps.courses.FindByID(1); err != nil {
		t.Errorf("course not cached: %v", err)
	}
	if got := deps.store.enrollment(7, 1).ProgressPercentage; got != 40 {
		t.Errorf("cached enrollment pct = %d, want 40", got)
	}
	count, _ := deps.store.CountCompletedItems(7, 1)
	if count != 2 {
		t.Errorf("cached completed items = %d, want 2", count)
	}
}

func TestCourseOutlineServedFromCache(t *testing.T) {
	deps := newManagerDeps()
	m := deps.newManager()

	// 没进过课时缓存为空
	if _, err := m.CourseOutline(1); !errors.Is(err, util.ErrCourseNotFound) {
		t.Fatalf("err = %v, want ErrCourseNotFound before first enter", err)
	}

	if _, _, err := m.Enter(context.Background(), 7, 1); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer m.Exit(7, 1)

	course, err := m.CourseOutline(1)
	if err != nil {
		t.Fatalf("CourseOutline: %v", err)
	}
	if course.ID != 1 || course.Title != "Intro Course" {
		t.Errorf("course = %+v", course)
	}

	if _, err := m.CourseOutline(99); !errors.Is(err, util.ErrCourseNotFound) {
		t.Errorf("err = %v, want ErrCourseNotFound for unknown course", err)
	}
}

func TestSessionEnterReusesExistingSession(t *testing.T) {
	deps := newManagerDeps()
	m := deps.newManager()

	first, _, err := m.Enter(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("first Enter: %v", err)
	}
	defer m.Exit(7, 1)

	second, _, err := m.Enter(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("second Enter: %v", err)
	}
	if first != second {
		t.Error("re-entering the same course should reuse the session")
	}
}

func TestSessionEnterAuthorityFailure(t *testing.T) {
	deps := newManagerDeps()
	deps.client.structureErr = errStoreDown
	m := deps.newManager()

	_, _, err := m.Enter(context.Background(), 7, 1)
	if !errors.Is(err, util.ErrAuthorityUnavailable) {
		t.Fatalf("err = %v, want ErrAuthorityUnavailable", err)
	}
	if _, err := m.Get(7, 1); !errors.Is(err, util.ErrSessionNotFound) {
		t.Error("no session should exist after a failed enter")
	}
}

func TestSessionActivateItemReportsAccess(t *testing.T) {
	deps := newManagerDeps()
	m := deps.newManager()

	if _, _, err := m.Enter(context.Background(), 7, 1); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer m.Exit(7, 1)

	neighbors, err := m.ActivateItem(7, 1, 3)
	if err != nil {
		t.Fatalf("ActivateItem: %v", err)
	}
	if neighbors.Previous == nil || neighbors.Previous.ItemID != 2 {
		t.Errorf("Previous = %v, want item 2", neighbors.Previous)
	}
	if neighbors.Next == nil || neighbors.Next.ItemID != 4 {
		t.Errorf("Next = %v, want item 4", neighbors.Next)
	}

	waitFor(t, testWaitTimeout, func() bool {
		return len(deps.client.sentAccessEvents()) == 1
	})

	// 同一会话重复打开同一课时不再上报
	if _, err := m.ActivateItem(7, 1, 3); err != nil {
		t.Fatalf("second ActivateItem: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(deps.client.sentAccessEvents()); got != 1 {
		t.Errorf("access events = %d, want 1", got)
	}

	state, err := m.State(7, 1)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.CurrentItemID != 3 {
		t.Errorf("CurrentItemID = %d, want 3", state.CurrentItemID)
	}
}

func TestSessionCompleteItemAdvances(t *testing.T) {
	deps := newManagerDeps()
	deps.client.completeState = &authority.EnrollmentState{ProgressPercentage: 60, Status: "active"}
	m := deps.newManager()

	if _, _, err := m.Enter(context.Background(), 7, 1); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer m.Exit(7, 1)

	outcome, err := m.CompleteItem(context.Background(), 7, 1, 3)
	if err != nil {
		t.Fatalf("CompleteItem: %v", err)
	}
	if outcome.Result.ProgressPercentage != 60 {
		t.Errorf("pct = %d, want 60", outcome.Result.ProgressPercentage)
	}
	if outcome.NextItem == nil || outcome.NextItem.ItemID != 4 {
		t.Errorf("NextItem = %v, want item 4", outcome.NextItem)
	}
	if outcome.CertificateUnlocked || outcome.UnlockedNow {
		t.Error("certificate should stay locked below 100%")
	}
}

func TestSessionCompleteFinalItemUnlocksCertificate(t *testing.T) {
	deps := newManagerDeps()
	deps.client.structure.Progress = []authority.ItemProgressRecord{
		{ItemID: 1, Completed: true},
		{ItemID: 2, Completed: true},
		{ItemID: 3, Completed: true},
		{ItemID: 4, Completed: true},
	}
	deps.client.structure.Enrollment.ProgressPercentage = 80
	deps.client.completeState = &authority.EnrollmentState{ProgressPercentage: 100, Status: "completed"}
	m := deps.newManager()

	if _, _, err := m.Enter(context.Background(), 7, 1); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer m.Exit(7, 1)

	outcome, err := m.CompleteItem(context.Background(), 7, 1, 5)
	if err != nil {
		t.Fatalf("CompleteItem: %v", err)
	}
	if !outcome.UnlockedNow || !outcome.CertificateUnlocked {
		t.Errorf("outcome = %+v, want certificate unlocked now", outcome)
	}
	if outcome.NextItem != nil {
		t.Errorf("NextItem = %v, want nil at course end", outcome.NextItem)
	}
}

func TestSessionCompleteUnknownItem(t *testing.T) {
	deps := newManagerDeps()
	m := deps.newManager()

	if _, _, err := m.Enter(context.Background(), 7, 1); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer m.Exit(7, 1)

	if _, err := m.CompleteItem(context.Background(), 7, 1, 99); !errors.Is(err, util.ErrItemNotFound) {
		t.Fatalf("err = %v, want ErrItemNotFound", err)
	}
}

func TestSessionExitFlushesAndRemoves(t *testing.T) {
	deps := newManagerDeps()
	m := deps.newManager()

	session, _, err := m.Enter(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}

	// 模拟积累了 3 秒未冲账
	session.Timer.Tick(context.Background())
	session.Timer.Tick(context.Background())
	session.Timer.Tick(context.Background())

	if err := m.Exit(7, 1); err != nil {
		t.Fatalf("Exit: %v", err)
	}

	hbs := deps.client.sentHeartbeats()
	if len(hbs) != 1 || hbs[0].SecondsDelta != 3 {
		t.Errorf("final flush heartbeats = %+v, want one with delta 3", hbs)
	}

	if _, err := m.Get(7, 1); !errors.Is(err, util.ErrSessionNotFound) {
		t.Error("session should be gone after exit")
	}
	if err := m.Exit(7, 1); !errors.Is(err, util.ErrSessionNotFound) {
		t.Errorf("second Exit err = %v, want ErrSessionNotFound", err)
	}
}
