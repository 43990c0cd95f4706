package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lesson_player_backend/internal/authority"
	"lesson_player_backend/internal/model"

	"gorm.io/gorm"
)

// fakeTimerStore is an in-memory TimerStore with switchable failure.
type fakeTimerStore struct {
	mu         sync.Mutex
	values     map[[2]uint]int64
	loadErr    error
	saveErr    error
	saves      int
	saveStarts int
	saveGate   chan struct{} // non-nil: every Save waits for a token before writing
}

func newFakeTimerStore() *fakeTimerStore {
	return &fakeTimerStore{values: make(map[[2]uint]int64)}
}

func (s *fakeTimerStore) Load(ctx context.Context, userID, courseID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return 0, s.loadErr
	}
	return s.values[[2]uint{userID, courseID}], nil
}

func (s *fakeTimerStore) Save(ctx context.Context, userID, courseID uint, seconds int64) error {
	s.mu.Lock()
	gate := s.saveGate
	s.saveStarts++
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.values[[2]uint{userID, courseID}] = seconds
	s.saves++
	return nil
}

func (s *fakeTimerStore) setSaveGate(gate chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveGate = gate
}

func (s *fakeTimerStore) saveStartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveStarts
}

func (s *fakeTimerStore) value(userID, courseID uint) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[[2]uint{userID, courseID}]
}

func (s *fakeTimerStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// fakeAuthority records calls and returns canned responses.
type fakeAuthority struct {
	mu sync.Mutex

	structure    *authority.CourseStructure
	structureErr error

	heartbeats   []authority.Heartbeat
	heartbeatErr error

	accessEvents   []authority.AccessEvent
	accessAttempts int
	accessErr      error

	completeState *authority.EnrollmentState
	completeErr   error
	completeCalls int

	artifact *authority.CertificateArtifact
	claimErr error
}

func (a *fakeAuthority) GetCourseStructure(ctx context.Context, userID, courseID uint) (*authority.CourseStructure, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.structureErr != nil {
		return nil, a.structureErr
	}
	return a.structure, nil
}

func (a *fakeAuthority) PostAccessEvent(ctx context.Context, userID uint, ev authority.AccessEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accessAttempts++
	if a.accessErr != nil {
		return a.accessErr
	}
	a.accessEvents = append(a.accessEvents, ev)
	return nil
}

func (a *fakeAuthority) PostHeartbeat(ctx context.Context, userID uint, hb authority.Heartbeat) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.heartbeatErr != nil {
		return a.heartbeatErr
	}
	a.heartbeats = append(a.heartbeats, hb)
	return nil
}

func (a *fakeAuthority) PostItemComplete(ctx context.Context, userID, itemID uint) (*authority.EnrollmentState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completeCalls++
	if a.completeErr != nil {
		return nil, a.completeErr
	}
	return a.completeState, nil
}

func (a *fakeAuthority) PostCertificateClaim(ctx context.Context, userID, courseID uint) (*authority.CertificateArtifact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.claimErr != nil {
		return nil, a.claimErr
	}
	return a.artifact, nil
}

func (a *fakeAuthority) sentHeartbeats() []authority.Heartbeat {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]authority.Heartbeat, len(a.heartbeats))
	copy(out, a.heartbeats)
	return out
}

func (a *fakeAuthority) sentAccessEvents() []authority.AccessEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]authority.AccessEvent, len(a.accessEvents))
	copy(out, a.accessEvents)
	return out
}

func (a *fakeAuthority) accessAttemptCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accessAttempts
}

// fakeProgressStore is an in-memory ProgressStore.
type fakeProgressStore struct {
	mu          sync.Mutex
	nextID      uint
	items       map[[2]uint]model.ItemProgress // (userID, itemID)
	enrollments map[[2]uint]model.Enrollment   // (userID, courseID)
}

func newFakeProgressStore() *fakeProgressStore {
	return &fakeProgressStore{
		nextID:      1,
		items:       make(map[[2]uint]model.ItemProgress),
		enrollments: make(map[[2]uint]model.Enrollment),
	}
}

func (s *fakeProgressStore) GetItemProgress(userID, itemID uint) (*model.ItemProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[[2]uint{userID, itemID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := p
	return &cp, nil
}

func (s *fakeProgressStore) CreateItemProgress(p *model.ItemProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	s.items[[2]uint{p.UserID, p.ItemID}] = *p
	return nil
}

func (s *fakeProgressStore) SaveItemProgress(p *model.ItemProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[[2]uint{p.UserID, p.ItemID}] = *p
	return nil
}

func (s *fakeProgressStore) DeleteItemProgress(p *model.ItemProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, [2]uint{p.UserID, p.ItemID})
	return nil
}

func (s *fakeProgressStore) ReplaceItemProgress(userID, courseID uint, records []model.ItemProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.items {
		if p.UserID == userID && p.CourseID == courseID {
			delete(s.items, key)
		}
	}
	for _, rec := range records {
		rec.ID = s.nextID
		s.nextID++
		s.items[[2]uint{rec.UserID, rec.ItemID}] = rec
	}
	return nil
}

func (s *fakeProgressStore) CountCompletedItems(userID, courseID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, p := range s.items {
		if p.UserID == userID && p.CourseID == courseID && p.Completed {
			count++
		}
	}
	return count, nil
}

func (s *fakeProgressStore) GetEnrollment(userID, courseID uint) (*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[[2]uint{userID, courseID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := e
	return &cp, nil
}

func (s *fakeProgressStore) SaveEnrollment(e *model.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[[2]uint{e.UserID, e.CourseID}] = *e
	return nil
}

func (s *fakeProgressStore) UpsertEnrollment(e *model.Enrollment) error {
	return s.SaveEnrollment(e)
}

func (s *fakeProgressStore) itemState(userID, itemID uint) (model.ItemProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[[2]uint{userID, itemID}]
	return p, ok
}

func (s *fakeProgressStore) enrollment(userID, courseID uint) model.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrollments[[2]uint{userID, courseID}]
}

// fakeCourseStore is an in-memory CourseStore.
type fakeCourseStore struct {
	mu      sync.Mutex
	courses map[uint]model.Course
}

func newFakeCourseStore() *fakeCourseStore {
	return &fakeCourseStore{courses: make(map[uint]model.Course)}
}

func (s *fakeCourseStore) Replace(course *model.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[course.ID] = *course
	return nil
}

func (s *fakeCourseStore) FindByID(id uint) (*model.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := c
	return &cp, nil
}

// twoSectionCourse builds a course with section A (items 1-3) and section B (items 4-5).
func twoSectionCourse() *model.Course {
	return &model.Course{
		ID:    1,
		Slug:  "intro-to-go",
		Title: "Intro Course",
		Sections: []model.Section{
			{
				ID:         10,
				CourseID:   1,
				Title:      "Section A",
				OrderIndex: 1,
				Items: []model.Item{
					{ID: 1, SectionID: 10, Slug: "a-1", Title: "A1", Type: model.ItemLecture, OrderIndex: 1},
					{ID: 2, SectionID: 10, Slug: "a-2", Title: "A2", Type: model.ItemLecture, OrderIndex: 2},
					{ID: 3, SectionID: 10, Slug: "a-3", Title: "A3", Type: model.ItemQuiz, OrderIndex: 3},
				},
			},
			{
				ID:         20,
				CourseID:   1,
				Title:      "Section B",
				OrderIndex: 2,
				Items: []model.Item{
					{ID: 4, SectionID: 20, Slug: "b-1", Title: "B1", Type: model.ItemLecture, OrderIndex: 1},
					{ID: 5, SectionID: 20, Slug: "b-2", Title: "B2", Type: model.ItemAssignment, OrderIndex: 2},
				},
			},
		},
	}
}

func mustGraph(t *testing.T, course *model.Course) *ContentGraph {
	t.Helper()
	g, err := NewContentGraph(course)
	if err != nil {
		t.Fatalf("NewContentGraph: %v", err)
	}
	return g
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

const testWaitTimeout = 2 * time.Second

var errStoreDown = errors.New("store down")
