package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"lesson_player_backend/internal/authority"
	"lesson_player_backend/internal/model"
	"lesson_player_backend/internal/util"
	"lesson_player_backend/pkg/monitoring"

	"gorm.io/gorm"
)

// ProgressStore 进度缓存的持久化契约，由 gorm 仓库实现
type ProgressStore interface {
	GetItemProgress(userID, itemID uint) (*model.ItemProgress, error)
	CreateItemProgress(p *model.ItemProgress) error
	SaveItemProgress(p *model.ItemProgress) error
	DeleteItemProgress(p *model.ItemProgress) error
	ReplaceItemProgress(userID, courseID uint, records []model.ItemProgress) error
	CountCompletedItems(userID, courseID uint) (int64, error)
	GetEnrollment(userID, courseID uint) (*model.Enrollment, error)
	SaveEnrollment(e *model.Enrollment) error
	UpsertEnrollment(e *model.Enrollment) error
}

type CompletionResult struct {
	ItemID             uint                   `json:"itemId"`
	AlreadyCompleted   bool                   `json:"alreadyCompleted"`
	ProgressPercentage int                    `json:"progressPercentage"`
	Status             model.EnrollmentStatus `json:"status"`
}

// ProgressService 条目完成状态机：not_started → completed，单向不可逆。
// 乐观两阶段写：先带 Pending 标记落本地并预算百分比，权威确认后提交
// （以权威值回填），失败则整体回滚，绝不让本地声称服务端没有记录的进度。
type ProgressService struct {
	store  ProgressStore
	client authority.Client

	mu       sync.Mutex
	inflight map[[2]uint]bool // (userID, itemID)
}

func NewProgressService(store ProgressStore, client authority.Client) *ProgressService {
	return &ProgressService{
		store:    store,
		client:   client,
		inflight: make(map[[2]uint]bool),
	}
}

// MarkComplete 处理显式"标记完成"或外部判分通过信号。
// 同一条目的并发提交被串行化：在途期间的重复点击直接拒绝。
func (s *ProgressService) MarkComplete(ctx context.Context, userID, courseID, itemID uint, totalItems int) (*CompletionResult, error) {
	key := [2]uint{userID, itemID}

	s.mu.Lock()
	if s.inflight[key] {
		s.mu.Unlock()
		monitoring.CompletionSubmissions.WithLabelValues("duplicate").Inc()
		return nil, util.ErrCompletionInFlight
	}
	s.inflight[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	enrollment, err := s.store.GetEnrollment(userID, courseID)
	if err != nil {
		return nil, err
	}

	// 已完成的条目是终态，重复提交幂等返回
	existing, err := s.store.GetItemProgress(userID, itemID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil && existing.Completed && !existing.Pending {
		return &CompletionResult{
			ItemID:             itemID,
			AlreadyCompleted:   true,
			ProgressPercentage: enrollment.ProgressPercentage,
			Status:             enrollment.Status,
		}, nil
	}

	// 阶段一：乐观落地，带 Pending 标记
	now := time.Now()
	created := existing == nil
	if created {
		existing = &model.ItemProgress{
			UserID:   userID,
			ItemID:   itemID,
			CourseID: courseID,
		}
	}
	existing.Completed = true
	existing.Pending = true
	existing.CompletedAt = &now

	if created {
		err = s.store.CreateItemProgress(existing)
	} else {
		err = s.store.SaveItemProgress(existing)
	}
	if err != nil {
		return nil, err
	}

	completed, err := s.store.CountCompletedItems(userID, courseID)
	if err != nil {
		s.rollback(existing, created, enrollment, enrollment.ProgressPercentage, enrollment.Status)
		return nil, err
	}

	optimisticPct := RollupPercentage(int(completed), totalItems)
	prevPct := enrollment.ProgressPercentage
	prevStatus := enrollment.Status

	// 客户端侧百分比只增不减
	if optimisticPct > enrollment.ProgressPercentage {
		enrollment.ProgressPercentage = optimisticPct
	}
	if enrollment.ProgressPercentage >= 100 {
		enrollment.Status = model.EnrollmentCompleted
	}
	if err := s.store.SaveEnrollment(enrollment); err != nil {
		s.rollback(existing, created, enrollment, prevPct, prevStatus)
		return nil, err
	}

	// 阶段二：上报权威并以其应答为准
	state, err := s.client.PostItemComplete(ctx, userID, itemID)
	if err != nil {
		s.rollback(existing, created, enrollment, prevPct, prevStatus)
		monitoring.CompletionSubmissions.WithLabelValues("error").Inc()
		return nil, util.ErrAuthorityUnavailable
	}

	existing.Pending = false
	if err := s.store.SaveItemProgress(existing); err != nil {
		return nil, err
	}

	enrollment.ProgressPercentage = state.ProgressPercentage
	if state.Status != "" {
		enrollment.Status = model.EnrollmentStatus(state.Status)
	}
	enrollment.SyncedAt = time.Now()
	if err := s.store.SaveEnrollment(enrollment); err != nil {
		return nil, err
	}

	monitoring.CompletionSubmissions.WithLabelValues("ok").Inc()
	return &CompletionResult{
		ItemID:             itemID,
		ProgressPercentage: enrollment.ProgressPercentage,
		Status:             enrollment.Status,
	}, nil
}

// rollback 撤销未获确认的乐观写。新建的行删除、已有的行还原，
// 服务端从未记录过这笔完成，因此这不构成 completed 的逆向迁移。
func (s *ProgressService) rollback(p *model.ItemProgress, created bool, e *model.Enrollment, prevPct int, prevStatus model.EnrollmentStatus) {
	if created {
		s.store.DeleteItemProgress(p)
	} else {
		p.Completed = false
		p.Pending = false
		p.CompletedAt = nil
		s.store.SaveItemProgress(p)
	}

	e.ProgressPercentage = prevPct
	e.Status = prevStatus
	s.store.SaveEnrollment(e)
}

// RollupPercentage 完成度汇总：round(completed/total*100)
func RollupPercentage(completedItems, totalItems int) int {
	if totalItems <= 0 {
		return 0
	}
	return int(math.Round(float64(completedItems) / float64(totalItems) * 100))
}
