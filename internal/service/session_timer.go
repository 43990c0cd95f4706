package service

import (
	"context"
	"sync"
	"time"

	"lesson_player_backend/pkg/logger"

	"go.uber.org/zap"
)

// TimerStore 会话时间缓冲的持久化，按 (学员, 课程) 一键，值为累计秒数。
type TimerStore interface {
	Load(ctx context.Context, userID, courseID uint) (int64, error)
	Save(ctx context.Context, userID, courseID uint, seconds int64) error
}

// SessionTimer 按报名（而非课时）累计在学秒数。
// seconds 是尚未冲账的累计值：每秒自增并直写持久化，
// 只有在心跳被权威确认后才按实际发送量扣减，硬刷新最多丢一个 tick。
type SessionTimer struct {
	userID   uint
	courseID uint
	store    TimerStore

	// saveMu 把"算新值 + 写持久化"整体串行化：tick 的直写一旦被慢存储
	// 拖住，不能反过来用旧值盖掉冲账后刚写下的小值
	saveMu sync.Mutex

	mu           sync.Mutex
	seconds      int64 // 未冲账累计秒数
	flushedTotal int64 // 本会话已确认冲账的秒数，仅用于观测
	degraded     bool
}

func NewSessionTimer(store TimerStore, userID, courseID uint) *SessionTimer {
	return &SessionTimer{
		store:    store,
		userID:   userID,
		courseID: courseID,
	}
}

// Activate 从持久化恢复缓冲；缺失或损坏一律按零处理，绝不致命。
func (t *SessionTimer) Activate(ctx context.Context) {
	seconds, err := t.store.Load(ctx, t.userID, t.courseID)
	if err != nil {
		logger.Log.Warn("session buffer load failed, starting from zero",
			zap.Uint("userId", t.userID),
			zap.Uint("courseId", t.courseID),
			zap.Error(err))
		seconds = 0
	}

	t.mu.Lock()
	t.seconds = seconds
	t.mu.Unlock()
}

// Run 1 秒节拍循环，ctx 取消即停；停止不清持久化值
func (t *SessionTimer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick 自增一秒并直写持久化。写失败进入内存降级模式：
// 计时继续、播放不受影响，后续 tick 仍会尝试写回。
func (t *SessionTimer) Tick(ctx context.Context) {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	t.seconds++
	seconds := t.seconds
	t.mu.Unlock()

	if err := t.store.Save(ctx, t.userID, t.courseID, seconds); err != nil {
		t.mu.Lock()
		firstFailure := !t.degraded
		t.degraded = true
		t.mu.Unlock()
		if firstFailure {
			logger.Log.Warn("session buffer persist failed, continuing in-memory",
				zap.Uint("userId", t.userID),
				zap.Uint("courseId", t.courseID),
				zap.Error(err))
		}
		return
	}

	t.mu.Lock()
	t.degraded = false
	t.mu.Unlock()
}

// Outstanding 自上次成功冲账以来的未同步秒数
func (t *SessionTimer) Outstanding() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seconds
}

// MarkFlushed 按实际确认量扣减缓冲（期间新累计的 tick 保留），并写回持久化
func (t *SessionTimer) MarkFlushed(ctx context.Context, delta int64) {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	t.seconds -= delta
	if t.seconds < 0 {
		t.seconds = 0
	}
	t.flushedTotal += delta
	seconds := t.seconds
	t.mu.Unlock()

	if err := t.store.Save(ctx, t.userID, t.courseID, seconds); err != nil {
		logger.Log.Warn("session buffer persist failed after flush",
			zap.Uint("userId", t.userID),
			zap.Uint("courseId", t.courseID),
			zap.Error(err))
	}
}

// TimerSnapshot 会话状态接口的观测数据
type TimerSnapshot struct {
	OutstandingSeconds int64 `json:"outstandingSeconds"`
	FlushedSeconds     int64 `json:"flushedSeconds"`
	Degraded           bool  `json:"degraded"`
}

func (t *SessionTimer) Snapshot() TimerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TimerSnapshot{
		OutstandingSeconds: t.seconds,
		FlushedSeconds:     t.flushedTotal,
		Degraded:           t.degraded,
	}
}
