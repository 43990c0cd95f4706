package service

import (
	"context"
	"sync"
	"time"

	"lesson_player_backend/internal/authority"
	"lesson_player_backend/pkg/logger"
	"lesson_player_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// SyncScheduler 周期性把计时缓冲冲账到远端权威，并上报访问事件。
// 心跳发送的是自上次成功冲账以来的真实增量，附带递增序号供服务端去重；
// 同一会话任一时刻至多一个在途心跳，间隔撞上在途直接跳过（不排队）。
type SyncScheduler struct {
	userID   uint
	courseID uint
	timer    *SessionTimer
	client   authority.Client

	mu         sync.Mutex
	inFlight   bool
	flushSeq   uint64
	accessSent map[uint]bool

	accessTimeout time.Duration
}

func NewSyncScheduler(client authority.Client, timer *SessionTimer, userID, courseID uint) *SyncScheduler {
	return &SyncScheduler{
		userID:        userID,
		courseID:      courseID,
		timer:         timer,
		client:        client,
		accessSent:    make(map[uint]bool),
		accessTimeout: 10 * time.Second,
	}
}

// Run 60 秒心跳循环，与计时循环共用同一个会话 ctx 一起取消
func (s *SyncScheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TryFlush(ctx)
		}
	}
}

// TryFlush 发送一次心跳。失败时账目原样保留，下个周期重试
// 同一笔未结增量加上期间新累计的部分；成功才推进序号并扣减缓冲。
func (s *SyncScheduler) TryFlush(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		monitoring.HeartbeatFlushes.WithLabelValues("skipped").Inc()
		return nil
	}
	s.inFlight = true
	seq := s.flushSeq + 1
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	delta := s.timer.Outstanding()
	if delta <= 0 {
		monitoring.HeartbeatFlushes.WithLabelValues("skipped").Inc()
		return nil
	}

	err := s.client.PostHeartbeat(ctx, s.userID, authority.Heartbeat{
		CourseID:     s.courseID,
		SecondsDelta: delta,
		Sequence:     seq,
	})
	if err != nil {
		// 瞬时网络失败：记日志吞掉，不打扰学员
		monitoring.HeartbeatFlushes.WithLabelValues("error").Inc()
		logger.Log.Warn("heartbeat flush failed, will retry next interval",
			zap.Uint("userId", s.userID),
			zap.Uint("courseId", s.courseID),
			zap.Int64("secondsDelta", delta),
			zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.flushSeq = seq
	s.mu.Unlock()

	s.timer.MarkFlushed(ctx, delta)
	monitoring.HeartbeatFlushes.WithLabelValues("ok").Inc()
	return nil
}

// FinalFlush 受控退出时的收尾冲账，限时尽力而为
func (s *SyncScheduler) FinalFlush(wait time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	s.TryFlush(ctx)
}

// RecordAccess 每个 (会话, 条目) 只上报一次访问事件，后台发送不阻塞导航
func (s *SyncScheduler) RecordAccess(itemID uint) {
	s.mu.Lock()
	if s.accessSent[itemID] {
		s.mu.Unlock()
		return
	}
	s.accessSent[itemID] = true
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.accessTimeout)
		defer cancel()

		err := s.client.PostAccessEvent(ctx, s.userID, authority.AccessEvent{
			CourseID: s.courseID,
			ItemID:   itemID,
		})
		if err != nil {
			monitoring.AccessEvents.WithLabelValues("error").Inc()
			logger.Log.Warn("access event dropped",
				zap.Uint("userId", s.userID),
				zap.Uint("itemId", itemID),
				zap.Error(err))
			return
		}
		monitoring.AccessEvents.WithLabelValues("ok").Inc()
	}()
}

// FlushSequence 最近一次被确认的心跳序号
func (s *SyncScheduler) FlushSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushSeq
}
