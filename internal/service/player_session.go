package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"lesson_player_backend/internal/authority"
	"lesson_player_backend/internal/config"
	"lesson_player_backend/internal/model"
	"lesson_player_backend/internal/util"
	"lesson_player_backend/pkg/logger"
	"lesson_player_backend/pkg/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CourseStore 课程结构缓存的持久化契约
type CourseStore interface {
	Replace(course *model.Course) error
	FindByID(id uint) (*model.Course, error)
}

// PlayerSession 一个学员在一门课里的活动播放会话。
// 计时与同步都挂在会话上而不是课时上：课内换课时不重置、不重复计时；
// 两个循环共享一个 ctx，销毁时一起取消，不留孤儿定时器。
type PlayerSession struct {
	ID        string
	UserID    uint
	CourseID  uint
	StartedAt time.Time

	Timer     *SessionTimer
	Scheduler *SyncScheduler
	Gate      *CertificateGate

	cancel context.CancelFunc

	mu            sync.Mutex
	graph         *ContentGraph
	resolver      *SequencingResolver
	currentItemID uint
}

// Graph 当前内容图；课程编辑后 Enter 会整体换新
func (s *PlayerSession) Graph() *ContentGraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

func (s *PlayerSession) Resolver() *SequencingResolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver
}

func (s *PlayerSession) replaceGraph(graph *ContentGraph) {
	s.mu.Lock()
	s.graph = graph
	s.resolver = NewSequencingResolver(graph)
	s.mu.Unlock()
}

func (s *PlayerSession) setCurrentItem(itemID uint) {
	s.mu.Lock()
	s.currentItemID = itemID
	s.mu.Unlock()
}

func (s *PlayerSession) CurrentItem() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentItemID
}

type sessionKey struct {
	userID   uint
	courseID uint
}

// SessionManager 持有全部活动会话并驱动其生命周期
type SessionManager struct {
	syncCfg    config.SyncConfig
	client     authority.Client
	timerStore TimerStore
	courses    CourseStore
	store      ProgressStore
	progress   *ProgressService

	mu       sync.Mutex
	sessions map[sessionKey]*PlayerSession
}

func NewSessionManager(
	syncCfg config.SyncConfig,
	client authority.Client,
	timerStore TimerStore,
	courses CourseStore,
	store ProgressStore,
	progress *ProgressService,
) *SessionManager {
	return &SessionManager{
		syncCfg:    syncCfg,
		client:     client,
		timerStore: timerStore,
		courses:    courses,
		store:      store,
		progress:   progress,
		sessions:   make(map[sessionKey]*PlayerSession),
	}
}

// Enter 进入课程：拉取权威结构（失败对播放视图致命）、刷新本地缓存、
// 创建或复用会话。同课已有会话时计时器原样保留，只换内容图。
func (m *SessionManager) Enter(ctx context.Context, userID, courseID uint) (*PlayerSession, *authority.CourseStructure, error) {
	structure, err := m.client.GetCourseStructure(ctx, userID, courseID)
	if err != nil {
		logger.Log.Error("course structure load failed",
			zap.Uint("userId", userID),
			zap.Uint("courseId", courseID),
			zap.Error(err))
		return nil, nil, util.ErrAuthorityUnavailable
	}

	graph, err := NewContentGraph(&structure.Course)
	if err != nil {
		return nil, nil, err
	}

	m.cacheStructure(userID, structure)

	key := sessionKey{userID: userID, courseID: courseID}

	m.mu.Lock()
	if existing, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		existing.replaceGraph(graph)
		existing.Gate.Observe(structure.Enrollment.ProgressPercentage)
		return existing, structure, nil
	}

	sctx, cancel := context.WithCancel(context.Background())

	timer := NewSessionTimer(m.timerStore, userID, courseID)
	timer.Activate(ctx)
	scheduler := NewSyncScheduler(m.client, timer, userID, courseID)

	session := &PlayerSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		CourseID:  courseID,
		StartedAt: time.Now(),
		Timer:     timer,
		Scheduler: scheduler,
		Gate:      NewCertificateGate(structure.Enrollment.ProgressPercentage >= 100, nil),
		cancel:    cancel,
		graph:     graph,
		resolver:  NewSequencingResolver(graph),
	}
	m.sessions[key] = session
	m.mu.Unlock()

	go timer.Run(sctx, m.syncCfg.TickInterval)
	go scheduler.Run(sctx, m.syncCfg.FlushInterval)

	monitoring.ActiveSessions.Inc()
	logger.Log.Info("playback session started",
		zap.String("sessionId", session.ID),
		zap.Uint("userId", userID),
		zap.Uint("courseId", courseID))

	return session, structure, nil
}

// cacheStructure 把权威下发落进本地缓存，失败只降级不阻断进入
func (m *SessionManager) cacheStructure(userID uint, structure *authority.CourseStructure) {
	if err := m.courses.Replace(&structure.Course); err != nil {
		logger.Log.Warn("course cache refresh failed", zap.Error(err))
	}

	enrollment := &model.Enrollment{
		ID:                 structure.Enrollment.ID,
		UserID:             userID,
		CourseID:           structure.Course.ID,
		ProgressPercentage: structure.Enrollment.ProgressPercentage,
		Status:             model.EnrollmentStatus(structure.Enrollment.Status),
		SyncedAt:           time.Now(),
	}
	if enrollment.Status == "" {
		enrollment.Status = model.EnrollmentActive
	}
	if err := m.store.UpsertEnrollment(enrollment); err != nil {
		logger.Log.Warn("enrollment cache refresh failed", zap.Error(err))
	}

	records := make([]model.ItemProgress, 0, len(structure.Progress))
	for _, rec := range structure.Progress {
		if !rec.Completed {
			continue
		}
		records = append(records, model.ItemProgress{
			UserID:      userID,
			ItemID:      rec.ItemID,
			CourseID:    structure.Course.ID,
			Completed:   true,
			CompletedAt: rec.CompletedAt,
		})
	}
	if err := m.store.ReplaceItemProgress(userID, structure.Course.ID, records); err != nil {
		logger.Log.Warn("item progress cache refresh failed", zap.Error(err))
	}
}

// CourseOutline 返回本地缓存的课程树，供恢复/列表视图使用，不打权威。
// 进过一次课才有缓存，缺失按"未见过这门课"处理。
func (m *SessionManager) CourseOutline(courseID uint) (*model.Course, error) {
	course, err := m.courses.FindByID(courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrCourseNotFound
		}
		return nil, err
	}
	return course, nil
}

// Get 查找活动会话
func (m *SessionManager) Get(userID, courseID uint) (*PlayerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionKey{userID: userID, courseID: courseID}]
	if !ok {
		return nil, util.ErrSessionNotFound
	}
	return session, nil
}

// Neighbors 导航邻接：上一条/下一条，课程边界为 nil
type Neighbors struct {
	Previous *ItemRef `json:"previous"`
	Next     *ItemRef `json:"next"`
}

// ActivateItem 学员打开一个课时：登记当前位置并上报一次访问事件
func (m *SessionManager) ActivateItem(userID, courseID, itemID uint) (*Neighbors, error) {
	session, err := m.Get(userID, courseID)
	if err != nil {
		return nil, err
	}

	neighbors, err := m.neighbors(session, itemID)
	if err != nil {
		return nil, err
	}

	session.setCurrentItem(itemID)
	session.Scheduler.RecordAccess(itemID)
	return neighbors, nil
}

// ItemNeighbors 只解析邻接，不产生访问事件
func (m *SessionManager) ItemNeighbors(userID, courseID, itemID uint) (*Neighbors, error) {
	session, err := m.Get(userID, courseID)
	if err != nil {
		return nil, err
	}
	return m.neighbors(session, itemID)
}

func (m *SessionManager) neighbors(session *PlayerSession, itemID uint) (*Neighbors, error) {
	resolver := session.Resolver()
	next, err := resolver.Next(itemID)
	if err != nil {
		return nil, err
	}
	prev, err := resolver.Previous(itemID)
	if err != nil {
		return nil, err
	}
	return &Neighbors{Previous: prev, Next: next}, nil
}

// CompletionOutcome 完成提交的聚合结果：新百分比、证书闸门状态与下一条目
type CompletionOutcome struct {
	Result              *CompletionResult `json:"result"`
	NextItem            *ItemRef          `json:"nextItem"`
	CertificateUnlocked bool              `json:"certificateUnlocked"`
	UnlockedNow         bool              `json:"unlockedNow"`
}

// CompleteItem 状态机迁移成功后推进闸门并解析下一条目
func (m *SessionManager) CompleteItem(ctx context.Context, userID, courseID, itemID uint) (*CompletionOutcome, error) {
	session, err := m.Get(userID, courseID)
	if err != nil {
		return nil, err
	}

	graph := session.Graph()
	if !graph.Contains(itemID) {
		return nil, util.ErrItemNotFound
	}

	result, err := m.progress.MarkComplete(ctx, userID, courseID, itemID, graph.Len())
	if err != nil {
		return nil, err
	}

	unlockedNow := session.Gate.Observe(result.ProgressPercentage)

	next, err := session.Resolver().Next(itemID)
	if err != nil {
		return nil, err
	}

	return &CompletionOutcome{
		Result:              result,
		NextItem:            next,
		CertificateUnlocked: session.Gate.Unlocked(),
		UnlockedNow:         unlockedNow,
	}, nil
}

// Exit 受控退出：两个定时循环一起取消，再做一次限时收尾冲账。
// 在途的访问事件/完成提交放任其后台完成，进度副作用仍然是想要的。
func (m *SessionManager) Exit(userID, courseID uint) error {
	key := sessionKey{userID: userID, courseID: courseID}

	m.mu.Lock()
	session, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return util.ErrSessionNotFound
	}
	delete(m.sessions, key)
	m.mu.Unlock()

	session.cancel()
	session.Scheduler.FinalFlush(m.syncCfg.ExitFlushWait)

	monitoring.ActiveSessions.Dec()
	logger.Log.Info("playback session ended",
		zap.String("sessionId", session.ID),
		zap.Uint("userId", userID),
		zap.Uint("courseId", courseID))
	return nil
}

// Shutdown 服务停机时对所有活动会话做收尾冲账
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*PlayerSession, 0, len(m.sessions))
	for key, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		s.Scheduler.FinalFlush(m.syncCfg.ExitFlushWait)
		monitoring.ActiveSessions.Dec()
	}
}

// SessionState 会话观测快照
type SessionState struct {
	SessionID           string        `json:"sessionId"`
	CourseID            uint          `json:"courseId"`
	CurrentItemID       uint          `json:"currentItemId,omitempty"`
	StartedAt           time.Time     `json:"startedAt"`
	Timer               TimerSnapshot `json:"timer"`
	FlushSequence       uint64        `json:"flushSequence"`
	CertificateUnlocked bool          `json:"certificateUnlocked"`
}

func (m *SessionManager) State(userID, courseID uint) (*SessionState, error) {
	session, err := m.Get(userID, courseID)
	if err != nil {
		return nil, err
	}
	return &SessionState{
		SessionID:           session.ID,
		CourseID:            session.CourseID,
		CurrentItemID:       session.CurrentItem(),
		StartedAt:           session.StartedAt,
		Timer:               session.Timer.Snapshot(),
		FlushSequence:       session.Scheduler.FlushSequence(),
		CertificateUnlocked: session.Gate.Unlocked(),
	}, nil
}
