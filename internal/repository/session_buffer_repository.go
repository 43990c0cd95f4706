package repository

import (
	"context"
	"fmt"
	"strconv"

	"lesson_player_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SessionBufferRepository 计时缓冲的持久化：每个 (学员, 课程) 一个键，
// 值是累计秒数的十进制字符串。每个 tick 直写，崩溃最多丢一个 tick。
type SessionBufferRepository struct {
	RDB *redis.Client
}

func NewSessionBufferRepository(rdb *redis.Client) *SessionBufferRepository {
	return &SessionBufferRepository{RDB: rdb}
}

func bufferKey(userID, courseID uint) string {
	return fmt.Sprintf("session_time:%d:%d", userID, courseID)
}

// Load 缺键或值损坏都按"无历史会话"返回 0，绝不让播放失败
func (r *SessionBufferRepository) Load(ctx context.Context, userID, courseID uint) (int64, error) {
	val, err := r.RDB.Get(ctx, bufferKey(userID, courseID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	seconds, err := strconv.ParseInt(val, 10, 64)
	if err != nil || seconds < 0 {
		logger.Log.Warn("corrupt session buffer value, resetting to zero",
			zap.Uint("userId", userID),
			zap.Uint("courseId", courseID),
			zap.String("value", val))
		return 0, nil
	}
	return seconds, nil
}

func (r *SessionBufferRepository) Save(ctx context.Context, userID, courseID uint, seconds int64) error {
	return r.RDB.Set(ctx, bufferKey(userID, courseID), strconv.FormatInt(seconds, 10), 0).Err()
}
