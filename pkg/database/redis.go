package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"lesson_player_backend/internal/config"

	"github.com/go-redis/redis/v8"
)

// InitRedis 会话计时缓冲的存储。每个活动会话每秒一次直写，
// 连接池和写超时按这种小值高频的负载设置。
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  3 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Println("Redis connection established")
	return rdb, nil
}
