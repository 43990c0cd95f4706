package service

import (
	"sync"

	"lesson_player_backend/pkg/monitoring"
)

// CertificateGate 观察报名完成度，首次到达 100% 时触发一次解锁回调。
// 重复观察到 100%（多次渲染、重进课程）只保持可用状态，不再产生副作用。
type CertificateGate struct {
	mu       sync.Mutex
	unlocked bool
	fired    bool
	onUnlock func()
}

// NewCertificateGate alreadyComplete 为真时（重进已完课的课程）
// 闸门直接处于解锁态，且视为已触发过，不会补发解锁事件。
func NewCertificateGate(alreadyComplete bool, onUnlock func()) *CertificateGate {
	return &CertificateGate{
		unlocked: alreadyComplete,
		fired:    alreadyComplete,
		onUnlock: onUnlock,
	}
}

// Observe 喂入最新完成度，返回本次是否触发了解锁
func (g *CertificateGate) Observe(progressPercentage int) bool {
	if progressPercentage < 100 {
		return false
	}

	g.mu.Lock()
	g.unlocked = true
	if g.fired {
		g.mu.Unlock()
		return false
	}
	g.fired = true
	callback := g.onUnlock
	g.mu.Unlock()

	monitoring.CertificateUnlocks.Inc()
	if callback != nil {
		callback()
	}
	return true
}

func (g *CertificateGate) Unlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}
