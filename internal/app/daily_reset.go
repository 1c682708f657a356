package app

import (
	"context"
	"log"
	"time"

	"keypool/internal/util"
)

// dailyResetLoop 定期清零每日失败计数
// 间隔为24h时首次对齐到本地零点，其他间隔从启动时开始计时
func (s *Server) dailyResetLoop(interval time.Duration, restore bool) {
	defer s.wg.Done()

	wait := interval
	if interval == 24*time.Hour {
		wait = time.Until(util.NextDailyReset(time.Now()))
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-timer.C:
			s.runDailyReset(restore)
			timer.Reset(interval)
		}
	}
}

func (s *Server) runDailyReset(restore bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.rt.Manager.ResetDaily(ctx, s.rt.Pool.Registry().Identifiers(), restore); err != nil {
		log.Printf("[ERROR] 每日重置失败: %v", err)
	}
}
