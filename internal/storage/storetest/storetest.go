// Package storetest 存储后端通用行为测试套件
// 每个后端（memory / sql / redis）的测试都运行同一套用例，保证状态转换语义一致
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"keypool/internal/model"
	"keypool/internal/storage"
)

// Factory 为每个子测试创建一个全新的空存储
type Factory func(t *testing.T) storage.Store

// Run 运行完整的存储契约测试
func Run(t *testing.T, newStore Factory) {
	t.Run("ImplicitDefault", func(t *testing.T) { testImplicitDefault(t, newStore(t)) })
	t.Run("FailureThreshold", func(t *testing.T) { testFailureThreshold(t, newStore(t)) })
	t.Run("SuccessIdempotent", func(t *testing.T) { testSuccessIdempotent(t, newStore(t)) })
	t.Run("RecentErrorsCap", func(t *testing.T) { testRecentErrorsCap(t, newStore(t)) })
	t.Run("ExponentialCooldown", func(t *testing.T) { testExponentialCooldown(t, newStore(t)) })
	t.Run("SetEjection", func(t *testing.T) { testSetEjection(t, newStore(t)) })
	t.Run("ResetDailyFailures", func(t *testing.T) { testResetDailyFailures(t, newStore(t)) })
	t.Run("ListHealth", func(t *testing.T) { testListHealth(t, newStore(t)) })
	t.Run("Pointer", func(t *testing.T) { testPointer(t, newStore(t)) })
	t.Run("ConcurrentFailures", func(t *testing.T) { testConcurrentFailures(t, newStore(t)) })
	t.Run("ConcurrentPointer", func(t *testing.T) { testConcurrentPointer(t, newStore(t)) })
}

// Now 毫秒精度的当前时间（SQL/Redis后端按毫秒存储）
func Now() time.Time {
	return time.UnixMilli(time.Now().UnixMilli())
}

func errLog(msg string) model.ErrorLog {
	return model.ErrorLog{ErrorType: "http_500", ErrorMessage: msg}
}

func testImplicitDefault(t *testing.T, s storage.Store) {
	ctx := context.Background()

	rec, err := s.GetHealth(ctx, "PRIMARY")
	if err != nil {
		t.Fatalf("GetHealth: %v", err)
	}
	if rec.Identifier != "PRIMARY" || rec.Status != model.StatusHealthy || rec.ConsecutiveFailures != 0 || rec.RetryAt != nil {
		t.Fatalf("不存在的记录应为隐式默认值，实际%+v", rec)
	}

	all, err := s.GetAllHealth(ctx, []string{"PRIMARY", "BACKUP"})
	if err != nil {
		t.Fatalf("GetAllHealth: %v", err)
	}
	if len(all) != 2 || all["BACKUP"] == nil || all["BACKUP"].Status != model.StatusHealthy {
		t.Fatalf("GetAllHealth应包含所有请求的标识符，实际%v", all)
	}

	empty, err := s.GetAllHealth(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("空请求应返回空结果: %v %v", empty, err)
	}

	list, err := s.ListHealth(ctx)
	if err != nil {
		t.Fatalf("ListHealth: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("只读操作不应写入记录，实际%d条", len(list))
	}
}

func testFailureThreshold(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := Now()
	p := model.DefaultEjectionPolicy()

	for i := 1; i < p.FailureThreshold; i++ {
		rec, err := s.MarkFailure(ctx, "PRIMARY", errLog(fmt.Sprintf("err-%d", i)), p, now)
		if err != nil {
			t.Fatalf("MarkFailure: %v", err)
		}
		if rec.Status != model.StatusHealthy || rec.ConsecutiveFailures != int64(i) {
			t.Fatalf("第%d次失败后应仍为HEALTHY，实际%+v", i, rec)
		}
	}

	rec, err := s.MarkFailure(ctx, "PRIMARY", errLog("last"), p, now)
	if err != nil {
		t.Fatalf("MarkFailure: %v", err)
	}
	if rec.Status != model.StatusUnhealthy || rec.RetryAt == nil || !rec.RetryAt.Equal(now.Add(p.Cooldown)) {
		t.Fatalf("达到阈值应剔除到now+cooldown，实际%+v", rec)
	}

	got, err := s.GetHealth(ctx, "PRIMARY")
	if err != nil {
		t.Fatalf("GetHealth: %v", err)
	}
	if got.Status != model.StatusUnhealthy || got.FailureCount != int64(p.FailureThreshold) ||
		got.DailyFailureCount != int64(p.FailureThreshold) || got.ConsecutiveFailures != int64(p.FailureThreshold) {
		t.Fatalf("持久化记录错误: %+v", got)
	}
	if got.RetryAt == nil || !got.RetryAt.Equal(now.Add(p.Cooldown)) {
		t.Fatalf("retryAt持久化错误: %v", got.RetryAt)
	}
	if !got.LastCheckedAt.Equal(now) {
		t.Fatalf("lastCheckedAt持久化错误: %v", got.LastCheckedAt)
	}
	if got.CooldownDurationMs != p.Cooldown.Milliseconds() {
		t.Fatalf("cooldownDurationMs = %d", got.CooldownDurationMs)
	}
	if len(got.RecentErrors) != p.FailureThreshold || got.RecentErrors[0].ErrorMessage != "last" {
		t.Fatalf("recentErrors持久化错误: %+v", got.RecentErrors)
	}
	if !got.InEjection(now) || got.Eligible(now.Add(time.Second)) {
		t.Fatal("冷却期内不应可选")
	}
	if !got.Eligible(now.Add(p.Cooldown)) {
		t.Fatal("retryAt到达后应进入观察期（可选）")
	}
}

func testSuccessIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := Now()
	p := model.DefaultEjectionPolicy()

	for i := 0; i < p.FailureThreshold; i++ {
		if _, err := s.MarkFailure(ctx, "PRIMARY", errLog("boom"), p, now); err != nil {
			t.Fatal(err)
		}
	}

	later := now.Add(p.Cooldown + time.Second)
	first, err := s.MarkSuccess(ctx, "PRIMARY", later)
	if err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}
	second, err := s.MarkSuccess(ctx, "PRIMARY", later)
	if err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}

	for _, rec := range []*model.HealthRecord{first, second} {
		if rec.Status != model.StatusHealthy || rec.ConsecutiveFailures != 0 || rec.RetryAt != nil || rec.CooldownDurationMs != 0 {
			t.Fatalf("MarkSuccess后状态错误: %+v", rec)
		}
		if rec.FailureCount != int64(p.FailureThreshold) {
			t.Fatalf("累计失败次数不应减少: %d", rec.FailureCount)
		}
	}
	if len(second.RecentErrors) != len(first.RecentErrors) {
		t.Fatal("MarkSuccess不应修改错误历史")
	}

	// 对从未失败的Key调用也合法
	if rec, err := s.MarkSuccess(ctx, "FRESH", later); err != nil || rec.Status != model.StatusHealthy {
		t.Fatalf("新Key MarkSuccess: %+v %v", rec, err)
	}
}

func testRecentErrorsCap(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := Now()
	p := model.DefaultEjectionPolicy()
	p.FailureThreshold = 100

	for i := 0; i < 8; i++ {
		if _, err := s.MarkFailure(ctx, "PRIMARY", errLog(fmt.Sprintf("err-%d", i)), p, now.Add(time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := s.GetHealth(ctx, "PRIMARY")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.RecentErrors) != model.DefaultRecentErrorsCap {
		t.Fatalf("recentErrors应保留%d条，实际%d", model.DefaultRecentErrorsCap, len(rec.RecentErrors))
	}
	for i, e := range rec.RecentErrors {
		if want := fmt.Sprintf("err-%d", 7-i); e.ErrorMessage != want {
			t.Fatalf("recentErrors[%d] = %s, want %s", i, e.ErrorMessage, want)
		}
	}
}

func testExponentialCooldown(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := Now()
	p := model.DefaultEjectionPolicy()
	p.FailureThreshold = 1
	p.Growth = model.GrowthExponential
	p.MaxCooldown = 3 * time.Minute

	want := []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute, 3 * time.Minute}
	at := now
	for i, w := range want {
		rec, err := s.MarkFailure(ctx, "PRIMARY", errLog("timeout"), p, at)
		if err != nil {
			t.Fatal(err)
		}
		if got := rec.RetryAt.Sub(at); got != w {
			t.Fatalf("第%d次剔除冷却%v，期望%v", i+1, got, w)
		}
		at = *rec.RetryAt // 观察期内再次失败
	}

	// 成功后冷却基数清零
	if _, err := s.MarkSuccess(ctx, "PRIMARY", at); err != nil {
		t.Fatal(err)
	}
	rec, err := s.MarkFailure(ctx, "PRIMARY", errLog("timeout"), p, at)
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.RetryAt.Sub(at); got != time.Minute {
		t.Fatalf("成功后首次剔除应回到基础冷却，实际%v", got)
	}
}

func testSetEjection(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := Now()
	until := now.Add(90 * time.Second)

	rec, err := s.SetEjection(ctx, "BACKUP", until, now)
	if err != nil {
		t.Fatalf("SetEjection: %v", err)
	}
	if !rec.InEjection(now) || !rec.RetryAt.Equal(until) {
		t.Fatalf("手动剔除失败: %+v", rec)
	}
	if rec.FailureCount != 0 || rec.ConsecutiveFailures != 0 {
		t.Fatal("手动剔除不应修改失败计数")
	}

	got, err := s.GetHealth(ctx, "BACKUP")
	if err != nil {
		t.Fatal(err)
	}
	if !got.InEjection(now) || !got.InProbation(until) {
		t.Fatalf("持久化的剔除状态错误: %+v", got)
	}
}

func testResetDailyFailures(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := Now()
	p := model.DefaultEjectionPolicy()

	for _, id := range []string{"PRIMARY", "BACKUP"} {
		if _, err := s.MarkFailure(ctx, id, errLog("boom"), p, now); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.MarkSuccess(ctx, "SPARE", now); err != nil {
		t.Fatal(err)
	}

	n, err := s.ResetDailyFailures(ctx)
	if err != nil {
		t.Fatalf("ResetDailyFailures: %v", err)
	}
	if n != 2 {
		t.Fatalf("应重置2条记录，实际%d", n)
	}

	rec, err := s.GetHealth(ctx, "PRIMARY")
	if err != nil {
		t.Fatal(err)
	}
	if rec.DailyFailureCount != 0 || rec.FailureCount != 1 || rec.ConsecutiveFailures != 1 {
		t.Fatalf("每日重置只清零dailyFailureCount: %+v", rec)
	}

	if n, err := s.ResetDailyFailures(ctx); err != nil || n != 0 {
		t.Fatalf("重复重置应影响0条: %d %v", n, err)
	}
}

func testListHealth(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := Now()
	for _, id := range []string{"C", "A", "B"} {
		if _, err := s.MarkSuccess(ctx, id, now); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListHealth(ctx)
	if err != nil {
		t.Fatalf("ListHealth: %v", err)
	}
	if len(list) != 3 || list[0].Identifier != "A" || list[2].Identifier != "C" {
		ids := make([]string, len(list))
		for i, r := range list {
			ids[i] = r.Identifier
		}
		t.Fatalf("ListHealth应按标识符排序，实际%v", ids)
	}
}

func testPointer(t *testing.T, s storage.Store) {
	ctx := context.Background()

	v, err := s.LoadPointer(ctx, storage.DefaultPointerName)
	if err != nil || v != 0 {
		t.Fatalf("初始指针应为0: %d %v", v, err)
	}

	ok, err := s.CompareAndSwapPointer(ctx, storage.DefaultPointerName, 0, 1)
	if err != nil || !ok {
		t.Fatalf("CAS(0,1)应成功: %v %v", ok, err)
	}
	ok, err = s.CompareAndSwapPointer(ctx, storage.DefaultPointerName, 0, 2)
	if err != nil || ok {
		t.Fatalf("过期的CAS(0,2)应失败: %v %v", ok, err)
	}
	ok, err = s.CompareAndSwapPointer(ctx, storage.DefaultPointerName, 1, 1)
	if err != nil || !ok {
		t.Fatalf("值不变的CAS(1,1)应成功: %v %v", ok, err)
	}

	v, err = s.LoadPointer(ctx, storage.DefaultPointerName)
	if err != nil || v != 1 {
		t.Fatalf("指针应为1: %d %v", v, err)
	}

	// 不同名称的指针互相独立
	if v, err := s.LoadPointer(ctx, "batch"); err != nil || v != 0 {
		t.Fatalf("独立指针应为0: %d %v", v, err)
	}
}

func testConcurrentFailures(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := Now()
	p := model.DefaultEjectionPolicy()
	p.FailureThreshold = 1000

	const workers, perWorker = 8, 5
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.MarkFailure(ctx, "PRIMARY", errLog(fmt.Sprintf("w%d-%d", w, i)), p, now); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("并发MarkFailure失败: %v", err)
	}

	rec, err := s.GetHealth(ctx, "PRIMARY")
	if err != nil {
		t.Fatal(err)
	}
	if rec.FailureCount != workers*perWorker || rec.ConsecutiveFailures != workers*perWorker {
		t.Fatalf("并发更新丢失: failureCount=%d consecutive=%d", rec.FailureCount, rec.ConsecutiveFailures)
	}
}

func testConcurrentPointer(t *testing.T, s storage.Store) {
	ctx := context.Background()

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				for {
					cur, err := s.LoadPointer(ctx, storage.DefaultPointerName)
					if err != nil {
						errs <- err
						return
					}
					ok, err := s.CompareAndSwapPointer(ctx, storage.DefaultPointerName, cur, cur+1)
					if err != nil {
						errs <- err
						return
					}
					if ok {
						break
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("并发CAS失败: %v", err)
	}

	v, err := s.LoadPointer(ctx, storage.DefaultPointerName)
	if err != nil {
		t.Fatal(err)
	}
	if v != workers*perWorker {
		t.Fatalf("CAS丢失更新: 期望%d，实际%d", workers*perWorker, v)
	}
}
