package testutil

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

// leakWait 等待后台goroutine退出的上限
const leakWait = 2 * time.Second

// ignoredStacks 不计入泄漏的goroutine：测试框架、连接池、测试用Redis、sqlite驱动
var ignoredStacks = []string{
	"testing.(*T).Run",
	"testing.tRunner",
	"testing.Main",
	"runtime.goexit",
	"database/sql.(*DB).connectionOpener",
	"database/sql.(*DB).connectionCleaner",
	"github.com/alicebob/miniredis",
	"modernc.org/sqlite",
	"net/http.(*persistConn)",
}

// CheckGoroutineLeak 检查测试执行期间是否有goroutine泄漏
// 使用方式：
//
//	defer testutil.CheckGoroutineLeak(t)()
//
// 上报worker、每日重置、配置监听、速率限制清理都应随 Close/Shutdown 退出
func CheckGoroutineLeak(t testing.TB) func() {
	t.Helper()
	before := countRelevantGoroutines()

	return func() {
		t.Helper()

		// 轮询等待异步退出
		deadline := time.Now().Add(leakWait)
		after := countRelevantGoroutines()
		for after > before && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
			runtime.GC()
			after = countRelevantGoroutines()
		}

		if leaked := after - before; leaked > 0 {
			t.Errorf("❌ Goroutine泄漏 %d 个（before=%d after=%d）\n\n当前goroutine堆栈:\n%s",
				leaked, before, after, allStacks())
			return
		}
		t.Logf("✅ 无Goroutine泄漏（before=%d after=%d）", before, after)
	}
}

func allStacks() string {
	buf := make([]byte, 1<<20)
	return string(buf[:runtime.Stack(buf, true)])
}

// countRelevantGoroutines 按堆栈分组计数，跳过 ignoredStacks
func countRelevantGoroutines() int {
	count := 0
	for _, stack := range strings.Split(allStacks(), "\n\n") {
		if strings.TrimSpace(stack) == "" || isIgnored(stack) {
			continue
		}
		count++
	}
	return count
}

func isIgnored(stack string) bool {
	for _, p := range ignoredStacks {
		if strings.Contains(stack, p) {
			return true
		}
	}
	return false
}
