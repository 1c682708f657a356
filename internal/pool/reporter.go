package pool

import (
	"context"
	"sync"
	"time"

	"keypool/internal/util"
)

type report struct {
	id  string
	err error
}

// Reporter 异步结果上报：有界队列 + 单个worker
//
// 请求路径只做一次非阻塞入队；队列满时丢弃并计数（健康状态是尽力而为的）
// Close 停止接收并排空队列后返回
type Reporter struct {
	coord *Coordinator
	queue chan report

	// closed 与发送互斥，避免向已关闭的channel发送
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewReporter 创建并启动上报worker
func NewReporter(coord *Coordinator, queueSize int) *Reporter {
	if queueSize <= 0 {
		queueSize = 1
	}
	r := &Reporter{
		coord: coord,
		queue: make(chan report, queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Report 非阻塞入队，返回 false 表示被丢弃（队列满或已关闭）
func (r *Reporter) Report(id string, err error) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.queue <- report{id: id, err: err}:
		return true
	default:
		r.coord.metrics.observeDropped()
		util.SafePrintf("[WARN] 上报队列已满，丢弃Key %s 的结果", id)
		return false
	}
}

func (r *Reporter) run() {
	defer close(r.done)
	for rep := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		if _, err := r.coord.ReportOutcome(ctx, rep.id, rep.err); err != nil {
			util.SafePrintf("[WARN] 异步上报Key %s 结果失败: %v", rep.id, err)
		}
		cancel()
	}
}

// Close 停止接收新结果，等待队列排空
// ctx 超时则放弃等待（worker 仍会在后台处理完剩余结果）
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending 队列中待处理的结果数
func (r *Reporter) Pending() int {
	return len(r.queue)
}

// drainTimeout 服务关闭时等待上报队列排空的上限
const drainTimeout = 10 * time.Second

// Shutdown 使用默认超时关闭
func (r *Reporter) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return r.Close(ctx)
}
