// safego.go — 带 panic 恢复的 goroutine 启动器。
package util

import (
	"runtime/debug"

	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// SafeGo 在新 goroutine 中执行 fn, panic 被捕获并连同 name 和堆栈记录。
// 返回的 channel 在 fn 结束 (包括 panic) 后关闭。
func SafeGo(name string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					logger.FieldComponent, name,
					logger.FieldError, r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
	return done
}
