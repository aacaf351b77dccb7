package util

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}
}

func TestSafeGo(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ran *atomic.Bool)
	}{
		{"normal", func(ran *atomic.Bool) { ran.Store(true) }},
		{"panic string", func(ran *atomic.Bool) { ran.Store(true); panic("test panic") }},
		{"panic value", func(ran *atomic.Bool) { ran.Store(true); panic(42) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ran atomic.Bool
			waitDone(t, SafeGo("test."+tt.name, func() { tt.fn(&ran) }))
			if !ran.Load() {
				t.Error("fn was not executed")
			}
		})
	}
}

func TestSafeGo_Concurrent(t *testing.T) {
	const n = 100
	var counter atomic.Int32
	dones := make([]<-chan struct{}, 0, n)
	for range n {
		dones = append(dones, SafeGo("test.concurrent", func() { counter.Add(1) }))
	}
	for _, d := range dones {
		waitDone(t, d)
	}
	if got := counter.Load(); got != n {
		t.Errorf("executed %d/%d", got, n)
	}
}
