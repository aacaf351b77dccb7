package registry

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/multi-agent/transcript-sync/internal/model"
)

func TestStatusLifecycle(t *testing.T) {
	r := New()
	if got := r.Status("s1"); got.Type != model.StatusIdle {
		t.Errorf("unknown session status = %q, want idle", got.Type)
	}

	r.SetStatus("s1", model.BusyStatus())
	r.SetStatus("s2", model.SessionStatus{Type: model.StatusRetry, Retry: &model.RetryInfo{Attempt: 3}})
	r.SetStatus("s3", model.IdleStatus())
	r.SetStatus("", model.BusyStatus())

	if got := r.Busy(); !reflect.DeepEqual(got, []string{"s1", "s2"}) {
		t.Errorf("Busy() = %v", got)
	}
	if got := r.Status("s2"); got.Retry == nil || got.Retry.Attempt != 3 {
		t.Errorf("retry status = %+v", got)
	}

	r.SetStatus("s2", model.SessionStatus{Type: model.StatusIdle, Retry: &model.RetryInfo{Attempt: 9}})
	if got := r.Status("s2"); got.Retry != nil {
		t.Error("idle must clear retry info")
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Errorf("Snapshot size = %d, want 3", len(snap))
	}
}

func TestParentLinks(t *testing.T) {
	r := New()
	r.SetParent("child", "root")
	r.SetParent("grandchild", "child")
	r.SetParent("other", "elsewhere")
	r.SetParent("self", "self")

	tests := []struct {
		child, ancestor string
		want            bool
	}{
		{"child", "root", true},
		{"grandchild", "root", true},
		{"root", "root", true},
		{"other", "root", false},
		{"root", "child", false},
		{"", "root", false},
		{"self", "root", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_under_%s", tt.child, tt.ancestor), func(t *testing.T) {
			if got := r.IsDescendant(tt.child, tt.ancestor); got != tt.want {
				t.Errorf("IsDescendant(%q, %q) = %v, want %v", tt.child, tt.ancestor, got, tt.want)
			}
		})
	}

	if p, ok := r.Parent("grandchild"); !ok || p != "child" {
		t.Errorf("Parent(grandchild) = %q, %v", p, ok)
	}
	if got := r.Children("root"); !reflect.DeepEqual(got, []string{"child"}) {
		t.Errorf("Children(root) = %v", got)
	}

	r.Forget("child")
	if r.IsDescendant("grandchild", "root") {
		t.Error("Forget should unlink children")
	}
}

func TestParentCycleTerminates(t *testing.T) {
	r := New()
	r.SetParent("a", "b")
	r.SetParent("b", "a")
	if r.IsDescendant("a", "c") {
		t.Error("cycle should not match unrelated ancestor")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", n)
			r.SetStatus(id, model.BusyStatus())
			r.SetParent(id, "root")
			_ = r.Busy()
			_ = r.IsDescendant(id, "root")
			_ = r.Snapshot()
		}(i)
	}
	wg.Wait()
	if got := len(r.Children("root")); got != 50 {
		t.Errorf("Children = %d, want 50", got)
	}
}
