package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/pi-agent/pi/pkg/types"
)

func newMockTool(id string) *BaseTool {
	return NewBaseTool(id, "A "+id+" tool", nil, func(context.Context, json.RawMessage, *Context) (*Result, error) {
		return TextResult("mock result", nil), nil
	})
}

func TestRegistry_RegisterGetUnregister(t *testing.T) {
	r := NewRegistry("/tmp")
	r.Register(newMockTool("b"))
	r.Register(newMockTool("a"))

	got, ok := r.Get("a")
	if !ok || got.ID() != "a" {
		t.Fatalf("Get(a) = %v, %v", got, ok)
	}
	if ids := fmt.Sprint(r.IDs()); ids != "[a b]" {
		t.Errorf("IDs = %s", ids)
	}

	r.Unregister("a")
	if _, ok := r.Get("a"); ok {
		t.Error("a should be gone")
	}
}

func TestRegistry_ReplaceExisting(t *testing.T) {
	r := NewRegistry("/tmp")
	r.Register(newMockTool("x"))
	r.Register(NewBaseTool("x", "second", nil, nil))
	got, _ := r.Get("x")
	if got.Description() != "second" || len(r.List()) != 1 {
		t.Errorf("replacement failed: %q", got.Description())
	}
}

func TestRegistry_Infos(t *testing.T) {
	r := NewRegistry("/tmp")
	r.Register(newMockTool("zeta"))
	r.Register(newMockTool("alpha"))

	infos := r.Infos()
	if len(infos) != 2 || infos[0].Name != "alpha" || infos[1].Name != "zeta" {
		t.Fatalf("infos = %+v", infos)
	}
	if infos[0].Description != "A alpha tool" || string(infos[0].Parameters) == "" {
		t.Errorf("info = %+v", infos[0])
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry("/tmp", nil)
	if ids := fmt.Sprint(r.IDs()); ids != "[bash edit glob grep ls read webfetch write]" {
		t.Errorf("IDs = %s", ids)
	}

	r = DefaultRegistry("/tmp", &types.Settings{Tools: map[string]bool{"bash": false, "webfetch": false, "read": true}})
	if _, ok := r.Get("bash"); ok {
		t.Error("bash should be disabled")
	}
	if _, ok := r.Get("read"); !ok {
		t.Error("read should stay enabled")
	}
	if len(r.List()) != 6 {
		t.Errorf("got %d tools", len(r.List()))
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry("/tmp")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(newMockTool(fmt.Sprintf("t%d", i)))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Infos()
		}()
	}
	wg.Wait()
	if len(r.List()) != 20 {
		t.Errorf("got %d tools", len(r.List()))
	}
}

func TestResultText(t *testing.T) {
	var r *Result
	if r.Text() != "" {
		t.Error("nil result text")
	}
	r = &Result{Content: types.Content{types.Text("a"), &types.ImageContent{}, types.Text("b")}}
	if got := r.Text(); got != "a\nb" {
		t.Errorf("text = %q", got)
	}
}
