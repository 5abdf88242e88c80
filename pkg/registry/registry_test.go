package registry

import (
	"fmt"
	"reflect"
	"testing"
)

// profileEntry stands in for the compatibility profiles and gateways the
// broker registers at startup.
type profileEntry struct {
	ID       string
	Provider string
}

func TestBaseRegistry_Register(t *testing.T) {
	registry := NewBaseRegistry[profileEntry]()

	tests := []struct {
		name    string
		key     string
		entry   profileEntry
		wantErr bool
	}{
		{
			name:  "register valid entry",
			key:   "glm",
			entry: profileEntry{ID: "glm", Provider: "glm-openai"},
		},
		{
			name:    "register with empty key",
			key:     "",
			entry:   profileEntry{ID: "anon"},
			wantErr: true,
		},
		{
			name:    "register duplicate key",
			key:     "glm",
			entry:   profileEntry{ID: "glm-2"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Register(tt.key, tt.entry)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBaseRegistry_GetRemove(t *testing.T) {
	registry := NewBaseRegistry[profileEntry]()

	if err := registry.Register("qwen3-coder", profileEntry{ID: "qwen3-coder", Provider: "qwen-portal"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	entry, ok := registry.Get("qwen3-coder")
	if !ok || entry.Provider != "qwen-portal" {
		t.Errorf("Get() = %+v, %v; want qwen-portal entry", entry, ok)
	}

	if _, ok := registry.Get("modelscope"); ok {
		t.Error("Get() found unregistered key")
	}

	if err := registry.Remove("qwen3-coder"); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if err := registry.Remove("qwen3-coder"); err == nil {
		t.Error("Remove() of missing key should error")
	}
	if _, ok := registry.Get("qwen3-coder"); ok {
		t.Error("entry still present after Remove()")
	}
}

func TestBaseRegistry_Names(t *testing.T) {
	registry := NewBaseRegistry[profileEntry]()

	for _, id := range []string{"modelscope", "glm", "lmstudio"} {
		if err := registry.Register(id, profileEntry{ID: id}); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	want := []string{"glm", "lmstudio", "modelscope"}
	if got := registry.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want sorted %v", got, want)
	}

	if count := registry.Count(); count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}

	registry.Clear()
	if count := registry.Count(); count != 0 {
		t.Errorf("Count() after Clear() = %d, want 0", count)
	}
}

func TestBaseRegistry_Concurrency(t *testing.T) {
	registry := NewBaseRegistry[profileEntry]()

	done := make(chan bool, 2)

	go func() {
		defer func() { done <- true }()
		for i := 0; i < 100; i++ {
			id := fmt.Sprintf("profile-%d", i)
			_ = registry.Register(id, profileEntry{ID: id})
		}
	}()

	go func() {
		defer func() { done <- true }()
		for i := 0; i < 100; i++ {
			registry.Get(fmt.Sprintf("profile-%d", i))
			registry.Count()
			registry.List()
		}
	}()

	<-done
	<-done

	if count := registry.Count(); count != 100 {
		t.Errorf("Count() after concurrent access = %d, want 100", count)
	}
}
