package notifier

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

type stub struct{ name string }

func (s stub) Name() string                           { return s.name }
func (stub) Send(context.Context, Notification) error { return nil }

var registerStub sync.Once

func TestRegistry(t *testing.T) {
	registerStub.Do(func() {
		Register("stub-test", func(cfg map[string]string) (Notifier, error) {
			return stub{name: cfg["name"]}, nil
		})
	})

	n, err := New("stub-test", map[string]string{"name": "alerts"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.Name() != "alerts" {
		t.Errorf("Name = %q", n.Name())
	}
	if !slices.Contains(Available(), "stub-test") {
		t.Errorf("Available = %v", Available())
	}
	if _, err := New("missing", nil); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	name := fmt.Sprintf("dup-test-%d", time.Now().UnixNano())
	Register(name, func(map[string]string) (Notifier, error) { return stub{}, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register(name, func(map[string]string) (Notifier, error) { return stub{}, nil })
}
