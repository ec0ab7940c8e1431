package middleware

import (
	"context"
	"errors"
	"testing"

	errorskg "github.com/sweetpotato0/toolchat/errors"
)

type TestMiddleware struct {
	name  string
	err   error
	order *[]string
}

func (m *TestMiddleware) Name() string { return m.name }

func (m *TestMiddleware) Execute(ctx *Context, next Handler) error {
	*m.order = append(*m.order, m.name)
	if m.err != nil {
		return m.err
	}
	return next(ctx)
}

func TestMiddlewareChain(t *testing.T) {
	t.Run("empty chain executes final handler", func(t *testing.T) {
		chain := NewChain()
		executed := false

		err := chain.Execute(NewContext(context.Background()), func(ctx *Context) error {
			executed = true
			return nil
		})

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !executed {
			t.Error("final handler was not executed")
		}
	})

	t.Run("middleware chain executes in order", func(t *testing.T) {
		order := []string{}

		m1 := &TestMiddleware{name: "m1", order: &order}
		m2 := &TestMiddleware{name: "m2", order: &order}

		chain := NewChain(m1, nil, m2)
		if chain.Len() != 2 {
			t.Fatalf("expected nil middleware to be skipped, got %d", chain.Len())
		}

		_ = chain.Execute(NewContext(context.Background()), func(c *Context) error {
			order = append(order, "final")
			return nil
		})

		expected := []string{"m1", "m2", "final"}
		if len(order) != len(expected) {
			t.Fatalf("expected %d steps, got %d", len(expected), len(order))
		}
		for i, e := range expected {
			if order[i] != e {
				t.Errorf("expected step %d to be %s, got %s", i, e, order[i])
			}
		}
		names := chain.Names()
		if len(names) != 2 || names[0] != "m1" || names[1] != "m2" {
			t.Errorf("unexpected names %v", names)
		}
	})

	t.Run("error stops chain execution", func(t *testing.T) {
		order := []string{}
		m1 := &TestMiddleware{name: "m1", err: errors.New("test error"), order: &order}
		m2 := &TestMiddleware{name: "m2", order: &order}

		chain := NewChain(m1, m2)
		ctx := NewContext(context.Background())

		finalCalled := false
		err := chain.Execute(ctx, func(c *Context) error {
			finalCalled = true
			return nil
		})

		if err == nil {
			t.Error("expected error from middleware")
		}
		if ctx.Error != err {
			t.Errorf("expected context to record the chain error")
		}
		if finalCalled {
			t.Error("final handler should not be called after middleware error")
		}
	})

	t.Run("nil context is rejected", func(t *testing.T) {
		err := NewChain().Execute(nil, func(*Context) error { return nil })
		if !errors.Is(err, ErrInvalidContext) {
			t.Errorf("expected ErrInvalidContext, got %v", err)
		}
	})
}

func TestContextDefaults(t *testing.T) {
	ctx := NewContext(nil) //nolint:staticcheck
	if ctx.Context() == nil {
		t.Fatal("expected background context")
	}
	if ctx.Metadata == nil {
		t.Fatal("expected metadata map")
	}
	if (&Context{}).Context() == nil {
		t.Fatal("zero context should fall back to background")
	}
}

func TestErrInvalidInputWrapsSentinel(t *testing.T) {
	if !errors.Is(ErrInvalidInput, errorskg.ErrInvalidInput) {
		t.Fatal("expected middleware ErrInvalidInput to wrap the shared sentinel")
	}
}
