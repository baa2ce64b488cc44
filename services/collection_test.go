package services

import (
	"context"
	"testing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

type greeter struct {
	prefix string
}

func (g *greeter) Greet(name string) string {
	return g.prefix + name
}

func TestCollection_ProvideAndPopulate(t *testing.T) {
	c := New()
	c.Supply("hello, ")
	c.Provide(func(prefix string) *greeter {
		return &greeter{prefix: prefix}
	})

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	var g *greeter
	app := fxtest.New(t, fx.NopLogger, c.Options(), fx.Populate(&g))
	app.RequireStart()
	defer app.RequireStop()

	if got := g.Greet("plugin"); got != "hello, plugin" {
		t.Errorf("Greet() = %q, want %q", got, "hello, plugin")
	}
}

func TestCollection_InvokeRunsLifecycleHooks(t *testing.T) {
	c := New()
	started := false
	c.Invoke(func(lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				started = true
				return nil
			},
		})
	})

	app := fxtest.New(t, fx.NopLogger, c.Options())
	app.RequireStart()
	app.RequireStop()

	if !started {
		t.Error("expected OnStart hook registered through Invoke to run")
	}
}

func TestCollection_Decorate(t *testing.T) {
	c := New()
	c.Supply(&greeter{prefix: "hi "})
	c.Decorate(func(g *greeter) *greeter {
		return &greeter{prefix: "[" + g.prefix + "]"}
	})

	var g *greeter
	app := fxtest.New(t, fx.NopLogger, c.Options(), fx.Populate(&g))
	app.RequireStart()
	defer app.RequireStop()

	if got := g.Greet("x"); got != "[hi ]x" {
		t.Errorf("Greet() = %q, want %q", got, "[hi ]x")
	}
}

func TestCollection_OptionsSnapshot(t *testing.T) {
	c := New()
	c.Supply(1)
	opts := c.Options()
	c.Supply("later")

	var n int
	app := fxtest.New(t, fx.NopLogger, opts, fx.Populate(&n))
	app.RequireStart()
	defer app.RequireStop()

	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}
