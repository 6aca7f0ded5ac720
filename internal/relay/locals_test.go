package relay

import (
	"errors"
	"testing"

	"github.com/gezibash/moq-relay/internal/serve"
	pkgerrors "github.com/gezibash/moq-relay/pkg/errors"
)

func TestLocalsRegisterRoute(t *testing.T) {
	locals := NewLocals()
	_, _, reader := serve.Tracks{Namespace: "live"}.Produce()

	reg, err := locals.Register(reader)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Namespace() != "live" {
		t.Fatalf("Namespace = %q", reg.Namespace())
	}

	routed, ok := locals.Route("live")
	if !ok || routed.Namespace() != "live" {
		t.Fatalf("Route = %v, %v", routed, ok)
	}
	if routed == reader {
		t.Fatal("Route should hand out a clone")
	}
	if _, ok := locals.Route("other"); ok {
		t.Fatal("unregistered namespace routed")
	}
	if locals.Namespaces() != 1 {
		t.Fatalf("Namespaces = %d", locals.Namespaces())
	}

	reg.Close()
	reg.Close()
	if _, ok := locals.Route("live"); ok {
		t.Fatal("namespace routed after Close")
	}
	if locals.Namespaces() != 0 {
		t.Fatalf("Namespaces = %d after Close", locals.Namespaces())
	}
}

func TestLocalsDuplicate(t *testing.T) {
	locals := NewLocals()
	_, _, first := serve.Tracks{Namespace: "live"}.Produce()
	_, _, second := serve.Tracks{Namespace: "live"}.Produce()

	reg, err := locals.Register(first)
	if err != nil {
		t.Fatal(err)
	}
	_, err = locals.Register(second)
	if !errors.Is(err, ErrDuplicate) || !errors.Is(err, pkgerrors.ErrAlreadyExists) {
		t.Fatalf("second Register = %v, want ErrDuplicate", err)
	}

	reg.Close()
	if _, err := locals.Register(second); err != nil {
		t.Fatalf("Register after release: %v", err)
	}
}

func TestLocalsStaleCloseKeepsReplacement(t *testing.T) {
	locals := NewLocals()
	_, _, first := serve.Tracks{Namespace: "live"}.Produce()
	_, _, second := serve.Tracks{Namespace: "live"}.Produce()

	stale, _ := locals.Register(first)
	stale.Close()
	current, err := locals.Register(second)
	if err != nil {
		t.Fatal(err)
	}
	defer current.Close()

	// Closing a registration that was already replaced leaves the new one routable.
	stale.locals.unregister("live", first)
	if _, ok := locals.Route("live"); !ok {
		t.Fatal("replacement was unregistered by a stale registration")
	}
}
