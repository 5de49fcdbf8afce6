package view

import (
	"errors"
	"testing"
)

func TestRegistryLookupUnknownTag(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("Nonexistent")
	if err == nil {
		t.Fatal("expected error for unregistered tag")
	}
	var nf *ErrNoFactory
	if !errors.As(err, &nf) {
		t.Fatalf("expected *ErrNoFactory, got %T", err)
	}
	if nf.Tag != "Nonexistent" {
		t.Fatalf("error names tag %q", nf.Tag)
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	first := &HostFactory{Tag: "first"}
	second := &HostFactory{Tag: "second"}
	reg.Register("View", first)
	reg.Register("View", second)

	f, err := reg.Lookup("View")
	if err != nil {
		t.Fatal(err)
	}
	if f != Factory(second) {
		t.Fatal("replacement registration did not take effect")
	}
}

func TestHostFactoryChildOrdering(t *testing.T) {
	f := &HostFactory{Tag: "View"}
	parent := mustCreate(t, f)
	a := mustCreate(t, f)
	b := mustCreate(t, f)
	c := mustCreate(t, f)

	// append, append, then insert in the middle
	if err := f.InsertChild(parent, a, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.InsertChild(parent, c, 1); err != nil {
		t.Fatal(err)
	}
	if err := f.InsertChild(parent, b, 1); err != nil {
		t.Fatal(err)
	}

	got := parent.(*HostView).Children()
	want := []*HostView{a.(*HostView), b.(*HostView), c.(*HostView)}
	if len(got) != len(want) {
		t.Fatalf("expected %d children, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("child %d out of order", i)
		}
	}

	if err := f.RemoveChild(parent, b); err != nil {
		t.Fatal(err)
	}
	if got := parent.(*HostView).Children(); len(got) != 2 {
		t.Fatalf("expected 2 children after removal, got %d", len(got))
	}
}

func TestHostFactoryListenerHookLifecycle(t *testing.T) {
	f := &HostFactory{Tag: "Slider"}
	h := mustCreate(t, f)
	v := h.(*HostView)

	var seen []map[string]any
	cb := func(p map[string]any) { seen = append(seen, p) }

	if err := f.AddEventListener(h, "change", cb); err != nil {
		t.Fatal(err)
	}
	if v.HookCount("change") != 1 {
		t.Fatalf("expected one native hook, got %d", v.HookCount("change"))
	}

	// re-registering the same key replaces, it must not stack hooks
	if err := f.AddEventListener(h, "change", cb); err != nil {
		t.Fatal(err)
	}
	if v.HookCount("change") != 1 {
		t.Fatalf("replacement stacked hooks: %d", v.HookCount("change"))
	}

	if !v.Emit("change", map[string]any{"value": 0.5}) {
		t.Fatal("emit found no listener")
	}
	if len(seen) != 1 {
		t.Fatalf("callback ran %d times", len(seen))
	}

	if err := f.RemoveEventListener(h, "change"); err != nil {
		t.Fatal(err)
	}
	if v.HookCount("change") != 0 {
		t.Fatalf("native hook leaked: count %d", v.HookCount("change"))
	}
	if v.Emit("change", nil) {
		t.Fatal("listener still installed after removal")
	}

	// removing twice is a no-op, not a negative count
	if err := f.RemoveEventListener(h, "change"); err != nil {
		t.Fatal(err)
	}
	if v.HookCount("change") != 0 {
		t.Fatalf("double removal went negative: %d", v.HookCount("change"))
	}
}

func TestHostCatalog(t *testing.T) {
	reg := NewRegistry()
	HostCatalog(reg)
	for _, tag := range []string{"View", "Text", "Slider"} {
		if _, err := reg.Lookup(tag); err != nil {
			t.Fatalf("catalog missing %q: %v", tag, err)
		}
	}
}

func mustCreate(t *testing.T, f Factory) Handle {
	t.Helper()
	h, err := f.CreateView()
	if err != nil {
		t.Fatal(err)
	}
	return h
}
