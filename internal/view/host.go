package view

import (
	"fmt"
	"slices"
	"sync"
)

// HostView is the headless native view used by the demo host and the test
// suite. It models exactly what the bridge depends on: a property bag,
// ordered children, text content, and lazily attached event hooks.
type HostView struct {
	mu       sync.Mutex
	Tag      string
	Props    map[string]any
	Text     string
	children []*HostView

	listeners map[string]EventCallback
	// attached counts native hook installs minus teardowns per event, so
	// tests can assert the attach-on-first / detach-on-last contract.
	attached map[string]int
}

// NewHostView returns an empty view with the given type tag.
func NewHostView(tag string) *HostView {
	return &HostView{
		Tag:       tag,
		Props:     make(map[string]any),
		listeners: make(map[string]EventCallback),
		attached:  make(map[string]int),
	}
}

// Children returns a snapshot of the ordered child list.
func (v *HostView) Children() []*HostView {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.children)
}

// Emit simulates the native view producing an event. It invokes the
// registered callback, if any, and reports whether one was installed.
func (v *HostView) Emit(event string, payload map[string]any) bool {
	v.mu.Lock()
	cb, ok := v.listeners[event]
	v.mu.Unlock()
	if !ok {
		return false
	}
	cb(payload)
	return true
}

// HookCount returns the net number of native hook installs for event.
// Anything other than 0 or 1 indicates a listener leak.
func (v *HostView) HookCount(event string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.attached[event]
}

// HostFactory implements Factory over HostView for one type tag.
type HostFactory struct {
	Tag string
}

// HostCatalog registers a HostFactory for each of the baseline view types
// into reg. The catalog is deliberately small; it exists to exercise the
// polymorphism boundary, not to enumerate every component.
func HostCatalog(reg *Registry) {
	for _, tag := range []string{"View", "Text", "RawText", "Image", "Slider", "ScrollView"} {
		reg.Register(tag, &HostFactory{Tag: tag})
	}
}

func (f *HostFactory) CreateView() (Handle, error) {
	return NewHostView(f.Tag), nil
}

func (f *HostFactory) UpdateProp(h Handle, key string, value any) error {
	v, err := f.view(h)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Props[key] = value
	if key == "text" {
		if s, ok := value.(string); ok {
			v.Text = s
		}
	}
	return nil
}

func (f *HostFactory) InsertChild(parent, child Handle, index int) error {
	p, err := f.view(parent)
	if err != nil {
		return err
	}
	c, ok := child.(*HostView)
	if !ok {
		return fmt.Errorf("child handle is %T, not *HostView", child)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index > len(p.children) {
		index = len(p.children)
	}
	p.children = slices.Insert(p.children, index, c)
	return nil
}

func (f *HostFactory) RemoveChild(parent, child Handle) error {
	p, err := f.view(parent)
	if err != nil {
		return err
	}
	c, ok := child.(*HostView)
	if !ok {
		return fmt.Errorf("child handle is %T, not *HostView", child)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.Index(p.children, c)
	if i < 0 {
		return fmt.Errorf("child not mounted under parent %q", p.Tag)
	}
	p.children = slices.Delete(p.children, i, i+1)
	return nil
}

func (f *HostFactory) AddEventListener(h Handle, event string, cb EventCallback) error {
	v, err := f.view(h)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.listeners[event]; !exists {
		v.attached[event]++
	}
	v.listeners[event] = cb
	return nil
}

func (f *HostFactory) RemoveEventListener(h Handle, event string) error {
	v, err := f.view(h)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.listeners[event]; exists {
		delete(v.listeners, event)
		v.attached[event]--
	}
	return nil
}

func (f *HostFactory) view(h Handle) (*HostView, error) {
	v, ok := h.(*HostView)
	if !ok {
		return nil, fmt.Errorf("handle is %T, not *HostView", h)
	}
	return v, nil
}
