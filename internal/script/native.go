package script

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Module is one named native capability reachable through the asynchronous
// invoke path. Invocations run off the script thread; results are
// correlated back through the pending-callback table.
type Module interface {
	Invoke(ctx context.Context, method string, args map[string]any) (any, error)
}

// NativeModules is the process-wide module table. Like the factory
// registry, it is constructed explicitly and injected so reload and tests
// can scope its lifetime.
type NativeModules struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewNativeModules returns an empty table.
func NewNativeModules() *NativeModules {
	return &NativeModules{modules: make(map[string]Module)}
}

// Register installs m under name, replacing any prior module.
func (n *NativeModules) Register(name string, m Module) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.modules[name] = m
}

// Invoke routes one invocation. A missing module or method surfaces as a
// named error string resolved through the callback's error slot, never a
// crash.
func (n *NativeModules) Invoke(ctx context.Context, module, method string, args map[string]any) (any, error) {
	n.mu.RLock()
	m, ok := n.modules[module]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no native module %q", module)
	}
	return m.Invoke(ctx, method, args)
}

// DeviceModule answers basic host/device queries. It exists to exercise the
// invoke path end to end; platform bridges register richer modules.
type DeviceModule struct {
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (d *DeviceModule) Invoke(_ context.Context, method string, _ map[string]any) (any, error) {
	switch method {
	case "getInfo":
		return map[string]any{
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
			"cpus": runtime.NumCPU(),
		}, nil
	case "uptimeMillis":
		now := time.Now
		if d.Now != nil {
			now = d.Now
		}
		return now().UnixMilli(), nil
	default:
		return nil, fmt.Errorf("device module has no method %q", method)
	}
}
