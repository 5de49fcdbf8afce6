// Package env provides a goja module exposing read-only host environment
// lookups to script programs. Registered as "weft:env".
package env

import (
	"os"
	"runtime"

	"github.com/dop251/goja"
)

// Require is the goja module loader for weft:env.
func Require(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)

	// get(key: string): string
	_ = exports.Set("get", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(os.Getenv(call.Argument(0).String()))
	})

	// platform(): {os, arch}
	_ = exports.Set("platform", func(goja.FunctionCall) goja.Value {
		obj := vm.NewObject()
		_ = obj.Set("os", runtime.GOOS)
		_ = obj.Set("arch", runtime.GOARCH)
		return obj
	})
}
