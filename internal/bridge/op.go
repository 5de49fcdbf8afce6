// Package bridge keeps the script program's virtual node tree and the
// native view tree consistent. It owns the node registry and the operation
// log processor; both run exclusively on the UI-rendering goroutine.
package bridge

import (
	"encoding/json"
	"fmt"
)

// Opcodes accepted on the wire. Arities are fixed; a record with the wrong
// argument count is skipped, it never aborts the batch.
const (
	OpCreate              = "create"
	OpCreateText          = "createText"
	OpAppendChild         = "appendChild"
	OpInsertBefore        = "insertBefore"
	OpRemoveChild         = "removeChild"
	OpUpdateProp          = "updateProp"
	OpUpdateStyle         = "updateStyle"
	OpSetText             = "setText"
	OpAddEventListener    = "addEventListener"
	OpRemoveEventListener = "removeEventListener"
	OpSetRootView         = "setRootView"
)

// opArity maps each opcode to its required argument count.
var opArity = map[string]int{
	OpCreate:              2,
	OpCreateText:          2,
	OpAppendChild:         2,
	OpInsertBefore:        3,
	OpRemoveChild:         1,
	OpUpdateProp:          3,
	OpUpdateStyle:         2,
	OpSetText:             2,
	OpAddEventListener:    2,
	OpRemoveEventListener: 2,
	OpSetRootView:         1,
}

// Op is one decoded tree-mutation record.
type Op struct {
	Name string `json:"op"`
	Args []any  `json:"args"`
}

// ParseBatch decodes a JSON operation batch. A payload that is not valid
// JSON fails as a whole; per-record problems (unknown opcode, bad arity,
// bad argument types) are left for the processor to skip individually.
func ParseBatch(data []byte) ([]Op, error) {
	var ops []Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("malformed operation batch: %w", err)
	}
	return ops, nil
}

// checkArity validates the record's argument count against the opcode
// table. Unknown opcodes are reported as such.
func checkArity(op Op) error {
	want, ok := opArity[op.Name]
	if !ok {
		return fmt.Errorf("unknown opcode %q", op.Name)
	}
	if len(op.Args) != want {
		return fmt.Errorf("opcode %q wants %d args, got %d", op.Name, want, len(op.Args))
	}
	return nil
}

// intArg coerces args[i] to an int64 node identifier. JSON numbers decode
// as float64; goja exports may hand over int64 directly.
func intArg(args []any, i int) (int64, error) {
	switch v := args[i].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("arg %d: %w", i, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("arg %d: expected integer, got %T", i, args[i])
	}
}

func stringArg(args []any, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("arg %d: expected string, got %T", i, args[i])
	}
	return s, nil
}

func mapArg(args []any, i int) (map[string]any, error) {
	m, ok := args[i].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arg %d: expected object, got %T", i, args[i])
	}
	return m, nil
}
