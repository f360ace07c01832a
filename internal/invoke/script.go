package invoke

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// ScriptInvoker runs integrations whose config carries an inline "script"
// entry: a JavaScript program that declares one global function per tool.
// Each call gets a fresh VM, so scripts cannot leak state between calls
// and a misbehaving script cannot wedge the invoker.
type ScriptInvoker struct{}

func NewScriptInvoker() *ScriptInvoker {
	return &ScriptInvoker{}
}

func (s *ScriptInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	src, _ := req.Integration.Config["script"].(string)
	if src == "" {
		return nil, &Error{Message: "integration has no script configured"}
	}

	prog, err := goja.Compile(req.Integration.ID, src, true)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("compile script: %v", err)}
	}

	// The probe only needs to prove the script is loadable; running tool
	// bodies from a health check would not be side-effect free.
	if req.Tool == ProbeTool {
		return &Result{Output: json.RawMessage(`{"ok":true}`)}, nil
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	// Abort the VM when the caller's deadline passes. goja has no context
	// support of its own; Interrupt is its cancellation hook.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunProgram(prog); err != nil {
		return nil, scriptError(ctx, err)
	}

	fn, ok := goja.AssertFunction(vm.Get(req.Tool))
	if !ok {
		return nil, &Error{Message: fmt.Sprintf("script defines no function %q", req.Tool)}
	}

	var params any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &Error{Message: fmt.Sprintf("decode params: %v", err)}
		}
	}

	out, err := fn(goja.Undefined(), vm.ToValue(params))
	if err != nil {
		return nil, scriptError(ctx, err)
	}

	exported := out.Export()
	raw, err := json.Marshal(exported)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("encode script result: %v", err)}
	}
	return &Result{Output: raw}, nil
}

// scriptError distinguishes deadline interrupts from genuine script
// failures. Script exceptions are terminal; the same input would throw
// again on retry.
func scriptError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := err.(*goja.InterruptedError); ok {
		return &Error{Message: fmt.Sprintf("script interrupted: %v", err)}
	}
	return &Error{Message: fmt.Sprintf("script error: %v", err)}
}
