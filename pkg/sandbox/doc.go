// Package sandbox compiles and runs short Go fragments inside an embedded
// interpreter.
//
// A fragment is the body of a function. It is wrapped in a fixed template
// with a known import set and compiled into a fresh Unit, so every call gets
// its own symbol table and output buffer:
//
//	package script
//
//	import (...)
//
//	func Run(env map[string]any, out io.Writer) any {
//		<fragment>
//		return nil
//	}
//
// Inside the fragment, env holds the caller's context objects and out (as
// well as fmt.Print*) writes to the captured output.
//
// Compiler diagnostics are reported against fragment lines, not template
// lines. A panic in the fragment is reported as a runtime error carrying the
// innermost wrapped cause, together with whatever output was written before
// it. The standard library bindings used to resolve imports are built once
// per Sandbox and shared by all units.
//
// Usage:
//
//	sb, err := sandbox.New(sandbox.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	res, err := sb.CompileAndExecute(ctx, `fmt.Fprintln(out, env["name"]); return 42`, map[string]any{"name": "disk"})
package sandbox
