package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/traefik/yaegi/interp"
)

// EntryFunc is the signature of the compiled entry point.
type EntryFunc = func(env map[string]any, out io.Writer) any

// Unit is one isolated compilation of a fragment. Each unit owns its own
// interpreter, symbol table and output buffer; nothing leaks between units.
type Unit struct {
	id       string
	interp   *interp.Interpreter
	program  *interp.Program
	output   *outputBuffer
	released atomic.Bool
	onFree   func()
	mu       sync.Mutex
}

func newUnit(id string, refs interp.Exports, limit int, onFree func()) (*Unit, error) {
	out := newOutputBuffer(limit)
	i := interp.New(interp.Options{
		Stdout: out,
		Stderr: io.Discard,
		Stdin:  bytes.NewReader(nil),
		Args:   []string{packageName},
		Env:    []string{},
	})
	if err := i.Use(refs); err != nil {
		onFree()
		return nil, fmt.Errorf("load reference set: %w", err)
	}
	return &Unit{id: id, interp: i, output: out, onFree: onFree}, nil
}

// ID returns the unit identifier.
func (u *Unit) ID() string {
	return u.id
}

// Compile parses and type checks the unit source.
func (u *Unit) Compile(src string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.interp == nil {
		return ErrUnitReleased
	}
	prog, err := u.interp.Compile(src)
	if err != nil {
		return err
	}
	u.program = prog
	return nil
}

// Load runs package initialisation and resolves the entry point.
func (u *Unit) Load(ctx context.Context) (EntryFunc, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.interp == nil || u.program == nil {
		return nil, ErrUnitReleased
	}
	if _, err := u.interp.ExecuteWithContext(ctx, u.program); err != nil {
		return nil, err
	}
	v, err := u.interp.Eval(packageName + "." + entryPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingEntryPoint, err)
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil, ErrMissingEntryPoint
	}
	fn, ok := v.Interface().(EntryFunc)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected type %s", ErrMissingEntryPoint, v.Type())
	}
	return fn, nil
}

// Output returns everything the unit has written so far.
func (u *Unit) Output() (string, bool) {
	return u.output.String(), u.output.Truncated()
}

// Writer is the buffer handed to the entry point.
func (u *Unit) Writer() io.Writer {
	return u.output
}

// Release drops the interpreter and its compiled program. Calling it more
// than once is a no-op.
func (u *Unit) Release() {
	if !u.released.CompareAndSwap(false, true) {
		return
	}
	u.mu.Lock()
	u.interp = nil
	u.program = nil
	u.mu.Unlock()
	if u.onFree != nil {
		u.onFree()
	}
}

// outputBuffer is a size-capped writer safe for use from the entry goroutine
// and the caller at the same time.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if room <= 0 {
			b.truncated = b.truncated || len(p) > 0
			return len(p), nil
		}
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
			return len(p), nil
		}
	}
	return b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *outputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
