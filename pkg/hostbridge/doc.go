// Package hostbridge marshals tool side effects onto a single host goroutine.
//
// Invariants:
//   - Calls execute one at a time, in FIFO order, on the same goroutine.
//   - A caller whose context ends while its call is still queued gets the
//     context error and the call never runs.
//   - Queue activity is observable through invoked/completed events and metrics.
//
// Usage:
//
//	bridge := hostbridge.New(hostbridge.Config{})
//	defer bridge.Close()
//	value, err := bridge.Invoke(ctx, "read_file", func(ctx context.Context) (any, error) {
//		return os.ReadFile(path)
//	}, nil)
package hostbridge
