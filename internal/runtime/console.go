package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// consoleBuffer captures console-style output from sandboxed code.
// Entries go to the result's log list, never to the host's own log stream.
// Execution is single-threaded per invocation, but timer callbacks fire
// from posted jobs, so appends stay behind a mutex-free single goroutine
// contract: all writes happen on the VM goroutine.
type consoleBuffer struct {
	entries []LogEntry
	limit   int
}

const maxLogEntries = 1000

func newConsoleBuffer() *consoleBuffer {
	return &consoleBuffer{limit: maxLogEntries}
}

func (b *consoleBuffer) append(level string, args []goja.Value) {
	if len(b.entries) >= b.limit {
		return
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatLogValue(a)
	}
	b.entries = append(b.entries, LogEntry{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level,
		Message: strings.Join(parts, " "),
	})
}

// appendMessage records a host-originated entry, such as an error thrown
// from a timer callback.
func (b *consoleBuffer) appendMessage(level, message string) {
	if len(b.entries) >= b.limit {
		return
	}
	b.entries = append(b.entries, LogEntry{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level,
		Message: message,
	})
}

// install wires a console object with log/error/warn/info into the engine.
func (b *consoleBuffer) install(vm *goja.Runtime) error {
	console := vm.NewObject()
	for _, level := range []string{"log", "error", "warn", "info"} {
		level := level
		err := console.Set(level, func(call goja.FunctionCall) goja.Value {
			b.append(level, call.Arguments)
			return goja.Undefined()
		})
		if err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// formatLogValue renders one console argument: strings stay bare, composite
// values serialize to JSON, everything else falls back to its string form.
func formatLogValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	exported := v.Export()
	switch t := exported.(type) {
	case string:
		return t
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return v.String()
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", exported)
	}
}
