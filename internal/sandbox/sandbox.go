// Package sandbox runs untrusted scripts inside an isolated JavaScript
// context with a wall-clock timeout and a memory ceiling. Only plain data
// and the console capture functions are exposed; the runtime has no module
// loader and no ambient access to the host's file system, process or
// network.
package sandbox

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dop251/goja"
	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
)

const (
	interruptTimeout = "timeout"
	interruptMemory  = "memory"

	memCheckInterval = 50 * time.Millisecond
)

type Config struct {
	MemoryLimitBytes int64
	Timeout          time.Duration
}

type Sandbox struct {
	cfg    Config
	logger queryportal.Logger
}

func New(cfg Config, logger queryportal.Logger) *Sandbox {
	if cfg.MemoryLimitBytes <= 0 {
		cfg.MemoryLimitBytes = 128 * 1024 * 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sandbox{cfg: cfg, logger: logger}
}

// Execute runs the script in a fresh isolated context. The context is torn
// down after every run, success or not; that teardown is the engine's only
// defense against a hostile script pinning memory across jobs.
func (s *Sandbox) Execute(script string, conns []queryportal.ConnectionDescriptor) queryportal.Outcome {
	vm := goja.New()
	defer vm.ClearInterrupt()

	var logBuf, errBuf strings.Builder

	console := vm.NewObject()
	console.Set("log", captureFunc(&logBuf))
	console.Set("error", captureFunc(&errBuf))
	vm.Set("console", console)
	vm.Set("connections", plainData(conns))

	done := make(chan struct{})
	defer close(done)
	go s.watchdog(vm, done)

	// Surface uncaught exceptions through the error channel before
	// rethrowing so they end up in the captured output too.
	wrapped := "(function() {\ntry {\n" + script + "\n} catch (e) { console.error(String(e)); throw e; }\n})();"

	start := time.Now()
	_, err := vm.RunString(wrapped)
	elapsed := time.Since(start)

	if err != nil {
		return s.mapFailure(err, elapsed)
	}

	return queryportal.Outcome{
		Success: true,
		Output:  combineOutput(&logBuf, &errBuf),
	}
}

// watchdog interrupts the runtime when the wall clock or the heap budget is
// exceeded. The heap check samples process-wide allocation growth since the
// run started; goja has no per-context allocation accounting, so this is
// the enforceable approximation of a context memory ceiling.
func (s *Sandbox) watchdog(vm *goja.Runtime, done <-chan struct{}) {
	var base runtime.MemStats
	runtime.ReadMemStats(&base)

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	ticker := time.NewTicker(memCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-timer.C:
			vm.Interrupt(interruptTimeout)
			return
		case <-ticker.C:
			var cur runtime.MemStats
			runtime.ReadMemStats(&cur)
			if int64(cur.HeapAlloc)-int64(base.HeapAlloc) > s.cfg.MemoryLimitBytes {
				vm.Interrupt(interruptMemory)
				return
			}
		}
	}
}

func (s *Sandbox) mapFailure(err error, elapsed time.Duration) queryportal.Outcome {
	var interrupted *goja.InterruptedError
	if ok := asInterrupted(err, &interrupted); ok {
		switch interrupted.Value() {
		case interruptTimeout:
			return queryportal.Failure("execution timed out after %dms", s.cfg.Timeout.Milliseconds())
		case interruptMemory:
			return queryportal.Failure("exceeded memory limit")
		}
		s.logger.Warn("sandbox: interrupted for unknown reason", "value", interrupted.Value(), "elapsed", elapsed.String())
		return queryportal.Failure("execution interrupted")
	}

	if ex, ok := err.(*goja.Exception); ok {
		return queryportal.Failure("script error: %s", exceptionMessage(ex))
	}
	return queryportal.Failure("script error: %v", err)
}

func asInterrupted(err error, target **goja.InterruptedError) bool {
	if ie, ok := err.(*goja.InterruptedError); ok {
		*target = ie
		return true
	}
	return false
}

func exceptionMessage(ex *goja.Exception) string {
	if v := ex.Value(); v != nil {
		return v.String()
	}
	return ex.Error()
}

func captureFunc(buf *strings.Builder) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, formatValue(arg))
		}
		buf.WriteString(strings.Join(parts, " "))
		buf.WriteByte('\n')
		return goja.Undefined()
	}
}

func formatValue(v goja.Value) string {
	exported := v.Export()
	switch e := exported.(type) {
	case nil:
		return "null"
	case string:
		return e
	case bool, int64, float64:
		return fmt.Sprintf("%v", e)
	default:
		if b, err := json.Marshal(e); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", e)
	}
}

func combineOutput(logBuf, errBuf *strings.Builder) string {
	out := strings.TrimRight(logBuf.String(), "\n")
	if errBuf.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += "--- errors ---\n" + strings.TrimRight(errBuf.String(), "\n")
	}
	return out
}

// plainData round-trips the descriptors through JSON so the runtime sees
// plain maps rather than reflected Go structs.
func plainData(conns []queryportal.ConnectionDescriptor) []interface{} {
	raw, err := json.Marshal(conns)
	if err != nil {
		return nil
	}
	var data []interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}
