// Package winsys implements the remote process primitives on Windows.
package winsys

import (
	"strings"
	"time"
)

const (
	PROCESS_CREATE_THREAD     = 0x0002
	PROCESS_VM_OPERATION      = 0x0008
	PROCESS_VM_READ           = 0x0010
	PROCESS_VM_WRITE          = 0x0020
	PROCESS_QUERY_INFORMATION = 0x0400

	PAGE_EXECUTE_READWRITE = 0x00000040

	MEM_COMMIT  = 0x1000
	MEM_RESERVE = 0x2000

	waitObject0  = 0x00000000
	waitTimeout  = 0x00000102
	infinite     = 0xFFFFFFFF
	maxFiniteMil = infinite - 1

	nullRef = 0
)

// ProcessAccess is the access mask requested when opening a target.
const ProcessAccess = PROCESS_CREATE_THREAD | PROCESS_QUERY_INFORMATION | PROCESS_VM_OPERATION | PROCESS_VM_WRITE | PROCESS_VM_READ

// DefaultTimeout bounds each remote call made by the CLI.
const DefaultTimeout = 5 * time.Second

// waitMillis converts timeout to a WaitForSingleObject argument. Partial
// milliseconds round up, negative timeouts poll, and the result is never
// INFINITE.
func waitMillis(timeout time.Duration) uint32 {
	if timeout <= 0 {
		return 0
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	if ms > maxFiniteMil {
		return maxFiniteMil
	}
	return uint32(ms)
}

// Module is one module mapped in a target process.
type Module struct {
	Name string
	Path string
	Base uintptr
	Size uint32
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// findModule looks name up among mods, preferring an exact path match over
// a file name match. Comparison is case-insensitive like the loader's.
func findModule(mods []Module, name string) (Module, bool) {
	for _, m := range mods {
		if strings.EqualFold(name, m.Path) {
			return m, true
		}
	}
	file := baseName(name)
	for _, m := range mods {
		if strings.EqualFold(file, m.Name) {
			return m, true
		}
	}
	return Module{}, false
}
