package winsys

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/r0lh/modinject/pinjector"
)

var (
	modKernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procVirtualAllocEx     = modKernel32.NewProc("VirtualAllocEx")
	procCreateRemoteThread = modKernel32.NewProc("CreateRemoteThread")
	procGetExitCodeThread  = modKernel32.NewProc("GetExitCodeThread")
)

// classify maps a Win32 error to a failure kind, using fallback for
// anything not specifically recognised.
func classify(err error, fallback pinjector.Kind, msg string) error {
	kind := fallback
	var errno windows.Errno
	if errors.As(err, &errno) {
		switch errno {
		case windows.ERROR_ACCESS_DENIED, windows.ERROR_PRIVILEGE_NOT_HELD:
			kind = pinjector.PermissionDenied
		case windows.ERROR_NOT_ENOUGH_MEMORY, windows.ERROR_OUTOFMEMORY, windows.ERROR_COMMITMENT_LIMIT:
			kind = pinjector.ResourceExhausted
		}
	}
	return pinjector.Wrap(kind, err, msg)
}
