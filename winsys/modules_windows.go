package winsys

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/r0lh/modinject/pinjector"
)

// snapshot retries are needed while the target's loader is busy
const snapshotAttempts = 5

// Modules lists the modules currently mapped in process pid.
func Modules(pid uint32) ([]Module, error) {
	var (
		snap windows.Handle
		err  error
	)
	for i := 0; i < snapshotAttempts; i++ {
		snap, err = windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, pid)
		if !errors.Is(err, windows.ERROR_BAD_LENGTH) {
			break
		}
	}
	if err != nil {
		return nil, classify(err, pinjector.OperationFailed, "can't snapshot modules")
	}
	defer windows.CloseHandle(snap)

	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))
	if err := windows.Module32First(snap, &me); err != nil {
		return nil, classify(err, pinjector.OperationFailed, "can't read first module")
	}
	var mods []Module
	for {
		mods = append(mods, Module{
			Name: windows.UTF16ToString(me.Module[:]),
			Path: windows.UTF16ToString(me.ExePath[:]),
			Base: me.ModBaseAddr,
			Size: me.ModBaseSize,
		})
		err := windows.Module32Next(snap, &me)
		if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
			return mods, nil
		}
		if err != nil {
			return nil, classify(err, pinjector.OperationFailed, "can't read next module")
		}
	}
}
