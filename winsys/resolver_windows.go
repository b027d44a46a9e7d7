package winsys

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/r0lh/modinject/pinjector"
)

// LoaderResolver maps the module into this process without running it,
// asks the loader for the export and subtracts the local base.
type LoaderResolver struct{}

func (LoaderResolver) Resolve(modulePath, symbol string) (pinjector.ModuleOffset, error) {
	if modulePath == "" || symbol == "" {
		return 0, pinjector.Errorf(pinjector.InvalidArgument, "module path and symbol are required")
	}
	h, err := windows.LoadLibraryEx(modulePath, 0, windows.DONT_RESOLVE_DLL_REFERENCES)
	if err != nil {
		return 0, pinjector.Wrap(pinjector.SymbolNotFound, err, "can't map "+modulePath)
	}
	defer windows.FreeLibrary(h)

	var info windows.ModuleInfo
	if err := windows.GetModuleInformation(windows.CurrentProcess(), h, &info, uint32(unsafe.Sizeof(info))); err != nil {
		return 0, classify(err, pinjector.OperationFailed, "can't query local mapping of "+modulePath)
	}
	addr, err := windows.GetProcAddress(h, symbol)
	if err != nil {
		return 0, pinjector.Wrap(pinjector.SymbolNotFound, err, modulePath+" does not export "+symbol)
	}
	base := info.BaseOfDll
	if addr < base || addr >= base+uintptr(info.SizeOfImage) {
		return 0, pinjector.Errorf(pinjector.SymbolNotFound, "%s!%s is forwarded to another module", modulePath, symbol)
	}
	return pinjector.ModuleOffset(addr - base), nil
}

// SystemDir returns the directory the loader takes system modules from.
func SystemDir() string {
	dir, err := windows.GetSystemDirectory()
	if err != nil {
		return ""
	}
	return dir
}

// DefaultOptions resolves offsets with the local loader.
func DefaultOptions() pinjector.Options {
	opts := pinjector.DefaultOptions()
	opts.Resolver = pinjector.NewCachingResolver(LoaderResolver{})
	return opts
}
