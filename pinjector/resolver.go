package pinjector

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/Binject/debug/pe"
)

// Resolver finds the offset of an exported symbol from the base of the
// module that exports it, without the module being loaded in any target.
type Resolver interface {
	Resolve(modulePath, symbol string) (ModuleOffset, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(modulePath, symbol string) (ModuleOffset, error)

func (f ResolverFunc) Resolve(modulePath, symbol string) (ModuleOffset, error) {
	return f(modulePath, symbol)
}

func checkResolveArgs(modulePath, symbol string) error {
	if modulePath == "" {
		return Errorf(InvalidArgument, "empty module path")
	}
	if symbol == "" {
		return Errorf(InvalidArgument, "empty symbol name")
	}
	return nil
}

// FileResolver reads the export table of the module file on disk. The
// export RVA is the symbol's offset from the image base.
type FileResolver struct {
	// Dir is searched for bare module names such as "kernel32.dll",
	// typically the system directory. Names with a path are used as is.
	Dir string
}

func (r FileResolver) path(modulePath string) string {
	if r.Dir == "" || strings.ContainsAny(modulePath, `\/`) {
		return modulePath
	}
	return filepath.Join(r.Dir, modulePath)
}

func (r FileResolver) Resolve(modulePath, symbol string) (ModuleOffset, error) {
	if err := checkResolveArgs(modulePath, symbol); err != nil {
		return 0, err
	}
	f, err := pe.Open(r.path(modulePath))
	if err != nil {
		return 0, Wrap(SymbolNotFound, err, "can't map "+modulePath)
	}
	defer f.Close()

	exports, err := f.Exports()
	if err != nil {
		return 0, Wrap(SymbolNotFound, err, "can't read exports of "+modulePath)
	}
	dirStart, dirEnd := exportDirectory(f)
	for _, exp := range exports {
		if exp.Name != symbol {
			continue
		}
		// an RVA inside the export directory is a forwarder string, not code
		if exp.VirtualAddress == 0 || (exp.VirtualAddress >= dirStart && exp.VirtualAddress < dirEnd) {
			return 0, Errorf(SymbolNotFound, "%s!%s is forwarded to another module", modulePath, symbol)
		}
		return ModuleOffset(exp.VirtualAddress), nil
	}
	return 0, Errorf(SymbolNotFound, "%s does not export %s", modulePath, symbol)
}

func exportDirectory(f *pe.File) (start, end uint32) {
	var dd pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes == 0 {
			return 0, 0
		}
		dd = oh.DataDirectory[imageDirectoryEntryExport]
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes == 0 {
			return 0, 0
		}
		dd = oh.DataDirectory[imageDirectoryEntryExport]
	}
	return dd.VirtualAddress, dd.VirtualAddress + dd.Size
}

const imageDirectoryEntryExport = 0

type resolveKey struct {
	path, symbol string
}

// CachingResolver remembers successful resolutions per (path, symbol).
// Failures are not cached.
type CachingResolver struct {
	Resolver Resolver

	mu      sync.Mutex
	offsets map[resolveKey]ModuleOffset
}

// NewCachingResolver wraps r.
func NewCachingResolver(r Resolver) *CachingResolver {
	return &CachingResolver{Resolver: r}
}

func (c *CachingResolver) Resolve(modulePath, symbol string) (ModuleOffset, error) {
	key := resolveKey{modulePath, symbol}
	c.mu.Lock()
	off, ok := c.offsets[key]
	c.mu.Unlock()
	if ok {
		return off, nil
	}
	off, err := c.Resolver.Resolve(modulePath, symbol)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	if c.offsets == nil {
		c.offsets = make(map[resolveKey]ModuleOffset)
	}
	c.offsets[key] = off
	c.mu.Unlock()
	return off, nil
}
