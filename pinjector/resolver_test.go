package pinjector

import (
	"bytes"
	stdpe "debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sectionRVA    = 0x1000
	sectionOffset = 0x200
	sectionSize   = 0x400
)

// buildDLL writes a minimal PE32+ DLL whose export table maps each name in
// exports to its RVA, plus forwarded entries pointing at "OTHER.name".
func buildDLL(t *testing.T, exports map[string]uint32, forwards []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.dll")
	writeDLL(t, path, exports, forwards)
	return path
}

func writeDLL(t *testing.T, path string, exports map[string]uint32, forwards []string) {
	t.Helper()

	names := make([]string, 0, len(exports)+len(forwards))
	for name := range exports {
		names = append(names, name)
	}
	names = append(names, forwards...)
	sort.Strings(names)
	isForward := make(map[string]bool)
	for _, name := range forwards {
		isForward[name] = true
	}

	n := uint32(len(names))
	funcsRVA := uint32(sectionRVA + 40)
	namesRVA := funcsRVA + 4*n
	ordsRVA := namesRVA + 4*n
	strRVA := ordsRVA + 2*n

	var strs bytes.Buffer
	addStr := func(s string) uint32 {
		rva := strRVA + uint32(strs.Len())
		strs.WriteString(s)
		strs.WriteByte(0)
		return rva
	}
	dllName := addStr(filepath.Base(path))
	nameRVAs := make([]uint32, n)
	for i, name := range names {
		nameRVAs[i] = addStr(name)
	}
	funcRVAs := make([]uint32, n)
	for i, name := range names {
		if isForward[name] {
			funcRVAs[i] = addStr("OTHER." + name)
		} else {
			funcRVAs[i] = exports[name]
		}
	}
	dirSize := strRVA + uint32(strs.Len()) - sectionRVA

	var edata bytes.Buffer
	w := func(v interface{}) { require.NoError(t, binary.Write(&edata, binary.LittleEndian, v)) }
	w([4]uint32{0, 0, 0, dllName}) // characteristics, timestamp, version, name
	w([6]uint32{1, n, n, funcsRVA, namesRVA, ordsRVA})
	w(funcRVAs)
	w(nameRVAs)
	for i := range names {
		w(uint16(i))
	}
	edata.Write(strs.Bytes())
	require.LessOrEqual(t, edata.Len(), sectionSize)

	var img bytes.Buffer
	wi := func(v interface{}) { require.NoError(t, binary.Write(&img, binary.LittleEndian, v)) }
	dos := make([]byte, 0x40)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3c:], 0x40)
	img.Write(dos)
	img.WriteString("PE\x00\x00")
	wi(stdpe.FileHeader{
		Machine:              stdpe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(stdpe.OptionalHeader64{})),
		Characteristics:      stdpe.IMAGE_FILE_EXECUTABLE_IMAGE | stdpe.IMAGE_FILE_LARGE_ADDRESS_AWARE | stdpe.IMAGE_FILE_DLL,
	})
	oh := stdpe.OptionalHeader64{
		Magic:               0x20b,
		ImageBase:           0x180000000,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		SizeOfImage:         0x4000,
		SizeOfHeaders:       sectionOffset,
		NumberOfRvaAndSizes: 16,
	}
	oh.DataDirectory[stdpe.IMAGE_DIRECTORY_ENTRY_EXPORT] = stdpe.DataDirectory{VirtualAddress: sectionRVA, Size: dirSize}
	wi(oh)
	sh := stdpe.SectionHeader32{
		VirtualSize:      sectionSize,
		VirtualAddress:   sectionRVA,
		SizeOfRawData:    sectionSize,
		PointerToRawData: sectionOffset,
		Characteristics:  0x40000040, // initialized data, readable
	}
	copy(sh.Name[:], ".edata")
	wi(sh)
	img.Write(make([]byte, sectionOffset-img.Len()))
	img.Write(edata.Bytes())
	img.Write(make([]byte, sectionOffset+sectionSize-img.Len()))

	require.NoError(t, os.WriteFile(path, img.Bytes(), 0o644))
}

func TestFileResolver(t *testing.T) {
	path := buildDLL(t, map[string]uint32{"Entry": 0x2010, "Other": 0x2400}, nil)

	off, err := FileResolver{}.Resolve(path, "Entry")
	require.NoError(t, err)
	assert.Equal(t, ModuleOffset(0x2010), off)

	off, err = FileResolver{}.Resolve(path, "Other")
	require.NoError(t, err)
	assert.Equal(t, ModuleOffset(0x2400), off)
}

func TestFileResolverIdempotent(t *testing.T) {
	path := buildDLL(t, map[string]uint32{"Entry": 0x2010}, nil)

	a, err := FileResolver{}.Resolve(path, "Entry")
	require.NoError(t, err)
	b, err := FileResolver{}.Resolve(path, "Entry")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestModuleOffsetAt(t *testing.T) {
	path := buildDLL(t, map[string]uint32{"Entry": 0x2010}, nil)
	off, err := FileResolver{}.Resolve(path, "Entry")
	require.NoError(t, err)

	// preferred base and a relocated base
	for _, base := range []uintptr{0x180000000, 0x7ff7a0b40000} {
		assert.Equal(t, base+0x2010, off.At(base))
	}
}

func TestFileResolverDir(t *testing.T) {
	dir := t.TempDir()
	writeDLL(t, filepath.Join(dir, "kernel32.dll"), map[string]uint32{"LoadLibraryW": 0x1f0a0}, nil)
	r := FileResolver{Dir: dir}

	off, err := r.Resolve("kernel32.dll", "LoadLibraryW")
	require.NoError(t, err)
	assert.Equal(t, ModuleOffset(0x1f0a0), off)

	// a path is not looked up in Dir
	_, err = r.Resolve(filepath.Join(t.TempDir(), "kernel32.dll"), "LoadLibraryW")
	assert.Equal(t, SymbolNotFound, KindOf(err))

	// without Dir a bare name is relative to the working directory
	_, err = FileResolver{}.Resolve("kernel32.dll", "LoadLibraryW")
	assert.Equal(t, SymbolNotFound, KindOf(err))
}

func TestFileResolverFailures(t *testing.T) {
	path := buildDLL(t, map[string]uint32{"Entry": 0x2010}, []string{"Forwarded"})

	_, err := FileResolver{}.Resolve(path, "Missing")
	assert.Equal(t, SymbolNotFound, KindOf(err))

	_, err = FileResolver{}.Resolve(path, "Forwarded")
	assert.Equal(t, SymbolNotFound, KindOf(err))

	_, err = FileResolver{}.Resolve(filepath.Join(t.TempDir(), "nope.dll"), "Entry")
	assert.Equal(t, SymbolNotFound, KindOf(err))

	garbage := filepath.Join(t.TempDir(), "garbage.dll")
	require.NoError(t, os.WriteFile(garbage, []byte("not a module"), 0o644))
	_, err = FileResolver{}.Resolve(garbage, "Entry")
	assert.Equal(t, SymbolNotFound, KindOf(err))

	_, err = FileResolver{}.Resolve("", "Entry")
	assert.Equal(t, InvalidArgument, KindOf(err))
	_, err = FileResolver{}.Resolve(path, "")
	assert.Equal(t, InvalidArgument, KindOf(err))
}

func TestCachingResolver(t *testing.T) {
	var calls int
	c := NewCachingResolver(ResolverFunc(func(path, symbol string) (ModuleOffset, error) {
		calls++
		if symbol == "Missing" {
			return 0, Errorf(SymbolNotFound, "no %s", symbol)
		}
		return 0x2010, nil
	}))

	for i := 0; i < 3; i++ {
		off, err := c.Resolve("payload.dll", "Entry")
		require.NoError(t, err)
		assert.Equal(t, ModuleOffset(0x2010), off)
	}
	assert.Equal(t, 1, calls)

	_, err := c.Resolve("payload.dll", "Missing")
	assert.Error(t, err)
	_, err = c.Resolve("payload.dll", "Missing")
	assert.Error(t, err)
	assert.Equal(t, 3, calls, "failures are not cached")
}
