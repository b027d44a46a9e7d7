package pinjector

import (
	"time"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// Process is a reference to a running target process with memory and
// thread-creation rights.
type Process interface {
	PID() uint32
	// Allocate reserves size bytes of read/write/execute memory in the target.
	Allocate(size uintptr) (Region, error)
	// Write copies data into region. It never writes past region.Size.
	Write(region Region, data []byte) error
	// SpawnThread starts a thread in the target at entry with arg as its
	// only parameter.
	SpawnThread(entry, arg uintptr) (Thread, error)
	// ModuleBase returns the base address of a module loaded in the target,
	// matched by file name or full path.
	ModuleBase(name string) (uintptr, error)
}

// Thread is a thread created inside a target process.
type Thread interface {
	Wait(timeout time.Duration) (WaitStatus, error)
	// ExitCode is only defined once Wait has reported WaitExited.
	ExitCode() (uint32, error)
	// Close releases the thread handle. Only the first call has effect.
	Close() error
}

// StringEncoder turns text into the terminated byte form remote code reads.
type StringEncoder func(text string) ([]byte, error)

// UTF16String encodes text as NUL-terminated UTF-16LE, the form taken by
// the wide-character loader entry points.
func UTF16String(text string) ([]byte, error) {
	for i := 0; i < len(text); i++ {
		if text[i] == 0 {
			return nil, Errorf(InvalidArgument, "string %q contains NUL", text)
		}
	}
	units := utf16.Encode([]rune(text))
	b := make([]byte, 0, (len(units)+1)*2)
	for _, u := range units {
		b = append(b, byte(u), byte(u>>8))
	}
	return append(b, 0, 0), nil
}

// ANSIString encodes text as a NUL-terminated byte string.
func ANSIString(text string) ([]byte, error) {
	for i := 0; i < len(text); i++ {
		if text[i] == 0 {
			return nil, Errorf(InvalidArgument, "string %q contains NUL", text)
		}
	}
	return append([]byte(text), 0), nil
}

// StringCopy is a string duplicated into a target. Warning is set when the
// region was allocated but the write into it failed.
type StringCopy struct {
	Region  Region
	Warning error
}

// DuplicateString allocates a region in p sized for the encoded text plus
// its terminator and writes it there. Only encoding and allocation
// failures are errors; a failed write is reported through Warning and the
// region is still returned.
func DuplicateString(p Process, text string, encode StringEncoder) (StringCopy, error) {
	if encode == nil {
		encode = UTF16String
	}
	data, err := encode(text)
	if err != nil {
		return StringCopy{}, err
	}
	region, err := p.Allocate(uintptr(len(data)))
	if err != nil {
		return StringCopy{}, err
	}
	if err := p.Write(region, data); err != nil {
		return StringCopy{Region: region, Warning: errors.Wrapf(err, "copy %q to %s", text, region)}, nil
	}
	return StringCopy{Region: region}, nil
}
