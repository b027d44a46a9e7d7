// Payload is a test module for the end-to-end injection test.
// build with go build -buildmode=c-shared -o payload.dll
package main

import "C"

import (
	"os"
	"strconv"
	"sync/atomic"
)

const sentinel = 0x454e5452

var calls int32

// Entry records how many times it ran in the file named by PAYLOAD_MARKER.
//
//export Entry
func Entry(arg uintptr) uint32 {
	n := atomic.AddInt32(&calls, 1)
	if path := os.Getenv("PAYLOAD_MARKER"); path != "" {
		_ = os.WriteFile(path, []byte(strconv.Itoa(int(n))), 0o644)
	}
	return sentinel
}

func main() {}
