package bbp

import (
	"fmt"
	"os"
	"unsafe"
)

// Host word sizes this build was compiled for, used to validate a
// catalog's header line 2 against the running binary. The loader
// refuses to proceed on any mismatch rather than silently misinterpreting
// a foreign-width catalog.
var (
	ptrSizeOfHost = int(unsafe.Sizeof(uintptr(0)))
	oidSizeOfHost = int(unsafe.Sizeof(uint64(0)))
	intSizeOfHost = int(unsafe.Sizeof(int64(0)))
)

func osStderrWrite(p []byte) (int, error) {
	n, err := os.Stderr.Write(p)
	if err != nil {
		return n, fmt.Errorf("write stderr: %w", err)
	}
	return n, nil
}
