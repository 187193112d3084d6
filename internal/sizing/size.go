// Package sizing provides checked offset arithmetic and bounded reads.
package sizing

import (
	"io"
	"math"
)

// AddInt64 adds two non-negative int64 values, returning (sum, false) on
// overflow or when either operand is negative.
func AddInt64(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// ToInt converts a non-negative int64 to int, returning overflowErr if it
// doesn't fit.
func ToInt(size int64, overflowErr error) (int, error) {
	if size < 0 || uint64(size) > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ReadAllWithLimit reads all of r, returning overflowErr if more than
// maxSize bytes are available. The result is preallocated to hint bytes
// when hint is within the limit.
func ReadAllWithLimit(r io.Reader, hint, maxSize int64, overflowErr error) ([]byte, error) {
	if maxSize < 0 || maxSize > math.MaxInt-1 {
		return nil, overflowErr
	}
	var buf []byte
	if hint > 0 && hint <= maxSize {
		n, err := ToInt(hint, overflowErr)
		if err != nil {
			return nil, err
		}
		buf = make([]byte, 0, n)
	}
	lr := &io.LimitedReader{R: r, N: maxSize + 1}
	for {
		if len(buf) == cap(buf) {
			buf = append(buf, 0)[:len(buf)]
		}
		n, err := lr.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if int64(len(buf)) > maxSize {
		return nil, overflowErr
	}
	return buf, nil
}
