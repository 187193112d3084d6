//go:build !unix

// Package platform opens files inside a directory root without following
// symbolic links.
package platform

import (
	"errors"
	"io/fs"
	"os"
)

// ErrSymlink is returned when the opened name is a symbolic link.
var ErrSymlink = errors.New("symbolic links not supported")

// OpenNoFollow opens name within root for reading. It returns ErrSymlink
// if name is a symbolic link. The check and the open are not atomic.
func OpenNoFollow(root *os.Root, name string) (*os.File, error) {
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, ErrSymlink
	}
	return root.Open(name)
}
