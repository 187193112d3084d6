//go:build unix

// Package platform opens files inside a directory root without following
// symbolic links.
package platform

import (
	"errors"
	"os"
	"syscall"
)

// ErrSymlink is returned when the opened name is a symbolic link.
var ErrSymlink = errors.New("symbolic links not supported")

// OpenNoFollow opens name within root for reading. It returns ErrSymlink
// if the final path element is a symbolic link.
func OpenNoFollow(root *os.Root, name string) (*os.File, error) {
	f, err := root.OpenFile(name, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrSymlink
		}
		return nil, err
	}
	return f, nil
}
