//go:build !linux

package volume

import "golang.org/x/sys/unix"

const directFlag = 0

func fdatasync(fd int) error { return unix.Fsync(fd) }
