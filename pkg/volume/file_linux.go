package volume

import "golang.org/x/sys/unix"

const directFlag = unix.O_DIRECT

func fdatasync(fd int) error { return unix.Fdatasync(fd) }
