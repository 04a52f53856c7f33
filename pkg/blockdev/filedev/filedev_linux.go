//go:build linux

package filedev

import "golang.org/x/sys/unix"

// flush forces completed writes to stable storage. Fdatasync skips the
// metadata-only flush fsync would add, which matters at per-sector rates.
func (d *Device) flush() error {
	return unix.Fdatasync(d.fd)
}

// punchHole deallocates the byte range so subsequent reads return zeros
// without the file consuming space for it. Filesystems without
// FALLOC_FL_PUNCH_HOLE report EOPNOTSUPP.
func (d *Device) punchHole(off, length int64) error {
	return unix.Fallocate(d.fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length)
}
