// Package bus provides hal.Bus implementations for the controller's host
// interface: the raw i2c-dev character device, a periph.io i2c bus and the
// high speed UART.
package bus

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// From linux/i2c-dev.h
	i2cSlave = 0x0703

	ioRetries   = 3
	ioRetryWait = time.Millisecond
)

// I2CDev talks to the controller through /dev/i2c-N.
type I2CDev struct {
	fd   int
	path string
	addr uint16
}

// OpenI2CDev opens the adapter at path and binds it to the slave address.
func OpenI2CDev(path string, addr uint16) (*I2CDev, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(fd),
		uintptr(i2cSlave),
		uintptr(addr),
	)
	if errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("set i2c slave 0x%02x on %s: %w", addr, path, errno)
	}
	return &I2CDev{fd: fd, path: path, addr: addr}, nil
}

// Send writes one frame. NACKs and interrupted syscalls are retried a few
// times, a short write is returned as is for the caller to retry.
func (d *I2CDev) Send(p []byte) (int, error) {
	var err error
	for i := 0; i < ioRetries; i++ {
		var n int
		n, err = unix.Write(d.fd, p)
		if err == nil {
			return n, nil
		}
		if err != unix.EINTR && err != unix.ENXIO && err != unix.EAGAIN {
			break
		}
		time.Sleep(ioRetryWait)
	}
	return 0, fmt.Errorf("i2c write 0x%02x: %w", d.addr, err)
}

// Recv reads up to len(p) bytes in a single i2c read transaction.
func (d *I2CDev) Recv(p []byte) (int, error) {
	var err error
	for i := 0; i < ioRetries; i++ {
		var n int
		n, err = unix.Read(d.fd, p)
		if err == nil {
			return n, nil
		}
		if err != unix.EINTR && err != unix.ENXIO {
			break
		}
		time.Sleep(ioRetryWait)
	}
	return 0, fmt.Errorf("i2c read 0x%02x: %w", d.addr, err)
}

func (d *I2CDev) String() string {
	return fmt.Sprintf("%s@0x%02x", d.path, d.addr)
}

func (d *I2CDev) Close() error {
	return unix.Close(d.fd)
}
