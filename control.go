package hal

import (
	"fmt"
	"math"
	"time"
	"unsafe"
)

// From asm-generic/ioctl.h
const (
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uint32) uint32 {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

const (
	pn547Magic = 0xE9
	longSize   = uint32(unsafe.Sizeof(uintptr(0)))
)

// Command is a pn547 control request number.
type Command uint32

// Control requests, numbered like the pn547 character device ioctls.
var (
	CmdSetPower          = Command(ioc(iocWrite, pn547Magic, 0x01, longSize))
	CmdSetSPIPower       = Command(ioc(iocWrite, pn547Magic, 0x02, longSize))
	CmdGetPowerStatus    = Command(ioc(iocRead, pn547Magic, 0x03, longSize))
	CmdSetWiredAccess    = Command(ioc(iocWrite, pn547Magic, 0x04, longSize))
	CmdSetServicePID     = Command(ioc(iocWrite, pn547Magic, 0x05, longSize))
	CmdGetESEAccess      = Command(ioc(iocWrite, pn547Magic, 0x06, longSize))
	CmdReleaseSVDDWait   = Command(ioc(iocWrite, pn547Magic, 0x07, longSize))
	CmdSetDownloadStatus = Command(ioc(iocWrite, pn547Magic, 0x09, longSize))
	CmdReleaseDWPWait    = Command(ioc(iocWrite, pn547Magic, 0x0A, longSize))
)

func (c Command) String() string {
	switch c {
	case CmdSetPower:
		return "PN547_SET_PWR"
	case CmdSetSPIPower:
		return "P61_SET_SPI_PWR"
	case CmdGetPowerStatus:
		return "P61_GET_PWR_STATUS"
	case CmdSetWiredAccess:
		return "P61_SET_WIRED_ACCESS"
	case CmdSetServicePID:
		return "P547_SET_NFC_SERVICE_PID"
	case CmdGetESEAccess:
		return "P547_GET_ESE_ACCESS"
	case CmdReleaseSVDDWait:
		return "P547_REL_SVDD_WAIT"
	case CmdSetDownloadStatus:
		return "PN547_SET_DWNLD_STATUS"
	case CmdReleaseDWPWait:
		return "P547_REL_DWPONOFF_WAIT"
	default:
		return fmt.Sprintf("Command(0x%08x)", uint32(c))
	}
}

// maxESEWaitMs is the longest GET_ESE_ACCESS wait that fits a Duration.
const maxESEWaitMs = uint64(math.MaxInt64 / time.Millisecond)

// Control dispatches one request. The returned value is only meaningful for
// CmdGetPowerStatus. The four client callbacks are served without the
// arbitrator mutex.
func (d *Device) Control(cmd Command, arg uint64) (int64, error) {
	switch cmd {
	case CmdGetESEAccess:
		return 0, d.AcquireESE(time.Duration(min(arg, maxESEWaitMs)) * time.Millisecond)
	case CmdReleaseSVDDWait:
		d.ReleaseSVDDWait()
		return 0, nil
	case CmdSetServicePID:
		d.RegisterClient(int(arg))
		return 0, nil
	case CmdReleaseDWPWait:
		d.ReleaseDWPWait()
		return 0, nil
	}

	if cmd == CmdGetPowerStatus {
		return int64(d.PowerStatus().Bits()), nil
	}
	if arg > math.MaxUint32 {
		return 0, NewBadRequestError(fmt.Sprintf("%s: argument %d out of range", cmd, arg))
	}
	switch cmd {
	case CmdSetPower:
		return 0, d.SetPower(PowerArg(arg))
	case CmdSetSPIPower:
		return 0, d.SetSPIPower(SPIPowerArg(arg))
	case CmdSetWiredAccess:
		return 0, d.SetWiredAccess(WiredArg(arg))
	case CmdSetDownloadStatus:
		return 0, d.SetDownloadStatus(DownloadArg(arg))
	}
	d.log.logf(LogLevelError, "bad control request %s arg %d", cmd, arg)
	return 0, NewBadRequestError(fmt.Sprintf("unknown control request 0x%08x", uint32(cmd)))
}
