package hal

import (
	"context"
	"fmt"
	"time"
)

const (
	selfTestLockTries = 20
	selfTestLockPoll  = 20 * time.Microsecond
	selfTestTimeout   = time.Second
)

// SelfTestResult is the controller's answer to CORE_RESET.
type SelfTestResult struct {
	Raw        []byte
	Status     uint8
	NCIVersion uint8
}

func (r SelfTestResult) String() string {
	return fmt.Sprintf("size: %d, data: % X", len(r.Raw), r.Raw)
}

// SelfTest checks the controller with a CORE_RESET round trip. It powers
// the NFC path on for the duration of the test if it was off, preempts a
// blocked reader and restores ven and the interrupt state afterwards.
func (d *Device) SelfTest(ctx context.Context) (*SelfTestResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wasOn := d.seq.state.NFCVen
	if wasOn {
		if err := d.seq.wakePulse(); err != nil {
			return nil, err
		}
		d.transport.CancelRead()
	} else {
		d.seq.setNFCVen(true)
		d.sleep(nfcSettle)
		if err := d.seq.flush(); err != nil {
			return nil, err
		}
	}
	defer func() {
		if !wasOn {
			d.seq.setNFCVen(false)
			d.sleep(nfcSettle)
			if err := d.seq.flush(); err != nil {
				d.log.logf(LogLevelError, "selftest: restore ven: %v", err)
			}
		}
	}()

	locked := false
	for i := 0; i < selfTestLockTries; i++ {
		if d.transport.readMu.TryLock() {
			locked = true
			break
		}
		d.sleep(selfTestLockPoll)
	}
	if !locked {
		d.log.logf(LogLevelWarning, "selftest: device in use")
		return nil, NewBusyError("selftest: reader still active")
	}
	defer d.transport.readMu.Unlock()

	d.rs.reset()
	if d.irq.Enable() {
		defer d.irq.Disable()
	}

	if _, err := d.transport.Write(buildCoreReset(nciResetKeepConfig)); err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, selfTestTimeout)
	defer cancel()
	if err := d.rs.wait(wctx); err != nil {
		return nil, NewTimeoutError(fmt.Sprintf("selftest: no response: %v", err))
	}
	if d.rs.takeCancel() {
		return nil, NewCancelledError("selftest cancelled")
	}

	data, err := d.transport.recv(nciCoreResetRspLen)
	if err != nil {
		return nil, err
	}
	resp, err := parseNCIResponse(data)
	if err != nil {
		return nil, NewIOFaultError("selftest: bad response", err)
	}
	if resp.GID != nciGroupCore || resp.OID != nciCoreReset {
		return nil, NewIOFaultError(fmt.Sprintf("selftest: unexpected response %02x/%02x", resp.GID, resp.OID), nil)
	}

	res := &SelfTestResult{Raw: data, Status: resp.Status}
	if len(resp.Payload) > 0 {
		res.NCIVersion = resp.Payload[0]
	}
	d.log.logf(LogLevelInfo, "selftest: %s", res)
	if !isSuccessResponse(resp) {
		return res, NewIOFaultError(fmt.Sprintf("selftest: status 0x%02x", resp.Status), nil)
	}
	return res, nil
}
