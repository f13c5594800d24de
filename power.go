package hal

import (
	"fmt"
	"time"
)

const (
	nfcSettle = 5 * time.Millisecond
	spiSettle = 10 * time.Millisecond
	railHold  = 60 * time.Millisecond
)

// LineState mirrors the physical output lines and who wants ven.
type LineState struct {
	Ven      bool
	Firm     bool
	EsePower bool
	NFCVen   bool
	SPIVen   bool
}

// sequencer drives ven, firm and ese_power_request. ven is high whenever
// either the NFC path or the SPI path wants it. Only used under the
// arbitrator mutex.
type sequencer struct {
	ven, firm, ese OutputLine
	sleep          func(time.Duration)
	log            logger

	state LineState
	err   error
}

func newSequencer(lines Lines, sleep func(time.Duration), log logger) *sequencer {
	return &sequencer{
		ven:   lines.Ven,
		firm:  lines.Firm,
		ese:   lines.EsePower,
		sleep: sleep,
		log:   log,
	}
}

// reset drives every output low, the state after attach.
func (s *sequencer) reset() error {
	s.write("ven", s.ven, false, &s.state.Ven)
	s.write("firm", s.firm, false, &s.state.Firm)
	s.write("ese_pwr_req", s.ese, false, &s.state.EsePower)
	s.state.NFCVen = false
	s.state.SPIVen = false
	return s.flush()
}

// write records the first failure. Later writes of the sequence still run.
func (s *sequencer) write(name string, line OutputLine, high bool, mirror *bool) {
	if line == nil {
		return
	}
	if err := line.SetValue(high); err != nil {
		if s.err == nil {
			s.err = NewIOFaultError(fmt.Sprintf("set %s=%v", name, high), err)
		}
		s.log.logf(LogLevelError, "set %s=%v: %v", name, high, err)
		return
	}
	*mirror = high
}

// flush returns and clears the first error since the last flush.
func (s *sequencer) flush() error {
	err := s.err
	s.err = nil
	return err
}

func (s *sequencer) setVen(high bool) {
	s.write("ven", s.ven, high, &s.state.Ven)
}

func (s *sequencer) setFirm(high bool) {
	s.write("firm", s.firm, high, &s.state.Firm)
}

func (s *sequencer) setEsePower(high bool) {
	s.write("ese_pwr_req", s.ese, high, &s.state.EsePower)
}

// setNFCVen changes the NFC path vote on ven.
func (s *sequencer) setNFCVen(on bool) {
	s.state.NFCVen = on
	if s.state.SPIVen {
		return
	}
	s.setVen(on)
}

// setSPIVen changes the SPI path vote on ven and settles if the line moved.
func (s *sequencer) setSPIVen(on bool) {
	s.state.SPIVen = on
	if s.state.NFCVen {
		return
	}
	s.setVen(on)
	s.sleep(spiSettle)
}

// nfcOn powers the controller in normal mode.
func (s *sequencer) nfcOn() error {
	s.setFirm(false)
	s.setNFCVen(true)
	s.sleep(nfcSettle)
	return s.flush()
}

func (s *sequencer) nfcOff() error {
	s.setFirm(false)
	s.setNFCVen(false)
	s.sleep(nfcSettle)
	return s.flush()
}

// downloadReset boots the controller into firmware download mode with a
// ven pulse while firm is held high.
func (s *sequencer) downloadReset() error {
	s.state.NFCVen = true
	s.setVen(true)
	s.setFirm(true)
	s.sleep(nfcSettle)
	s.setVen(false)
	s.sleep(nfcSettle)
	s.setVen(true)
	s.sleep(nfcSettle)
	return s.flush()
}

// wakePulse toggles ven to kick a running controller out of standby.
func (s *sequencer) wakePulse() error {
	s.setVen(false)
	s.sleep(nfcSettle)
	s.setVen(true)
	s.sleep(nfcSettle)
	return s.flush()
}

// esePowerOn raises the eSE rail.
func (s *sequencer) esePowerOn() error {
	s.setEsePower(true)
	s.sleep(spiSettle)
	return s.flush()
}

// drainRail lowers the eSE rail between the two halves of a handshake.
func (s *sequencer) drainRail(before, after func()) error {
	before()
	s.setEsePower(false)
	s.sleep(railHold)
	after()
	return s.flush()
}

func (s *sequencer) snapshot() LineState {
	return s.state
}
