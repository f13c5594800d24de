package hal

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionExclusive(t *testing.T) {
	r := newRig(t)

	s1, err := r.dev.Open()
	require.NoError(t, err)
	_, err = r.dev.Open()
	assert.True(t, IsBusyError(err))

	require.NoError(t, s1.Close())
	require.NoError(t, s1.Close())
	s2, err := r.dev.Open()
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestSessionCloseReleasesWiredToken(t *testing.T) {
	r := newRig(t)
	s, err := r.dev.Open()
	require.NoError(t, err)

	_, err = s.Control(CmdGetESEAccess, 10)
	require.NoError(t, err)
	require.True(t, r.dev.TokenHeld())

	require.NoError(t, s.Close())
	assert.False(t, r.dev.TokenHeld())
}

func TestSessionCloseKeepsTokenDuringSPI(t *testing.T) {
	r := newRig(t)
	s, err := r.dev.Open()
	require.NoError(t, err)

	require.NoError(t, r.dev.AcquireESE(0))
	_, err = s.Control(CmdSetSPIPower, uint64(SPIOn))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, r.dev.TokenHeld())
}

func TestSessionReadWrite(t *testing.T) {
	r := newRig(t)
	s, err := r.dev.Open()
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Write([]byte{0x20, 0x00, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	r.irq.set(true)
	r.bus.queue(coreResetRsp)
	data, err := s.Read(context.Background(), 64, false)
	require.NoError(t, err)
	assert.Equal(t, coreResetRsp, data)
}

func TestDeviceClose(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.dev.SetPower(PowerOn))
	require.NoError(t, r.dev.SetSPIPower(SPIOn))
	require.NoError(t, r.dev.AcquireESE(0))

	require.NoError(t, r.dev.Close())
	assert.True(t, r.dev.PowerStatus().IsIdle())
	assert.False(t, r.ven.get())
	assert.False(t, r.ese.get())
	assert.False(t, r.dev.IRQ().Enabled())
	assert.False(t, r.dev.TokenHeld())

	_, err := r.dev.Open()
	assert.True(t, IsIOFaultError(err))
	require.NoError(t, r.dev.Close())
}

func TestCommandNumbers(t *testing.T) {
	if longSize != 8 {
		t.Skip("ioctl sizes below assume a 64-bit long")
	}
	tests := []struct {
		cmd  Command
		want uint32
	}{
		{CmdSetPower, 0x4008E901},
		{CmdSetSPIPower, 0x4008E902},
		{CmdGetPowerStatus, 0x8008E903},
		{CmdSetWiredAccess, 0x4008E904},
		{CmdSetServicePID, 0x4008E905},
		{CmdGetESEAccess, 0x4008E906},
		{CmdReleaseSVDDWait, 0x4008E907},
		{CmdSetDownloadStatus, 0x4008E909},
		{CmdReleaseDWPWait, 0x4008E90A},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, uint32(tt.cmd))
		})
	}
}

func TestControlDispatch(t *testing.T) {
	r := newRig(t)

	v, err := r.dev.Control(CmdGetPowerStatus, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(StatusIdle), v)

	_, err = r.dev.Control(CmdSetWiredAccess, uint64(WiredOn))
	require.NoError(t, err)
	v, err = r.dev.Control(CmdGetPowerStatus, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(GrantWired), v)

	_, err = r.dev.Control(CmdSetServicePID, testPID)
	require.NoError(t, err)
	assert.Equal(t, testPID, r.dev.ClientPID())

	_, err = r.dev.Control(CmdSetDownloadStatus, uint64(DownloadStart))
	require.NoError(t, err)
	assert.True(t, r.dev.PowerStatus().Has(GrantJCOPDownload))
}

func TestControlRejectsBadRequests(t *testing.T) {
	r := newRig(t)

	_, err := r.dev.Control(Command(0xdeadbeef), 0)
	assert.True(t, IsBadRequestError(err))

	_, err = r.dev.Control(CmdSetPower, math.MaxUint32+1)
	assert.True(t, IsBadRequestError(err))

	_, err = r.dev.Control(CmdSetSPIPower, 42)
	assert.True(t, IsBadRequestError(err))
}

func TestControlESEAccessTimeout(t *testing.T) {
	r := newRig(t)
	_, err := r.dev.Control(CmdGetESEAccess, 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.dev.Control(CmdGetESEAccess, 50)
	elapsed := time.Since(start)
	assert.True(t, IsBusyError(err))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestControlESEAccessHugeTimeoutWaits(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.dev.AcquireESE(0))

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.dev.SetWiredAccess(WiredRelease)
	}()
	_, err := r.dev.Control(CmdGetESEAccess, math.MaxUint64)
	require.NoError(t, err)
	assert.True(t, r.dev.TokenHeld())
}

func TestSelfTestPowersTemporarily(t *testing.T) {
	r := newRig(t)
	r.bus.onSend = func(p []byte) {
		r.bus.queue(coreResetRsp)
		r.irq.raise()
	}

	res, err := r.dev.SelfTest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(0), res.Status)
	assert.Equal(t, uint8(0x10), res.NCIVersion)
	assert.Equal(t, coreResetRsp, res.Raw)

	require.Len(t, r.bus.sentFrames(), 1)
	assert.Equal(t, []byte{0x20, 0x00, 0x01, 0x00}, r.bus.sentFrames()[0])
	assert.Equal(t, []string{"ven=1", "ven=0"}, r.lines.take())
	assert.False(t, r.dev.IRQ().Enabled())
	assert.False(t, r.dev.LineState().NFCVen)
}

func TestSelfTestWhilePoweredPulsesVen(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.dev.SetPower(PowerOn))
	r.lines.take()
	r.bus.onSend = func(p []byte) {
		r.bus.queue(coreResetRsp)
		r.irq.raise()
	}

	_, err := r.dev.SelfTest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ven=0", "ven=1"}, r.lines.take())
	assert.True(t, r.dev.IRQ().Enabled())
	assert.True(t, r.ven.get())
}

func TestSelfTestNoResponse(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := r.dev.SelfTest(ctx)
	assert.True(t, IsTimeoutError(err))
	assert.False(t, r.ven.get())
	assert.False(t, r.dev.IRQ().Enabled())
}

func TestSelfTestErrorStatus(t *testing.T) {
	r := newRig(t)
	r.bus.onSend = func(p []byte) {
		r.bus.queue([]byte{0x40, 0x00, 0x03, 0x06, 0x10, 0x00})
		r.irq.raise()
	}

	res, err := r.dev.SelfTest(context.Background())
	assert.True(t, IsIOFaultError(err))
	require.NotNil(t, res)
	assert.Equal(t, uint8(0x06), res.Status)
}
