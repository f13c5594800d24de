// pn547ctl issues control requests to a running pn547d.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	hal "github.com/librescoot/pn547"
	"github.com/librescoot/pn547/ctl"
)

var (
	socketFlag = &cli.StringFlag{
		Name:    "socket",
		Aliases: []string{"s"},
		Value:   "/run/pn547.sock",
		Usage:   "control socket path",
		EnvVars: []string{"PN547_SOCKET"},
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Value: 5 * time.Second,
		Usage: "per request timeout",
	}
)

var (
	powerArgs = map[string]uint64{
		"off":      uint64(hal.PowerOff),
		"on":       uint64(hal.PowerOn),
		"download": uint64(hal.PowerOnDownload),
		"cancel":   uint64(hal.PowerCancelRead),
	}
	spiArgs = map[string]uint64{
		"off":        uint64(hal.SPIOff),
		"on":         uint64(hal.SPIOn),
		"reset":      uint64(hal.SPIReset),
		"prio-start": uint64(hal.SPIPriorityStart),
		"prio-end":   uint64(hal.SPIPriorityEnd),
		"release":    uint64(hal.SPIRelease),
	}
	wiredArgs = map[string]uint64{
		"off":     uint64(hal.WiredOff),
		"on":      uint64(hal.WiredOn),
		"low":     uint64(hal.WiredPowerReqLow),
		"high":    uint64(hal.WiredPowerReqHigh),
		"release": uint64(hal.WiredRelease),
	}
	jcopArgs = map[string]uint64{
		"init":         uint64(hal.DownloadInit),
		"start":        uint64(hal.DownloadStart),
		"spi-complete": uint64(hal.DownloadSPIComplete),
		"dwp-complete": uint64(hal.DownloadDWPComplete),
	}
)

func main() {
	app := &cli.App{
		Name:  "pn547ctl",
		Usage: "control a pn547d instance",
		Flags: []cli.Flag{socketFlag, timeoutFlag},
		Commands: []*cli.Command{
			{Name: "status", Usage: "show access state and lines", Action: status},
			argCommand("power", "set NFC power", hal.CmdSetPower, powerArgs),
			argCommand("spi", "set SPI power", hal.CmdSetSPIPower, spiArgs),
			argCommand("wired", "set wired access", hal.CmdSetWiredAccess, wiredArgs),
			argCommand("jcop", "set JCOP download status", hal.CmdSetDownloadStatus, jcopArgs),
			{Name: "acquire", Usage: "take the eSE transaction token", ArgsUsage: "<timeout ms>", Action: acquire},
			{Name: "release-svdd", Usage: "complete a pending SVDD handshake", Action: simple(hal.CmdReleaseSVDDWait)},
			{Name: "release-dwp", Usage: "complete a pending DWP handshake", Action: simple(hal.CmdReleaseDWPWait)},
			{Name: "selftest", Usage: "run the CORE_RESET round trip", Action: selftest},
			{Name: "send", Usage: "write a frame and print the reply", ArgsUsage: "<hex>", Action: send},
			{Name: "listen", Usage: "register as NFC service and print events", Action: listen},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial(c *cli.Context) (*ctl.Client, context.Context, context.CancelFunc, error) {
	cl, err := ctl.Dial(c.String(socketFlag.Name))
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(c.Context, c.Duration(timeoutFlag.Name))
	return cl, ctx, cancel, nil
}

func keys(m map[string]uint64) string {
	var ks []string
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return strings.Join(ks, "|")
}

func argCommand(name, usage string, cmd hal.Command, args map[string]uint64) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<" + keys(args) + ">",
		Action: func(c *cli.Context) error {
			arg, ok := args[c.Args().First()]
			if !ok {
				return fmt.Errorf("%s: expected one of %s", name, keys(args))
			}
			cl, ctx, cancel, err := dial(c)
			if err != nil {
				return err
			}
			defer cl.Close()
			defer cancel()
			if _, err := cl.Control(ctx, cmd, arg); err != nil {
				return err
			}
			st, err := cl.PowerStatus(ctx)
			if err != nil {
				return err
			}
			fmt.Println(st)
			return nil
		},
	}
}

func simple(cmd hal.Command) cli.ActionFunc {
	return func(c *cli.Context) error {
		cl, ctx, cancel, err := dial(c)
		if err != nil {
			return err
		}
		defer cl.Close()
		defer cancel()
		_, err = cl.Control(ctx, cmd, 0)
		return err
	}
}

func status(c *cli.Context) error {
	cl, ctx, cancel, err := dial(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	defer cancel()
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	state, err := hal.StateFromBits(st.State)
	if err != nil {
		return err
	}
	fmt.Printf("state:      %s (0x%04x)\n", state, st.State)
	fmt.Printf("client pid: %d\n", st.ClientPID)
	fmt.Printf("lines:      ven=%t firm=%t ese_pwr_req=%t (nfc=%t spi=%t)\n",
		st.Ven, st.Firm, st.EsePower, st.NFCVen, st.SPIVen)
	fmt.Printf("irq:        enabled=%t edges=%d spurious=%d\n", st.IRQOn, st.IRQEdges, st.Spurious)
	fmt.Printf("token held: %t\n", st.TokenHeld)
	return nil
}

func acquire(c *cli.Context) error {
	ms, err := strconv.ParseUint(c.Args().First(), 10, 32)
	if err != nil {
		return fmt.Errorf("acquire: bad timeout: %w", err)
	}
	cl, ctx, cancel, err := dial(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	defer cancel()
	_, err = cl.Control(ctx, hal.CmdGetESEAccess, ms)
	return err
}

func selftest(c *cli.Context) error {
	cl, ctx, cancel, err := dial(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	defer cancel()
	raw, err := cl.SelfTest(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("% X\n", raw)
	return nil
}

func send(c *cli.Context) error {
	frame, err := hex.DecodeString(strings.ReplaceAll(c.Args().First(), " ", ""))
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	cl, ctx, cancel, err := dial(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	defer cancel()
	if err := cl.Open(ctx); err != nil {
		return err
	}
	defer cl.CloseSession(context.Background())
	if _, err := cl.Write(ctx, frame); err != nil {
		return err
	}
	reply, err := cl.Read(ctx, hal.MaxTransfer, true)
	if err != nil {
		return err
	}
	fmt.Printf("% X\n", reply)
	return nil
}

// listen answers handshakes the way the NFC service would, so SPI power
// changes complete without waiting for the timeout.
func listen(c *cli.Context) error {
	cl, err := ctl.Dial(c.String(socketFlag.Name))
	if err != nil {
		return err
	}
	defer cl.Close()
	if err := cl.Register(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "registered pid %d\n", os.Getpid())
	for {
		select {
		case <-c.Context.Done():
			return nil
		case evt, ok := <-cl.Events():
			if !ok {
				return nil
			}
			fmt.Println(evt)
			var release hal.Command
			switch {
			case evt&(hal.EventSvddSyncStart|hal.EventSvddSyncEnd|hal.EventDwpSvddSyncStart|hal.EventDwpSvddSyncEnd) != 0:
				release = hal.CmdReleaseSVDDWait
			case evt == hal.EventSPI, evt == hal.EventSPIPriority:
				release = hal.CmdReleaseDWPWait
			default:
				continue
			}
			if _, err := cl.Control(c.Context, release, 0); err != nil {
				return err
			}
		}
	}
}
