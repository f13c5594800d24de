package bus

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the rate of the controller's HSU interface
const DefaultBaud = 115200

// UART is the high speed UART host interface.
type UART struct {
	port *serial.Port
	name string
}

// OpenUART opens the serial device. A zero baud selects DefaultBaud.
func OpenUART(dev string, baud int, readTimeout time.Duration) (*UART, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	c := &serial.Config{Name: dev, Baud: baud, ReadTimeout: readTimeout}
	s, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open uart %s: %w", dev, err)
	}
	return &UART{port: s, name: dev}, nil
}

func (u *UART) Send(p []byte) (int, error) {
	return u.port.Write(p)
}

func (u *UART) Recv(p []byte) (int, error) {
	return u.port.Read(p)
}

func (u *UART) String() string {
	return u.name
}

func (u *UART) Close() error {
	return u.port.Close()
}
