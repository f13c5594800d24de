// Package ctl exposes a pn547 device on a unix stream socket. Requests and
// responses are CBOR maps written back to back on the connection; responses
// with ID 0 are pushed events.
package ctl

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Op selects what a request does.
type Op uint8

const (
	OpOpen Op = iota + 1
	OpClose
	OpRead
	OpWrite
	OpControl
	OpStatus
	OpSelfTest
)

func (o Op) String() string {
	switch o {
	case OpOpen:
		return "open"
	case OpClose:
		return "close"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpControl:
		return "control"
	case OpStatus:
		return "status"
	case OpSelfTest:
		return "selftest"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Request is sent by clients. ID must be non zero and unique among the
// connection's outstanding requests.
type Request struct {
	ID          uint32 `cbor:"1,keyasint"`
	Op          Op     `cbor:"2,keyasint"`
	Cmd         uint32 `cbor:"3,keyasint,omitempty"`
	Arg         uint64 `cbor:"4,keyasint,omitempty"`
	Data        []byte `cbor:"5,keyasint,omitempty"`
	MaxLen      int    `cbor:"6,keyasint,omitempty"`
	NonBlocking bool   `cbor:"7,keyasint,omitempty"`
}

// Response answers the request with the same ID. Errno is zero on success.
type Response struct {
	ID     uint32  `cbor:"1,keyasint"`
	Errno  int32   `cbor:"2,keyasint,omitempty"`
	Error  string  `cbor:"3,keyasint,omitempty"`
	Value  int64   `cbor:"4,keyasint,omitempty"`
	Data   []byte  `cbor:"5,keyasint,omitempty"`
	Event  uint32  `cbor:"6,keyasint,omitempty"`
	Status *Status `cbor:"7,keyasint,omitempty"`
}

// Status is the daemon's view of the device.
type Status struct {
	State     uint32 `cbor:"1,keyasint"`
	ClientPID int    `cbor:"2,keyasint"`
	Ven       bool   `cbor:"3,keyasint"`
	Firm      bool   `cbor:"4,keyasint"`
	EsePower  bool   `cbor:"5,keyasint"`
	NFCVen    bool   `cbor:"6,keyasint"`
	SPIVen    bool   `cbor:"7,keyasint"`
	IRQOn     bool   `cbor:"8,keyasint"`
	IRQEdges  uint64 `cbor:"9,keyasint"`
	Spurious  uint64 `cbor:"10,keyasint"`
	TokenHeld bool   `cbor:"11,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	encMode, decMode = em, dm
}
