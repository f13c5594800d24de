package hal

import (
	"errors"
	"fmt"
)

// Only the CORE_RESET exchange of the self test is spoken here; all other
// traffic passes through the transport as opaque bytes.

const (
	nciHeaderLen = 3

	mtCommand  uint8 = 1
	mtResponse uint8 = 2

	nciGroupCore uint8 = 0x00
	nciCoreReset uint8 = 0x00

	nciResetKeepConfig  uint8 = 0x00
	nciResetResetConfig uint8 = 0x01

	nciStatusOK uint8 = 0x00

	// header, status, NCI version, config status
	nciCoreResetRspLen = 6
)

var errShortFrame = errors.New("short NCI frame")

// controlFrame is an NCI control packet: MT(3) PBF(1) GID(4) | OID(6) | L
type controlFrame struct {
	mt      uint8
	gid     uint8
	oid     uint8
	payload []byte
}

func (f controlFrame) bytes() []byte {
	b := make([]byte, nciHeaderLen, nciHeaderLen+len(f.payload))
	b[0] = (f.mt&0x07)<<5 | f.gid&0x0F
	b[1] = f.oid & 0x3F
	b[2] = uint8(len(f.payload))
	return append(b, f.payload...)
}

func decodeControlFrame(b []byte) (controlFrame, error) {
	if len(b) < nciHeaderLen {
		return controlFrame{}, errShortFrame
	}
	n := int(b[2])
	if len(b) < nciHeaderLen+n {
		return controlFrame{}, fmt.Errorf("%w: want %d payload bytes, have %d", errShortFrame, n, len(b)-nciHeaderLen)
	}
	return controlFrame{
		mt:      b[0] >> 5 & 0x07,
		gid:     b[0] & 0x0F,
		oid:     b[1] & 0x3F,
		payload: append([]byte(nil), b[nciHeaderLen:nciHeaderLen+n]...),
	}, nil
}

func buildCoreReset(resetType uint8) []byte {
	return controlFrame{mt: mtCommand, gid: nciGroupCore, oid: nciCoreReset, payload: []byte{resetType}}.bytes()
}

type nciResponse struct {
	GID     uint8
	OID     uint8
	Status  uint8
	Payload []byte
}

func parseNCIResponse(data []byte) (*nciResponse, error) {
	f, err := decodeControlFrame(data)
	if err != nil {
		return nil, err
	}
	if f.mt != mtResponse {
		return nil, fmt.Errorf("not an NCI response: message type %d", f.mt)
	}
	if len(f.payload) == 0 {
		return nil, errors.New("NCI response without status")
	}
	return &nciResponse{GID: f.gid, OID: f.oid, Status: f.payload[0], Payload: f.payload[1:]}, nil
}

func isSuccessResponse(resp *nciResponse) bool {
	return resp.Status == nciStatusOK
}
