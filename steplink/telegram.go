// Package steplink drives stepper units that live on an external step-pulse
// controller, reached over a serial line or TCP.  Several controllers may share
// one line; each has a one byte bus address.
package steplink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/snksoft/crc"
)

const (
	// telStart is the start of telegram byte
	telStart = 0x0D

	// telEnd is the end of telegram byte
	telEnd = 0x0A

	// specialCharFirstReplacement is the first byte used to replace a special character
	specialCharFirstReplacement = 0x5E

	// specialCharShift is the amount to shift special characters up.
	// special characters max out at 0x5E, so we will never overflow
	specialCharShift = 0x40

	// HostAddr is the source address used by this host
	HostAddr = 0xA1

	// headerLen is dest, src, type, register
	headerLen = 4
)

// MessageType is the kind of a telegram
type MessageType byte

// Message types.  The host sends Read and Write; a controller answers with
// Datagram (read data), Ack, Nack, Busy or CRCError.
const (
	// Nack refuses a request, e.g. an unknown register or a bad value
	Nack MessageType = 0

	// CRCError reports a telegram that arrived corrupted
	CRCError MessageType = 1

	// Busy refuses a request that needs the channel stopped
	Busy MessageType = 2

	// Ack confirms a write
	Ack MessageType = 3

	// Read requests the value of a register
	Read MessageType = 4

	// Write sets the value of a register
	Write MessageType = 5

	// Datagram carries the value of a register in answer to a Read
	Datagram MessageType = 8
)

func (m MessageType) String() string {
	switch m {
	case Nack:
		return "Nack"
	case CRCError:
		return "CRC Error"
	case Busy:
		return "Busy"
	case Ack:
		return "Ack"
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Datagram:
		return "Datagram"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(m))
	}
}

// Registers of a step-pulse controller channel
const (
	// RegMove takes a signed step count and starts a move
	RegMove byte = 0x10

	// RegNext performs one scheduled action and reads back the microseconds to the next one
	RegNext byte = 0x11

	// RegBrake starts an early deceleration
	RegBrake byte = 0x12

	// RegState reads the stepper.State of the channel
	RegState byte = 0x13

	// RegMicrostep sets the microstep mode
	RegMicrostep byte = 0x14

	// RegEnable energizes (1) or de-energizes (0) the driver
	RegEnable byte = 0x15
)

var (
	// dataOrder is the byte order of register values
	dataOrder = binary.LittleEndian

	// specialChars is a byte slice of values that must be filtered out of messages
	specialChars = []byte{telEnd, telStart, specialCharFirstReplacement}

	crcTable = crc.NewTable(crc.XMODEM)

	// ErrNoStart is generated when a telegram has no start byte
	ErrNoStart = errors.New("telegram start byte not found")

	// ErrNoEnd is generated when a telegram has no end byte
	ErrNoEnd = errors.New("telegram end byte not found")

	// ErrCRC is generated when the CRC of a received telegram does not match its contents
	ErrCRC = errors.New("CRC mismatch, data lost in transmission, controller state unknown")

	// ErrShort is generated when a telegram is too short to hold a header and CRC
	ErrShort = errors.New("telegram too short")
)

// MessagePrimitive is a struct holding the raw bytes for a message before packing, CRC, and other processing
type MessagePrimitive struct {
	Dest, Src, Register byte
	Type                MessageType
	Data                []byte
}

func crcHelper(buf []byte) []byte {
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf)
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crcTable.CRC16(crcUint))
	return crcBytes
}

func sanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if bytes.IndexByte(specialChars, b) >= 0 {
			out = append(out, specialCharFirstReplacement, b+specialCharShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func reverseSanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	subNext := false
	for _, b := range data {
		if b == specialCharFirstReplacement {
			subNext = true
			continue
		}
		if subNext {
			b = b - specialCharShift
		}
		out = append(out, b)
		subNext = false
	}
	return out
}

// MakeTelegram produces a telegram from the constituent pieces.
// telegrams are [SOT][DEST][SOURCE][TYPE][REGISTER][data...][CRC][EOT]
// the CRC is CRC-CCITT XMODEM over everything between SOT and CRC, and
// every special byte after SOT and before EOT is escaped
func MakeTelegram(mp MessagePrimitive) []byte {
	buf := append([]byte{mp.Dest, mp.Src, byte(mp.Type), mp.Register}, mp.Data...)
	buf = append(buf, crcHelper(buf)...)
	out := append([]byte{telStart}, sanitize(buf)...)
	return append(out, telEnd)
}

// DecodeTelegram renders a raw byte stream into a MessagePrimitive
func DecodeTelegram(tele []byte) (MessagePrimitive, error) {
	iStart := bytes.IndexByte(tele, telStart)
	if iStart < 0 {
		return MessagePrimitive{}, ErrNoStart
	}
	iEnd := bytes.IndexByte(tele[iStart:], telEnd)
	if iEnd < 0 {
		return MessagePrimitive{}, ErrNoEnd
	}
	tele = reverseSanitize(tele[iStart+1 : iStart+iEnd])
	if len(tele) < headerLen+2 {
		return MessagePrimitive{}, ErrShort
	}

	fidx := len(tele) - 2
	if !bytes.Equal(tele[fidx:], crcHelper(tele[:fidx])) {
		return MessagePrimitive{}, ErrCRC
	}
	tele = tele[:fidx]
	mp := MessagePrimitive{
		Dest:     tele[0],
		Src:      tele[1],
		Type:     MessageType(tele[2]),
		Register: tele[3],
	}
	if len(tele) > headerLen {
		mp.Data = append([]byte{}, tele[headerLen:]...)
	}
	return mp, nil
}

// EncodeInt32 packs a register value
func EncodeInt32(v int32) []byte {
	b := make([]byte, 4)
	dataOrder.PutUint32(b, uint32(v))
	return b
}

// DecodeInt32 unpacks a register value
func DecodeInt32(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("expected 4 data bytes, got %d", len(b))
	}
	return int32(dataOrder.Uint32(b)), nil
}
