package steplink

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.jpl.nasa.gov/bdube/multistep/stepper"
)

// Emulator speaks the controller side of the protocol on behalf of
// simulated units.  It is useful for exercising a Network without hardware.
type Emulator struct {
	Log zerolog.Logger

	mu    sync.Mutex
	units map[byte]*stepper.SimUnit
}

// NewEmulator returns an Emulator with no units attached
func NewEmulator() *Emulator {
	return &Emulator{Log: zerolog.Nop(), units: make(map[byte]*stepper.SimUnit)}
}

// Attach places u on the bus at addr
func (e *Emulator) Attach(addr byte, u *stepper.SimUnit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.units[addr] = u
}

// Serve answers telegrams on rw until it is closed.  Telegrams for
// addresses with no unit attached are ignored, as on a real bus.
func (e *Emulator) Serve(rw io.ReadWriter) error {
	rd := bufio.NewReader(rw)
	for {
		raw, err := rd.ReadBytes(telEnd)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		mp, err := DecodeTelegram(raw)
		var resp MessagePrimitive
		switch {
		case errors.Is(err, ErrCRC):
			resp = MessagePrimitive{Dest: HostAddr, Type: CRCError}
		case err != nil:
			e.Log.Warn().Err(err).Msg("dropped malformed telegram")
			continue
		default:
			var ok bool
			resp, ok = e.handle(mp)
			if !ok {
				continue
			}
		}
		if _, err := rw.Write(MakeTelegram(resp)); err != nil {
			return err
		}
	}
}

// ListenAndServe accepts TCP connections on addr and serves each one
func (e *Emulator) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return e.serveListener(ln)
}

func (e *Emulator) serveListener(ln net.Listener) error {
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			defer conn.Close()
			if err := e.Serve(conn); err != nil {
				e.Log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("emulator connection ended")
			}
		}()
	}
}

func (e *Emulator) handle(mp MessagePrimitive) (MessagePrimitive, bool) {
	e.mu.Lock()
	u, ok := e.units[mp.Dest]
	e.mu.Unlock()
	if !ok {
		return MessagePrimitive{}, false
	}
	resp := MessagePrimitive{Dest: mp.Src, Src: mp.Dest, Register: mp.Register, Type: Ack}
	nack := resp
	nack.Type = Nack

	switch mp.Type {
	case Read:
		var v int64
		switch mp.Register {
		case RegNext:
			v = u.NextAction()
		case RegState:
			v = int64(u.State())
		case RegMicrostep:
			v = int64(u.Microstep())
		case RegEnable:
			if u.Enabled() {
				v = 1
			}
		default:
			return nack, true
		}
		resp.Type = Datagram
		resp.Data = EncodeInt32(int32(v))
	case Write:
		v, err := DecodeInt32(mp.Data)
		if err != nil {
			return nack, true
		}
		switch mp.Register {
		case RegMove:
			u.StartMove(int64(v))
		case RegBrake:
			u.StartBrake()
		case RegMicrostep:
			err = u.SetMicrostep(int(v))
		case RegEnable:
			if v != 0 {
				err = u.Enable()
			} else {
				err = u.Disable()
			}
		default:
			return nack, true
		}
		switch {
		case errors.Is(err, stepper.ErrMoving):
			resp.Type = Busy
		case err != nil:
			return nack, true
		}
	default:
		return nack, true
	}
	return resp, true
}
