package steplink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"

	"github.jpl.nasa.gov/bdube/multistep/comm"
	"github.jpl.nasa.gov/bdube/multistep/stepper"
)

// DefaultTimeout bounds one request/response exchange
const DefaultTimeout = 250 * time.Millisecond

var (
	// ErrNack is generated when a controller rejects a telegram
	ErrNack = errors.New("controller responded with NACK")

	// ErrRemoteCRC is generated when a controller reports our telegram arrived corrupted
	ErrRemoteCRC = errors.New("controller reported a CRC error")

	// ErrWrongSource is generated when a response comes from a different address than was asked
	ErrWrongSource = errors.New("response source does not match request destination")
)

// Network is one physical link shared by daisy chained controllers.
// Exchanges are serialized through a pool of size one.
type Network struct {
	// Log receives transport warnings
	Log zerolog.Logger

	// Timeout bounds each exchange on links that support deadlines
	Timeout time.Duration

	pool *comm.Pool
}

// NewNetwork returns a Network over addr.  conf may be nil for a TCP link.
func NewNetwork(addr string, conf *serial.Config) *Network {
	rd := comm.NewRemoteDevice(addr, conf)
	return NewNetworkFromPool(comm.NewPool(1, 10*time.Second, rd.Dial))
}

// NewNetworkFromPool returns a Network that draws connections from pool
func NewNetworkFromPool(pool *comm.Pool) *Network {
	return &Network{Log: zerolog.Nop(), Timeout: DefaultTimeout, pool: pool}
}

// Add returns a unit for the controller at addr.  r describes the motor
// geometry used for rotation conversion; the controller runs its own ramp.
func (n *Network) Add(addr byte, r stepper.Ramp) *RemoteUnit {
	return &RemoteUnit{Addr: addr, net: n, ramp: r}
}

// Exchange sends one telegram and waits for the matching response.
// Nack, Busy and CRC Error responses become errors; Busy wraps stepper.ErrMoving.
func (n *Network) Exchange(mp MessagePrimitive) (MessagePrimitive, error) {
	mp.Src = HostAddr
	conn, err := n.pool.Get()
	if err != nil {
		return MessagePrimitive{}, err
	}
	if d, ok := conn.(interface{ SetDeadline(time.Time) error }); ok && n.Timeout > 0 {
		d.SetDeadline(time.Now().Add(n.Timeout))
	}
	resp, err := roundTrip(conn, MakeTelegram(mp))
	if err != nil {
		n.pool.Destroy(conn)
		return MessagePrimitive{}, err
	}
	n.pool.Put(conn)

	out, err := DecodeTelegram(resp)
	if err != nil {
		return out, err
	}
	switch out.Type {
	case Nack:
		return out, fmt.Errorf("address %d register %#x: %w", mp.Dest, mp.Register, ErrNack)
	case Busy:
		return out, fmt.Errorf("address %d: %w", mp.Dest, stepper.ErrMoving)
	case CRCError:
		return out, ErrRemoteCRC
	}
	if out.Src != mp.Dest {
		return out, fmt.Errorf("%w: asked %d, heard %d", ErrWrongSource, mp.Dest, out.Src)
	}
	return out, nil
}

func roundTrip(rw io.ReadWriter, tele []byte) ([]byte, error) {
	if _, err := rw.Write(tele); err != nil {
		return nil, err
	}
	return bufio.NewReader(rw).ReadBytes(telEnd)
}
