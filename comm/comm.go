/*Package comm provides connections to remote step-pulse controllers over
serial lines or TCP (e.g. a serial port behind a terminal server).

Most usages of this package will boil down to:
	1.  describe the link with a RemoteDevice
	2.  hand RemoteDevice.Open to a Pool as its CreationFunc
	3.  Get a connection from the pool for each exchange, and Put it back

A minimal example:

	rd := comm.NewRemoteDevice("/dev/ttyUSB0", &serial.Config{Name: "/dev/ttyUSB0", Baud: 115200})
	pool := comm.NewPool(1, 10*time.Second, rd.Dial)
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer pool.Put(conn)
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when .Conn is nil and Read or Write is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")
)

// DialTimeout is the connect, read and write timeout used for TCP links
var DialTimeout = 3 * time.Second

/*RemoteDevice has an address and implements io.ReadWriteCloser

if Serial is not nil the link is opened with serial.OpenPort, otherwise
Addr is dialed over TCP
*/
type RemoteDevice struct {
	Addr   string
	Serial *serial.Config
	Conn   io.ReadWriteCloser
}

// NewRemoteDevice creates a new RemoteDevice instance.  conf may be nil for TCP links.
func NewRemoteDevice(addr string, conf *serial.Config) *RemoteDevice {
	return &RemoteDevice{Addr: addr, Serial: conf}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// controllers behind terminal servers do not like being connection thrashed
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.Serial != nil {
		conn, err = serial.OpenPort(rd.Serial)
	} else {
		conn, err = TCPSetup(rd.Addr, DialTimeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Dial opens a fresh connection to the same remote, suitable as a Pool CreationFunc
func (rd *RemoteDevice) Dial() (io.ReadWriteCloser, error) {
	other := &RemoteDevice{Addr: rd.Addr, Serial: rd.Serial}
	if err := other.Open(); err != nil {
		return nil, err
	}
	return other, nil
}

// Read satisfies io.Reader
func (rd *RemoteDevice) Read(b []byte) (int, error) {
	if rd.Conn == nil {
		return 0, ErrNotConnected
	}
	return rd.Conn.Read(b)
}

// Write satisfies io.Writer
func (rd *RemoteDevice) Write(b []byte) (int, error) {
	if rd.Conn == nil {
		return 0, ErrNotConnected
	}
	return rd.Conn.Write(b)
}

// SetDeadline sets the read and write deadline of links that support one.
// Serial links rely on their configured ReadTimeout instead.
func (rd *RemoteDevice) SetDeadline(t time.Time) error {
	if d, ok := rd.Conn.(interface{ SetDeadline(time.Time) error }); ok {
		return d.SetDeadline(t)
	}
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
	}
	return err
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
