package steplink

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.jpl.nasa.gov/bdube/multistep/stepper"
)

var _ stepper.Unit = (*RemoteUnit)(nil)

// RemoteUnit is a stepper.Unit on the far side of a Network.
//
// The pulse protocol has no error return, so transport failures during
// StartMove, NextAction, StartBrake and State are logged and kept for Err.
// A failed NextAction reports completion, which lets a session end rather
// than hang on a dead link.
type RemoteUnit struct {
	Addr byte

	net  *Network
	ramp stepper.Ramp

	mu  sync.Mutex
	err error
}

// Err returns the most recent transport error, or nil
func (u *RemoteUnit) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

func (u *RemoteUnit) fail(op string, err error) {
	u.mu.Lock()
	u.err = err
	u.mu.Unlock()
	u.log().Warn().Err(err).Str("op", op).Msg("remote unit exchange failed")
}

func (u *RemoteUnit) log() *zerolog.Logger {
	l := u.net.Log.With().Uint8("addr", u.Addr).Logger()
	return &l
}

func (u *RemoteUnit) write(reg byte, v int32) error {
	_, err := u.net.Exchange(MessagePrimitive{
		Dest:     u.Addr,
		Type:     Write,
		Register: reg,
		Data:     EncodeInt32(v)})
	return err
}

func (u *RemoteUnit) read(reg byte) (int32, error) {
	resp, err := u.net.Exchange(MessagePrimitive{
		Dest:     u.Addr,
		Type:     Read,
		Register: reg})
	if err != nil {
		return 0, err
	}
	if resp.Type != Datagram {
		return 0, fmt.Errorf("expected Datagram in response to read, got %s", resp.Type)
	}
	return DecodeInt32(resp.Data)
}

// StartMove satisfies stepper.Pulser
func (u *RemoteUnit) StartMove(steps int64) {
	if err := u.write(RegMove, int32(steps)); err != nil {
		u.fail("move", err)
	}
}

// NextAction satisfies stepper.Pulser
func (u *RemoteUnit) NextAction() int64 {
	v, err := u.read(RegNext)
	if err != nil {
		u.fail("next", err)
		return 0
	}
	if v < 0 {
		return 0
	}
	return int64(v)
}

// StartBrake satisfies stepper.Pulser
func (u *RemoteUnit) StartBrake() {
	if err := u.write(RegBrake, 1); err != nil {
		u.fail("brake", err)
	}
}

// State satisfies stepper.Stater.  An unreachable controller reports Stopped.
func (u *RemoteUnit) State() stepper.State {
	v, err := u.read(RegState)
	if err != nil {
		u.fail("state", err)
		return stepper.Stopped
	}
	return stepper.State(v)
}

// CalcStepsForRotation satisfies stepper.Rotator
func (u *RemoteUnit) CalcStepsForRotation(deg float64) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ramp.StepsForRotation(deg)
}

// SetMicrostep satisfies stepper.Configurer
func (u *RemoteUnit) SetMicrostep(mode int) error {
	if err := u.write(RegMicrostep, int32(mode)); err != nil {
		return err
	}
	u.mu.Lock()
	u.ramp.Microsteps = int64(mode)
	u.mu.Unlock()
	return nil
}

// Enable satisfies stepper.Configurer
func (u *RemoteUnit) Enable() error {
	return u.write(RegEnable, 1)
}

// Disable satisfies stepper.Configurer
func (u *RemoteUnit) Disable() error {
	return u.write(RegEnable, 0)
}

// Microstep reads the microstep mode back from the controller
func (u *RemoteUnit) Microstep() (int, error) {
	v, err := u.read(RegMicrostep)
	return int(v), err
}

// Enabled reads back whether the driver is energized
func (u *RemoteUnit) Enabled() (bool, error) {
	v, err := u.read(RegEnable)
	return v != 0, err
}
