package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"

	"github.jpl.nasa.gov/bdube/multistep/coord"
	"github.jpl.nasa.gov/bdube/multistep/generichttp"
	"github.jpl.nasa.gov/bdube/multistep/generichttp/motion"
	"github.jpl.nasa.gov/bdube/multistep/logx"
	"github.jpl.nasa.gov/bdube/multistep/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/multistep/stepper"
	"github.jpl.nasa.gov/bdube/multistep/steplink"
	"github.jpl.nasa.gov/bdube/multistep/util"
)

// Axis describes one motor.  Slots are assigned in the order axes are listed.
type Axis struct {
	// Name labels the axis in logs, limits and the /axes route
	Name string `yaml:"Name" koanf:"Name"`

	// Type is "sim" for a simulated unit or "remote" for a unit on a step-pulse controller
	Type string `yaml:"Type" koanf:"Type"`

	// Addr holds the network or filesystem address of a remote controller's link,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyUSB0 for a serial cable.
	// Remote axes with the same Addr share one daisy chained link
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial" koanf:"Serial"`

	// Baud is the serial line rate
	Baud int `yaml:"Baud" koanf:"Baud"`

	// ControllerID is the bus address of the controller channel
	ControllerID int `yaml:"ControllerID" koanf:"ControllerID"`

	MotorSteps int64   `yaml:"MotorSteps" koanf:"MotorSteps"`
	Microsteps int64   `yaml:"Microsteps" koanf:"Microsteps"`
	RPM        float64 `yaml:"RPM" koanf:"RPM"`

	// Mode is "constant" or "linear"
	Mode  string `yaml:"Mode" koanf:"Mode"`
	Accel int64  `yaml:"Accel" koanf:"Accel"`
	Decel int64  `yaml:"Decel" koanf:"Decel"`

	// Min and Max bound the displacement of a single move, in steps.  Both zero means no limit
	Min float64 `yaml:"Min" koanf:"Min"`
	Max float64 `yaml:"Max" koanf:"Max"`
}

// Ramp converts the axis' timing parameters to a stepper.Ramp
func (a Axis) Ramp() (stepper.Ramp, error) {
	r := stepper.Ramp{
		MotorSteps: a.MotorSteps,
		Microsteps: a.Microsteps,
		RPM:        a.RPM,
		Accel:      a.Accel,
		Decel:      a.Decel,
	}
	switch strings.ToLower(a.Mode) {
	case "", "constant":
		r.Mode = stepper.ConstantSpeed
	case "linear":
		r.Mode = stepper.LinearSpeed
	default:
		return r, fmt.Errorf("axis %s: mode %q not understood, must be constant or linear", a.Name, a.Mode)
	}
	return r, nil
}

// Config is a struct that holds the initialization parameters of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Endpoint is the URL stem the motion routes are served under
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// DryRun replaces the system clock with a virtual one, moves complete instantly
	DryRun bool `yaml:"DryRun" koanf:"DryRun"`

	// SpinThreshold is how long before a deadline the wait stops sleeping and spins
	SpinThreshold time.Duration `yaml:"SpinThreshold" koanf:"SpinThreshold"`

	// TraceFile, if not empty, receives the pulse trace of CLI moves; .fits selects FITS, otherwise CSV
	TraceFile string `yaml:"TraceFile" koanf:"TraceFile"`

	// Microstep, if not zero, is applied to every axis at startup
	Microstep int `yaml:"Microstep" koanf:"Microstep"`

	// Emulate is the address the emulate command listens at
	Emulate string `yaml:"Emulate" koanf:"Emulate"`

	Log logx.Config `yaml:"Log" koanf:"Log"`

	// Axes is the list of axes to set up
	Axes []Axis `yaml:"Axes" koanf:"Axes"`
}

// Rig is the assembled hardware described by a Config
type Rig struct {
	Coord  *coord.Coordinator
	Names  []string
	Limits map[string]util.Limiter
	Remote []*steplink.RemoteUnit
}

// BuildRig constructs every axis and a Coordinator over them
func BuildRig(c Config, log zerolog.Logger) (*Rig, error) {
	if len(c.Axes) == 0 {
		return nil, fmt.Errorf("no axes configured, see %s help", ConfigFileName)
	}
	var clk coord.Clock
	if c.DryRun {
		clk = coord.NewVirtualClock(0)
	} else {
		sc := coord.NewSystemClock()
		if c.SpinThreshold > 0 {
			sc.SpinThreshold = c.SpinThreshold
		}
		clk = sc
	}

	rig := &Rig{Limits: map[string]util.Limiter{}}
	networks := map[string]*steplink.Network{}
	units := make([]stepper.Unit, 0, len(c.Axes))
	for i, ax := range c.Axes {
		if ax.Name == "" {
			ax.Name = fmt.Sprintf("axis%d", i)
		}
		ramp, err := ax.Ramp()
		if err != nil {
			return nil, err
		}
		var u stepper.Unit
		switch strings.ToLower(ax.Type) {
		case "", "sim":
			u = stepper.NewSimUnit(ax.Name, ramp)
		case "remote":
			nw, ok := networks[ax.Addr]
			if !ok {
				var conf *serial.Config
				if ax.Serial {
					conf = &serial.Config{Name: ax.Addr, Baud: ax.Baud, ReadTimeout: steplink.DefaultTimeout}
				}
				nw = steplink.NewNetwork(ax.Addr, conf)
				nw.Log = logx.Component(log, "steplink").With().Str("link", ax.Addr).Logger()
				networks[ax.Addr] = nw
			}
			ru := nw.Add(byte(ax.ControllerID), ramp)
			rig.Remote = append(rig.Remote, ru)
			u = ru
		default:
			return nil, fmt.Errorf("axis %s: type %q not understood, must be sim or remote", ax.Name, ax.Type)
		}
		units = append(units, u)
		rig.Names = append(rig.Names, ax.Name)
		if ax.Min != 0 || ax.Max != 0 {
			rig.Limits[ax.Name] = util.Limiter{Min: ax.Min, Max: ax.Max}
		}
	}
	rig.Coord = coord.New(clk, units...)
	rig.Coord.Log = logx.Component(log, "coord")
	if c.Microstep != 0 {
		if err := rig.Coord.SetMicrostep(c.Microstep); err != nil {
			return nil, fmt.Errorf("applying microstep %d: %w", c.Microstep, err)
		}
	}
	return rig, nil
}

// BuildMux mounts the motion routes of seq under c.Endpoint behind the
// limit and lock middleware.  The mux serves a special route, /endpoints,
// which returns the list of routes as JSON.
func BuildMux(c Config, seq *motion.Sequencer, limits map[string]util.Limiter) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	httper := motion.NewHTTPMotionController(seq)
	limiter := motion.LimitMiddleware{Limits: limits, Seq: seq}
	limiter.Inject(httper)
	lock := locker.New()
	locker.Inject(httper, lock)

	r := chi.NewRouter()
	r.Use(limiter.Check)
	r.Use(lock.Check)
	httper.RT().Bind(r)
	hndlS := generichttp.SubMuxSanitize(c.Endpoint)
	root.Mount(hndlS, r)

	supergraph := map[string][]string{hndlS: httper.RT().Endpoints()}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, supergraph)
	})
	return root
}

// BuildEmulator puts a simulated unit on an emulated bus for every remote axis
func BuildEmulator(c Config) (*steplink.Emulator, error) {
	emu := steplink.NewEmulator()
	n := 0
	for _, ax := range c.Axes {
		if strings.ToLower(ax.Type) != "remote" {
			continue
		}
		ramp, err := ax.Ramp()
		if err != nil {
			return nil, err
		}
		emu.Attach(byte(ax.ControllerID), stepper.NewSimUnit(ax.Name, ramp))
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("no remote axes to emulate")
	}
	return emu, nil
}
