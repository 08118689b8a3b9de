package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/rs/zerolog"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/multistep/coord"
	"github.jpl.nasa.gov/bdube/multistep/generichttp/motion"
	"github.jpl.nasa.gov/bdube/multistep/logx"
	"github.jpl.nasa.gov/bdube/multistep/server"
	"github.jpl.nasa.gov/bdube/multistep/trace"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "stepsrv.yml"

	// EnvPrefix prefixes environment variables that override the config file
	EnvPrefix = "STEPSRV_"

	k = koanf.New(".")
)

func defaultConfig() Config {
	return Config{
		Addr:          ":8000",
		Endpoint:      "/stage",
		SpinThreshold: coord.DefaultSpinThreshold,
		Emulate:       ":9000",
		Log:           logx.Config{Level: "info", Console: true},
		Axes:          []Axis{}}
}

func setupconfig() error {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") { // file missing, who cares
			return fmt.Errorf("error loading config: %w", err)
		}
	}
	// STEPSRV_LOG_LEVEL => Log.Level
	known := map[string]string{}
	for _, key := range k.Keys() {
		known[strings.ToLower(key)] = key
	}
	return k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.Replace(strings.TrimPrefix(s, EnvPrefix), "_", ".", -1))
		if canon, ok := known[key]; ok {
			return canon
		}
		return key
	}), nil)
}

func loadConfig() (Config, error) {
	c := Config{}
	err := k.Unmarshal("", &c)
	return c, err
}

func root() {
	str := `stepsrv drives several stepper motors through synchronized moves and
exposes an HTTP interface to them.  Every axis ramps on its own schedule;
all of them start together and each steps exactly when its own timer expires.

Usage:
	stepsrv <command>

Commands:
	run
	move <steps> [<steps>...]
	rotate <deg> [<deg>...]
	emulate
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `stepsrv is amenable to configuration via its .yml file, and environment
variables prefixed with STEPSRV_ (e.g. STEPSRV_DRYRUN=true, STEPSRV_LOG_LEVEL=debug).
For a primer on YAML, see https://yaml.org/start.html

Without any axes configured, the server will close immediately and display an error.

Axes are assigned slots in the order they are listed.  Each axis has a type:
- "sim", a simulated motor with no hardware
- "remote", a channel of a step-pulse controller reached over serial or TCP.
  Remote axes with the same Addr share the link; ControllerID is the bus address.

Timing fields per axis, all optional:
	MotorSteps (200), Microsteps (1), RPM (60), Mode (constant | linear),
	Accel (1000 full steps/s^2), Decel (same as Accel)

Min and Max bound the displacement of a single move in steps.

The HTTP routes are served under Endpoint (default /stage):
	POST /move {"steps": [...]}    POST /rotate {"deg": [...]}
	POST /brake                    POST /wait
	GET  /running                  GET  /axes
	POST /enabled {"bool": ...}    POST /microstep {"int": ...}
	GET  /trace?format=csv|fits    GET/POST /lock
	GET  /axis/{axis}/limits
and GET /endpoints lists them.

move and rotate run a single move from the command line and exit.  With
TraceFile set, the pulse trace is written there (.fits for FITS, otherwise CSV).

emulate serves simulated controllers for every remote axis at the Emulate address.`
	fmt.Println(str)
}

func mkconf() error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	if len(c.Axes) == 0 {
		c.Axes = []Axis{
			{Name: "x", Type: "sim", RPM: 120, Mode: "linear", Accel: 1000},
			{Name: "y", Type: "sim", RPM: 60, Mode: "linear", Accel: 1000}}
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return yml.NewEncoder(f).Encode(c)
}

func printconf() error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	return yml.NewEncoder(os.Stdout).Encode(c)
}

func pversion() {
	fmt.Printf("stepsrv version %v\n", Version)
}

func run(c Config, log zerolog.Logger) error {
	rig, err := BuildRig(c, log)
	if err != nil {
		return err
	}
	seq := motion.NewSequencer(rig.Coord, rig.Names)
	seq.Log = logx.Component(log, "sequencer")
	mux := BuildMux(c, seq, rig.Limits)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err = server.Serve(ctx, c.Addr, mux, log)
	seq.Brake()
	seq.Wait(context.Background())
	return err
}

func parseArgs[T any](args []string, parse func(string) (T, error)) ([]T, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected one value per axis")
	}
	out := make([]T, len(args))
	for i, a := range args {
		v, err := parse(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// moveCLI runs a single move in the foreground.  Interrupting it brakes the axes.
func moveCLI(c Config, log zerolog.Logger, cmd string, args []string) error {
	rig, err := BuildRig(c, log)
	if err != nil {
		return err
	}
	var steps []int64
	if cmd == "rotate" {
		deg, err := parseArgs(args, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
		if err != nil {
			return err
		}
		steps = rig.Coord.StepsForRotation(deg)
	} else {
		steps, err = parseArgs(args, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
		if err != nil {
			return err
		}
	}
	for i, n := range steps {
		if i >= len(rig.Names) {
			break
		}
		if lim, ok := rig.Limits[rig.Names[i]]; ok && !lim.Check(float64(n)) {
			return fmt.Errorf("axis %s: %d steps violates software limits", rig.Names[i], n)
		}
	}

	rec := &trace.Recorder{}
	rig.Coord.Observer = rec
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " moving",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	spinner.Message(fmt.Sprint(steps))
	spinner.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	start := time.Now()
	err = rig.Coord.MoveContext(ctx, steps)
	if err != nil {
		spinner.StopFailMessage("braked")
		spinner.StopFail()
	} else {
		spinner.StopMessage(fmt.Sprintf("%d events, %v virtual, %v wall", len(rec.Rows()),
			time.Duration(rec.Duration())*time.Microsecond, time.Since(start).Round(time.Millisecond)))
		spinner.Stop()
	}
	for _, ru := range rig.Remote {
		if e := ru.Err(); e != nil {
			log.Warn().Err(e).Uint8("addr", ru.Addr).Msg("remote unit reported transport errors during the move")
		}
	}
	if c.TraceFile != "" {
		if e := writeTrace(rec, c.TraceFile); e != nil {
			return e
		}
		log.Info().Str("file", c.TraceFile).Msg("trace written")
	}
	return err
}

func writeTrace(rec *trace.Recorder, fn string) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(fn), ".fits") {
		return rec.WriteFits(f)
	}
	return rec.WriteCSV(f)
}

func emulate(c Config, log zerolog.Logger) error {
	emu, err := BuildEmulator(c)
	if err != nil {
		return err
	}
	emu.Log = logx.Component(log, "emulator")
	log.Info().Str("addr", c.Emulate).Msg("emulating remote controllers")
	return emu.ListenAndServe(c.Emulate)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	log := logx.New(logx.Config{Console: true})
	if err := setupconfig(); err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}
	c, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}
	log = logx.New(c.Log)

	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		err = mkconf()
	case "conf":
		err = printconf()
	case "version":
		pversion()
	case "run":
		err = run(c, log)
	case "move", "rotate":
		err = moveCLI(c, log, cmd, args[2:])
	case "emulate":
		err = emulate(c, log)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatal().Err(err).Msg(cmd)
	}
}
