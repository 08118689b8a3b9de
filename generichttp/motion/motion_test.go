package motion_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/multistep/coord"
	"github.jpl.nasa.gov/bdube/multistep/generichttp"
	"github.jpl.nasa.gov/bdube/multistep/generichttp/motion"
	"github.jpl.nasa.gov/bdube/multistep/stepper"
	"github.jpl.nasa.gov/bdube/multistep/util"
)

type rig struct {
	x, y *stepper.SimUnit
	seq  *motion.Sequencer
	mux  chi.Router
}

func newRig(clk coord.Clock, limits map[string]util.Limiter) *rig {
	x := stepper.NewSimUnit("x", stepper.Ramp{RPM: 300})
	y := stepper.NewSimUnit("y", stepper.Ramp{RPM: 150})
	seq := motion.NewSequencer(coord.New(clk, x, y), []string{"x", "y"})
	h := motion.NewHTTPMotionController(seq)
	lim := motion.LimitMiddleware{Limits: limits, Seq: seq}
	lim.Inject(h)
	r := chi.NewRouter()
	r.Use(lim.Check)
	h.RT().Bind(r)
	return &rig{x: x, y: y, seq: seq, mux: r}
}

func (rg *rig) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	rg.mux.ServeHTTP(w, req)
	return w
}

func TestMoveThenWait(t *testing.T) {
	rg := newRig(coord.NewVirtualClock(0), nil)
	if w := rg.do(http.MethodPost, "/move", `{"steps": [10, -5]}`); w.Code != http.StatusOK {
		t.Fatalf("move failed %d %s", w.Code, w.Body.String())
	}
	if w := rg.do(http.MethodPost, "/wait", ""); w.Code != http.StatusOK {
		t.Fatalf("wait failed %d", w.Code)
	}
	if rg.x.Position() != 10 || rg.y.Position() != -5 {
		t.Errorf("expected positions 10 -5, got %d %d", rg.x.Position(), rg.y.Position())
	}
	w := rg.do(http.MethodGet, "/running", "")
	b := generichttp.BoolT{}
	if err := json.NewDecoder(w.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	if b.Bool {
		t.Error("still running after wait")
	}
}

func TestRotate(t *testing.T) {
	rg := newRig(coord.NewVirtualClock(0), nil)
	if w := rg.do(http.MethodPost, "/rotate", `{"deg": [90, -180]}`); w.Code != http.StatusOK {
		t.Fatalf("rotate failed %d", w.Code)
	}
	rg.do(http.MethodPost, "/wait", "")
	if rg.x.Position() != 50 || rg.y.Position() != -100 {
		t.Errorf("expected positions 50 -100, got %d %d", rg.x.Position(), rg.y.Position())
	}
}

func TestBusyWhileMoving(t *testing.T) {
	rg := newRig(coord.NewSystemClock(), nil)
	// 1000us per step, far longer than the test
	if w := rg.do(http.MethodPost, "/move", `{"steps": [100000]}`); w.Code != http.StatusOK {
		t.Fatalf("move failed %d", w.Code)
	}
	if w := rg.do(http.MethodPost, "/move", `{"steps": [1]}`); w.Code != http.StatusConflict {
		t.Errorf("expected a second move to conflict, got %d", w.Code)
	}
	if w := rg.do(http.MethodPost, "/enabled", `{"bool": false}`); w.Code != http.StatusConflict {
		t.Errorf("expected disable during a move to conflict, got %d", w.Code)
	}
	if w := rg.do(http.MethodPost, "/brake", ""); w.Code != http.StatusOK {
		t.Errorf("brake failed %d", w.Code)
	}
	if w := rg.do(http.MethodPost, "/wait", ""); w.Code != http.StatusOK {
		t.Errorf("wait failed %d", w.Code)
	}
	if rg.seq.Running() {
		t.Error("still running after brake")
	}
	if p := rg.x.Position(); p <= 0 || p >= 100000 {
		t.Errorf("expected a partial move after brake, got %d", p)
	}
}

func TestMicrostep(t *testing.T) {
	rg := newRig(coord.NewVirtualClock(0), nil)
	if w := rg.do(http.MethodPost, "/microstep", `{"int": 16}`); w.Code != http.StatusOK {
		t.Fatalf("microstep failed %d %s", w.Code, w.Body.String())
	}
	if rg.x.Microstep() != 16 || rg.y.Microstep() != 16 {
		t.Error("microstep not applied to every unit")
	}
	if w := rg.do(http.MethodPost, "/microstep", `{"int": 6}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected an invalid mode to be a bad request, got %d", w.Code)
	}
}

func TestLimits(t *testing.T) {
	rg := newRig(coord.NewVirtualClock(0), map[string]util.Limiter{"y": {Min: -10, Max: 10}})
	if w := rg.do(http.MethodPost, "/move", `{"steps": [500, 11]}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected a move past the y limit to be refused, got %d", w.Code)
	}
	if w := rg.do(http.MethodPost, "/rotate", `{"deg": [0, 360]}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected a rotation past the y limit to be refused, got %d", w.Code)
	}
	if w := rg.do(http.MethodPost, "/move", `{"steps": [500, 10]}`); w.Code != http.StatusOK {
		t.Errorf("expected a move within limits to pass, got %d", w.Code)
	}
	rg.do(http.MethodPost, "/wait", "")
	if rg.x.Position() != 500 {
		t.Errorf("body was not passed on intact, x at %d", rg.x.Position())
	}

	w := rg.do(http.MethodGet, "/axis/y/limits", "")
	lim := util.Limiter{}
	if err := json.NewDecoder(w.Body).Decode(&lim); err != nil {
		t.Fatal(err)
	}
	if lim.Min != -10 || lim.Max != 10 {
		t.Errorf("unexpected limits %+v", lim)
	}

	w = rg.do(http.MethodGet, "/axis/x/limits", "")
	lim = util.Limiter{Min: 1, Max: 1}
	if err := json.NewDecoder(w.Body).Decode(&lim); err != nil {
		t.Fatal(err)
	}
	if lim != (util.Limiter{}) {
		t.Errorf("expected an unlimited axis to report zero limits, got %+v", lim)
	}
	if w := rg.do(http.MethodGet, "/axis/w/limits", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected an unknown axis to be 404, got %d", w.Code)
	}
}

func TestMovingUnitConflicts(t *testing.T) {
	rg := newRig(coord.NewVirtualClock(0), nil)
	// moving outside of any session, e.g. still settling
	rg.x.StartMove(10)
	if !rg.seq.Running() {
		t.Error("a moving unit should count as running")
	}
	if w := rg.do(http.MethodPost, "/enabled", `{"bool": false}`); w.Code != http.StatusConflict {
		t.Errorf("expected disabling a moving unit to conflict, got %d", w.Code)
	}
	if w := rg.do(http.MethodPost, "/microstep", `{"int": 8}`); w.Code != http.StatusConflict {
		t.Errorf("expected a microstep change on a moving unit to conflict, got %d", w.Code)
	}
	if rg.x.Microstep() != 1 {
		t.Errorf("moving unit took microstep mode %d", rg.x.Microstep())
	}
}

// stalled is a unit whose state queries block until released
type stalled struct {
	*stepper.SimUnit
	queried chan struct{}
	once    *sync.Once
	release chan struct{}
}

func (s stalled) State() stepper.State {
	s.once.Do(func() { close(s.queried) })
	<-s.release
	return s.SimUnit.State()
}

func TestRunningDoesNotBlockBrake(t *testing.T) {
	u := stalled{
		SimUnit: stepper.NewSimUnit("x", stepper.Ramp{}),
		queried: make(chan struct{}),
		once:    &sync.Once{},
		release: make(chan struct{}),
	}
	defer close(u.release)
	seq := motion.NewSequencer(coord.New(coord.NewVirtualClock(0), u), []string{"x"})
	go seq.Running()
	<-u.queried

	done := make(chan error, 2)
	go func() {
		done <- seq.Brake()
		done <- seq.Move([]int64{5})
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Error(err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Brake or Move blocked behind a slow state query")
		}
	}
	if err := seq.Wait(context.Background()); err != nil {
		t.Error(err)
	}
	if u.Position() != 5 {
		t.Errorf("expected the move to complete, position %d", u.Position())
	}
}

func TestAxesAndTrace(t *testing.T) {
	rg := newRig(coord.NewVirtualClock(0), nil)
	rg.do(http.MethodPost, "/move", `{"steps": [4, 2]}`)
	rg.do(http.MethodPost, "/wait", "")

	var axes []motion.AxisInfo
	if err := json.NewDecoder(rg.do(http.MethodGet, "/axes", "").Body).Decode(&axes); err != nil {
		t.Fatal(err)
	}
	want := []motion.AxisInfo{
		{Name: "x", Slot: 0, State: "stopped", Steps: 4, Pulses: 4},
		{Name: "y", Slot: 1, State: "stopped", Steps: 2, Pulses: 2},
	}
	if diff := cmp.Diff(want, axes); diff != "" {
		t.Errorf("unexpected axes (-want +got):\n%s", diff)
	}

	w := rg.do(http.MethodGet, "/trace", "")
	if !strings.HasPrefix(w.Body.String(), "slot,t_us,next_us\n0,0,1000\n") {
		t.Errorf("unexpected csv trace %q", w.Body.String())
	}
	if w := rg.do(http.MethodGet, "/trace?format=fits", ""); w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Errorf("fits trace failed %d", w.Code)
	}
	if w := rg.do(http.MethodGet, "/trace?format=png", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected an unknown format to be refused, got %d", w.Code)
	}
}
