package trace_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/multistep/coord"
	"github.jpl.nasa.gov/bdube/multistep/stepper"
	"github.jpl.nasa.gov/bdube/multistep/trace"
)

// recordMove runs a constant speed two axis move near the clock wrap
func recordMove(t *testing.T) *trace.Recorder {
	t.Helper()
	x := stepper.NewSimUnit("x", stepper.Ramp{RPM: 300}) // 1000us pulses
	y := stepper.NewSimUnit("y", stepper.Ramp{RPM: 150}) // 2000us pulses
	c := coord.New(coord.NewVirtualClock(0xFFFFF000), x, y)
	rec := &trace.Recorder{}
	c.Observer = rec
	c.Move([]int64{4, 2})
	return rec
}

func TestRecorderTimeline(t *testing.T) {
	rec := recordMove(t)
	if !rec.Done() {
		t.Fatal("recorder did not see the session finish")
	}
	want := []trace.Row{
		{Slot: 0, T: 0, Next: 1000},
		{Slot: 1, T: 0, Next: 2000},
		{Slot: 0, T: 1000, Next: 1000},
		{Slot: 0, T: 2000, Next: 1000},
		{Slot: 1, T: 2000, Next: 2000},
		{Slot: 0, T: 3000, Next: 1000},
		{Slot: 0, T: 4000, Next: 0},
		{Slot: 1, T: 4000, Next: 0},
	}
	if diff := cmp.Diff(want, rec.Rows()); diff != "" {
		t.Errorf("unexpected timeline (-want +got):\n%s", diff)
	}
	if d := rec.Duration(); d != 4000 {
		t.Errorf("expected a 4000us session, got %d", d)
	}
	if diff := cmp.Diff([]int{4, 2}, rec.Pulses()); diff != "" {
		t.Errorf("unexpected pulse counts (-want +got):\n%s", diff)
	}
}

func TestRecorderMax(t *testing.T) {
	x := stepper.NewSimUnit("x", stepper.Ramp{})
	c := coord.New(coord.NewVirtualClock(0), x)
	rec := &trace.Recorder{Max: 3}
	c.Observer = rec
	c.Move([]int64{10})
	if n := len(rec.Rows()); n != 3 {
		t.Errorf("expected 3 rows kept, got %d", n)
	}
	if rec.Dropped() != 8 {
		t.Errorf("expected 8 rows dropped, got %d", rec.Dropped())
	}
}

func TestWriteCSV(t *testing.T) {
	rec := recordMove(t)
	buf := &bytes.Buffer{}
	if err := rec.WriteCSV(buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "slot,t_us,next_us" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if len(lines) != 9 {
		t.Fatalf("expected header and 8 rows, got %d lines", len(lines))
	}
	if lines[3] != "0,1000,1000" {
		t.Errorf("expected third row 0,1000,1000, got %q", lines[3])
	}
}

func TestWriteFits(t *testing.T) {
	rec := recordMove(t)
	buf := &bytes.Buffer{}
	if err := rec.WriteFits(buf); err != nil {
		t.Fatal(err)
	}
	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	hdr := f.HDU(0).Header()
	if diff := cmp.Diff([]int{3, 8}, hdr.Axes()); diff != "" {
		t.Errorf("unexpected image shape (-want +got):\n%s", diff)
	}
	if c := hdr.Get("NSLOTS"); c == nil {
		t.Error("NSLOTS card missing")
	}
	if c := hdr.Get("DURATION"); c == nil {
		t.Error("DURATION card missing")
	}
}

func TestWriteFitsEmpty(t *testing.T) {
	rec := &trace.Recorder{}
	if err := rec.WriteFits(&bytes.Buffer{}); err != trace.ErrEmpty {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}
