// Package motion provides an HTTP interface to coordinated multi-axis stepper moves
package motion

/*
Routes are bound per capability: NewHTTPMotionController checks which of the
interfaces in this package the controller satisfies and injects their routes.
*/
import (
	"errors"
	"net/http"

	"github.jpl.nasa.gov/bdube/multistep/generichttp"
	"github.jpl.nasa.gov/bdube/multistep/stepper"
	"github.jpl.nasa.gov/bdube/multistep/trace"
)

// withStatus attaches the HTTP status of the unit errors a request can cause
func withStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stepper.ErrMoving):
		return generichttp.WithStatus(err, http.StatusConflict)
	case errors.Is(err, stepper.ErrBadMicrostep):
		return generichttp.WithStatus(err, http.StatusBadRequest)
	default:
		return err
	}
}

// Runner describes a type that can report whether anything is moving
type Runner interface {
	Running() bool
}

// AxisLister describes a type that can describe its axes
type AxisLister interface {
	Axes() []AxisInfo
}

// Tracer describes a type that records the pulse timeline of its moves
type Tracer interface {
	Trace() *trace.Recorder
}

// HTTPRunning adds routes for the runner to the route table
func HTTPRunning(iface Runner, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/running"}] = GetRunning(iface)
}

// GetRunning returns an HTTP handler func that reports {"bool": running}
func GetRunning(rn Runner) http.HandlerFunc {
	return generichttp.GetBool(func() (bool, error) { return rn.Running(), nil })
}

// HTTPAxes adds routes for the axis lister to the route table
func HTTPAxes(iface AxisLister, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axes"}] = func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, iface.Axes())
	}
}

// HTTPTrace adds routes for the tracer to the route table
func HTTPTrace(iface Tracer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/trace"}] = GetTrace(iface)
}

// GetTrace returns an HTTP handler func that sends the latest trace as CSV,
// or as FITS with ?format=fits
func GetTrace(t Tracer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := t.Trace()
		switch format := r.URL.Query().Get("format"); format {
		case "", "csv":
			w.Header().Set("Content-Type", "text/csv")
			w.WriteHeader(http.StatusOK)
			rec.WriteCSV(w)
		case "fits":
			if len(rec.Rows()) == 0 {
				http.Error(w, trace.ErrEmpty.Error(), http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "image/fits")
			w.Header().Set("Content-Disposition", "attachment; filename=trace.fits")
			w.WriteHeader(http.StatusOK)
			rec.WriteFits(w)
		default:
			http.Error(w, "format must be csv or fits, not "+format, http.StatusBadRequest)
		}
	}
}

// Controller is used for the HTTP interface, which will check if the concrete
// type satisfies the other interfaces in this package and inject their routes
// automatically
type Controller interface {
	// Mover - all Controllers must be Movers
	Mover
}

// HTTPMotionController wraps a motion controller with HTTP
type HTTPMotionController struct {
	Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMotionController(c Controller) HTTPMotionController {
	w := HTTPMotionController{Controller: c}
	rt := generichttp.RouteTable{}
	HTTPMove(c, rt)
	if stopper, ok := c.(Stopper); ok {
		HTTPStop(stopper, rt)
	}
	if waiter, ok := c.(Waiter); ok {
		HTTPWait(waiter, rt)
	}
	if runner, ok := c.(Runner); ok {
		HTTPRunning(runner, rt)
	}
	if enabler, ok := c.(Enabler); ok {
		HTTPEnable(enabler, rt)
	}
	if ms, ok := c.(Microstepper); ok {
		HTTPMicrostep(ms, rt)
	}
	if lister, ok := c.(AxisLister); ok {
		HTTPAxes(lister, rt)
	}
	if tracer, ok := c.(Tracer); ok {
		HTTPTrace(tracer, rt)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}
