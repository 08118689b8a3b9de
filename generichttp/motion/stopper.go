package motion

import (
	"context"
	"net/http"

	"github.jpl.nasa.gov/bdube/multistep/generichttp"
)

// Stopper describes a type that can bring every axis to a controlled stop
type Stopper interface {
	// Brake decelerates all axes to a stop
	Brake() error
}

// Waiter describes a type whose moves can be waited on
type Waiter interface {
	// Wait blocks until motion is complete or the context is done
	Wait(context.Context) error
}

// HTTPStop adds routes for the stopper to the route table
func HTTPStop(iface Stopper, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/brake"}] = generichttp.Action(iface.Brake)
}

// HTTPWait adds routes for the waiter to the route table
func HTTPWait(iface Waiter, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/wait"}] = Wait(iface)
}

// Wait returns an HTTP handler func that responds once motion is complete.
// A move that was braked still answers OK; the client asked for it.
func Wait(m Waiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := m.Wait(r.Context())
		if err != nil && r.Context().Err() != nil {
			// client went away
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
