package motion

import (
	"net/http"

	"github.jpl.nasa.gov/bdube/multistep/generichttp"
)

// Enabler describes an interface with enable/disable methods for every axis
type Enabler interface {
	// Enable energizes all axes
	Enable() error

	// Disable de-energizes all axes
	Disable() error
}

// Microstepper describes a type whose microstep mode can be set
type Microstepper interface {
	SetMicrostep(int) error
}

// HTTPEnable adds routes for the enabler to the route table
func HTTPEnable(iface Enabler, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/enabled"}] = SetEnabled(iface)
}

// HTTPMicrostep adds routes for the microstepper to the route table
func HTTPMicrostep(iface Microstepper, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/microstep"}] = generichttp.SetInt(iface.SetMicrostep)
}

// SetEnabled returns an HTTP handler func from an enabler that enables or
// disables the axes from {"bool": enabled}
func SetEnabled(e Enabler) http.HandlerFunc {
	return generichttp.SetBool(func(b bool) error {
		if b {
			return e.Enable()
		}
		return e.Disable()
	})
}
