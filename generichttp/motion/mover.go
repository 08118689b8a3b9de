package motion

import (
	"encoding/json"
	"net/http"

	"github.jpl.nasa.gov/bdube/multistep/generichttp"
)

// StepsT is the body of a move request, one signed displacement per slot
type StepsT struct {
	Steps []int64 `json:"steps"`
}

// DegT is the body of a rotate request, one angle in degrees per slot
type DegT struct {
	Deg []float64 `json:"deg"`
}

// Mover describes a type that starts coordinated moves of every axis at once
type Mover interface {
	// Move starts a move of each axis by a number of steps
	Move([]int64) error

	// Rotate starts a move of each axis by an angle in degrees
	Rotate([]float64) error
}

// HTTPMove adds routes for the mover to the route table
func HTTPMove(iface Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/move"}] = Move(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/rotate"}] = Rotate(iface)
}

// Move returns an HTTP handler func from a mover that starts a move
func Move(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StepsT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = m.Move(s.Steps)
		if err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Rotate returns an HTTP handler func from a mover that starts a rotation
func Rotate(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := DegT{}
		err := json.NewDecoder(r.Body).Decode(&d)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = m.Rotate(d.Deg)
		if err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
