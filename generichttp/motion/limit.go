package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.jpl.nasa.gov/bdube/multistep/generichttp"
	"github.jpl.nasa.gov/bdube/multistep/util"
)

var (
	errClamped = errors.New("requested displacement violates software limits, aborted")
)

// LimitMiddleware is a type that can impose axis-specific limits on motion.
// Limits are on the displacement of a single move, in steps.
type LimitMiddleware struct {
	// Limits contains the server imposed limits, by axis name
	Limits map[string]util.Limiter

	// Seq is a reference to the sequencer, used to name slots and convert angles to steps
	Seq *Sequencer
}

// Check verifies if a move would violate an axis limit, and if it does,
// responds with StatusBadRequest; otherwise, flows control to the next handler
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rotate := strings.HasSuffix(r.URL.Path, "/rotate")
		if r.Method != http.MethodPost || !(rotate || strings.HasSuffix(r.URL.Path, "/move")) || len(l.Limits) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		// downstream functions want the body...
		// read it all here, then "paste" it back with ioutil
		bodyContent, _ := ioutil.ReadAll(r.Body)
		r.Body.Close()
		r.Body = ioutil.NopCloser(bytes.NewBuffer(bodyContent))
		var steps []int64
		if rotate {
			d := DegT{}
			if err := json.Unmarshal(bodyContent, &d); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			steps = l.Seq.Coordinator().StepsForRotation(d.Deg)
		} else {
			s := StepsT{}
			if err := json.Unmarshal(bodyContent, &s); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			steps = s.Steps
		}
		for i, n := range steps {
			if i >= len(l.Seq.Names) {
				break
			}
			axis := l.Seq.Names[i]
			limiter, ok := l.Limits[axis]
			if ok && !limiter.Check(float64(n)) {
				http.Error(w, fmt.Sprintf("axis %s: %d steps: %s", axis, n, errClamped), http.StatusBadRequest)
				return
			}
		}
		// at this point, all checks have passed and we can move on
		next.ServeHTTP(w, r)
	})
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer
func (l LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = Limits(l)
}

// Limits returns an HTTP handler func that returns the limits for an axis.
// An axis without limits answers {"min": 0, "max": 0}; an unknown axis is 404.
func Limits(l LimitMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		if l.Seq.Slot(axis) < 0 {
			http.Error(w, "no axis named "+axis, http.StatusNotFound)
			return
		}
		generichttp.RespondJSON(w, l.Limits[axis])
	}
}
