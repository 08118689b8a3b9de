package generichttp_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/multistep/generichttp"
)

type teapot struct{}

func (teapot) Error() string   { return "short and stout" }
func (teapot) StatusCode() int { return http.StatusTeapot }

func table(state *bool) generichttp.RouteTable {
	return generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/on"}:    generichttp.GetBool(func() (bool, error) { return *state, nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/on"}:   generichttp.SetBool(func(b bool) error { *state = b; return nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/pour"}: generichttp.Action(func() error { return teapot{} }),
	}
}

func TestRouteTableBind(t *testing.T) {
	state := false
	r := chi.NewRouter()
	table(&state).Bind(r)

	req := httptest.NewRequest(http.MethodPost, "/on", strings.NewReader(`{"bool": true}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !state {
		t.Fatalf("POST /on did not set state, code %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/on", nil))
	var b generichttp.BoolT
	if err := json.NewDecoder(w.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	if !b.Bool {
		t.Error("GET /on returned false after it was set")
	}
}

func TestBadBodyIsBadRequest(t *testing.T) {
	state := false
	r := chi.NewRouter()
	table(&state).Bind(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/on", strings.NewReader("{")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	state := false
	r := chi.NewRouter()
	table(&state).Bind(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pour", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("expected the error's own status, got %d", w.Code)
	}
	if generichttp.StatusFor(errors.New("plain")) != http.StatusInternalServerError {
		t.Error("plain errors should be 500")
	}
}

func TestSetIntWithStatus(t *testing.T) {
	errOdd := errors.New("odd")
	got := 0
	h := generichttp.SetInt(func(i int) error {
		if i%2 != 0 {
			return generichttp.WithStatus(errOdd, http.StatusBadRequest)
		}
		got = i
		return nil
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"int": 4}`)))
	if w.Code != http.StatusOK || got != 4 {
		t.Errorf("expected 4 to be set, code %d value %d", w.Code, got)
	}
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"int": 3}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected the annotated status, got %d", w.Code)
	}
	err := generichttp.WithStatus(errOdd, http.StatusTeapot)
	if !errors.Is(err, errOdd) || err.Error() != "odd" {
		t.Errorf("annotation hid the error: %v", err)
	}
	if generichttp.WithStatus(nil, http.StatusTeapot) != nil {
		t.Error("a nil error must stay nil")
	}
}

func TestEndpointsSorted(t *testing.T) {
	state := false
	got := table(&state).Endpoints()
	want := []string{"GET /on", "POST /on", "POST /pour"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected endpoints (-want +got):\n%s", diff)
	}
}

func TestSubMuxSanitize(t *testing.T) {
	cases := map[string]string{
		"omc/stages":   "/omc/stages",
		"/omc/stages/": "/omc/stages",
		"omc/stages/*": "/omc/stages",
		"/bench":       "/bench",
	}
	for in, want := range cases {
		if got := generichttp.SubMuxSanitize(in); got != want {
			t.Errorf("SubMuxSanitize(%q) = %q, expected %q", in, got, want)
		}
	}
}
