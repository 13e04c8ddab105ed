package catalog

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"lds.li/ucoclient/apiclient"
)

var _ Getter = (*apiclient.Client)(nil)

func newService(t *testing.T, h http.HandlerFunc) *Service {
	t.Helper()
	svr := httptest.NewServer(h)
	t.Cleanup(svr.Close)
	c, err := apiclient.New(svr.URL+"/uco-challenge", 5*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Service{API: c}
}

func TestCatalogFromBackend(t *testing.T) {
	s := newService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/uco-challenge" + CitiesPath:
			_, _ = w.Write([]byte(`[{"id":"11001","name":"Bogotá"},{"id":"05001","name":"Medellín"}]`))
		case "/uco-challenge" + IDTypesPath:
			_, _ = w.Write([]byte(`[{"id":"CC","name":"Cédula de Ciudadanía","code":"CC"}]`))
		default:
			http.NotFound(w, r)
		}
	})

	if diff := cmp.Diff([]City{{ID: "11001", Name: "Bogotá"}, {ID: "05001", Name: "Medellín"}}, s.Cities(t.Context())); diff != "" {
		t.Errorf("cities (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]IDType{{ID: "CC", Name: "Cédula de Ciudadanía", Code: "CC"}}, s.IDTypes(t.Context())); diff != "" {
		t.Errorf("id types (-want +got):\n%s", diff)
	}
}

func TestCatalogFallbacks(t *testing.T) {
	s := newService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if got := s.Cities(t.Context()); got == nil || len(got) != 0 {
		t.Errorf("cities: want empty list, got %#v", got)
	}
	if diff := cmp.Diff(DefaultIDTypes, s.IDTypes(t.Context())); diff != "" {
		t.Errorf("id types (-want +got):\n%s", diff)
	}
}

func TestCatalogNullBody(t *testing.T) {
	s := newService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`null`))
	})

	if got := s.Cities(t.Context()); got == nil || len(got) != 0 {
		t.Errorf("cities: want empty list, got %#v", got)
	}
	if got := s.IDTypes(t.Context()); got == nil || len(got) != 0 {
		t.Errorf("id types: want empty list, got %#v", got)
	}
}
