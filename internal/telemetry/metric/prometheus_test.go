package metric

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Rooms.WithLabelValues("active").Set(2)
	m.Updates.WithLabelValues("local", "applied").Add(3)
	m.PersistSaves.WithLabelValues("ok").Inc()
	m.PersistDuration.WithLabelValues("save").Observe(0.01)

	if got := testutil.ToFloat64(m.Rooms.WithLabelValues("active")); got != 2 {
		t.Errorf("rooms{active} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Updates.WithLabelValues("local", "applied")); got != 3 {
		t.Errorf("updates{local,applied} = %v, want 3", got)
	}

	n, err := testutil.GatherAndCount(reg, "docsync_persist_saves_total", "docsync_rooms")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("GatherAndCount() = %d, want 2", n)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("registering twice should panic")
		}
	}()
	New(reg)
}

func TestRegisterRelay(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	up := true
	m.RegisterRelay(func() bool { return up })

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "docsync_relay_available 1") {
		t.Errorf("metrics output missing relay availability:\n%s", body)
	}

	up = false
	rec = httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ = io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "docsync_relay_available 0") {
		t.Error("relay availability should follow the callback")
	}
}

func TestNewRegistry(t *testing.T) {
	mfs, err := NewRegistry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) == 0 {
		t.Error("runtime collectors should produce metrics")
	}
}
