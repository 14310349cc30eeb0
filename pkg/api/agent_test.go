package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/zinitctl/pkg/api"
	"github.com/psantana5/zinitctl/pkg/resources"
	"github.com/psantana5/zinitctl/pkg/zinit"
)

type fakeSupervisor struct {
	services map[string]zinit.ServiceState
	statuses map[string]zinit.ServiceStatus
	err      error
}

func (f *fakeSupervisor) List(ctx context.Context) (map[string]zinit.ServiceState, error) {
	return f.services, f.err
}

func (f *fakeSupervisor) Status(ctx context.Context, name string) (zinit.ServiceStatus, error) {
	if f.err != nil {
		return zinit.ServiceStatus{}, f.err
	}
	status, ok := f.statuses[name]
	if !ok {
		return status, &zinit.RemoteError{Command: "status", Message: "service unknown"}
	}
	return status, nil
}

type fakeRegisterer struct {
	registered []string
	err        error
}

func (f *fakeRegisterer) Register(ctx context.Context, name string) error {
	f.registered = append(f.registered, name)
	return f.err
}

func newRouter(s api.Supervisor, r api.Registerer) *mux.Router {
	h := api.NewAgentHandler(s, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	}), nil)
	h.SetUsageFuncs(
		func(ctx context.Context, pid int) (*resources.ProcessUsage, error) {
			if pid != 42 {
				return nil, errors.New("no such process")
			}
			return &resources.ProcessUsage{Pid: pid, Name: "redis-server", RSSBytes: 1024}, nil
		},
		func(ctx context.Context, interval time.Duration) (*resources.NodeUsage, error) {
			return &resources.NodeUsage{MemoryTotal: 2048, MemoryUsed: 1024}, nil
		},
	)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func do(router http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestAgentRoutes(t *testing.T) {
	supervisor := &fakeSupervisor{
		services: map[string]zinit.ServiceState{
			"redis": {State: zinit.StateRunning},
			"boot":  {State: zinit.StateSuccess},
		},
		statuses: map[string]zinit.ServiceStatus{
			"redis": {Name: "redis", Pid: 42, State: zinit.ServiceState{State: zinit.StateRunning}, Target: zinit.TargetUp},
			"boot":  {Name: "boot", Pid: 0, State: zinit.ServiceState{State: zinit.StateSuccess}, Target: zinit.TargetUp},
		},
	}
	registerer := &fakeRegisterer{}
	router := newRouter(supervisor, registerer)

	t.Run("Health", func(t *testing.T) {
		w := do(router, "GET", "/health")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
	})

	t.Run("Metrics", func(t *testing.T) {
		w := do(router, "GET", "/metrics")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "# metrics")
	})

	t.Run("Node", func(t *testing.T) {
		w := do(router, "GET", "/node")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"memory_total_bytes":2048`)
	})

	t.Run("ListServices", func(t *testing.T) {
		w := do(router, "GET", "/services")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Services []api.ServiceSummary `json:"services"`
			Count    int                  `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, "boot", body.Services[0].Name)
		assert.Equal(t, "redis", body.Services[1].Name)
		assert.Equal(t, zinit.StateRunning, body.Services[1].State.State)
	})

	t.Run("GetServiceWithUsage", func(t *testing.T) {
		w := do(router, "GET", "/services/redis")
		require.Equal(t, http.StatusOK, w.Code)

		var info api.ServiceInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
		assert.Equal(t, "redis", info.Name)
		assert.Equal(t, zinit.TargetUp, info.Target)
		require.NotNil(t, info.Usage)
		assert.Equal(t, "redis-server", info.Usage.Name)
	})

	t.Run("GetServiceNotRunning", func(t *testing.T) {
		w := do(router, "GET", "/services/boot")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "usage")
	})

	t.Run("GetServiceUnknown", func(t *testing.T) {
		w := do(router, "GET", "/services/ghost")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "service unknown")
	})

	t.Run("MonitorService", func(t *testing.T) {
		w := do(router, "POST", "/services/ntp/monitor")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"ntp"}, registerer.registered)
	})

	t.Run("MonitorWrongMethod", func(t *testing.T) {
		w := do(router, "GET", "/services/ntp/monitor")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestAgentRoutes_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"exit", &zinit.Error{Kind: zinit.KindExit, Command: "monitor", Service: "ntp", ExitCode: 1}, http.StatusUnprocessableEntity},
		{"launch", &zinit.Error{Kind: zinit.KindLaunch, Command: "monitor", Service: "ntp", Err: errors.New("not found")}, http.StatusBadGateway},
		{"canceled", &zinit.Error{Kind: zinit.KindCanceled, Command: "monitor", Service: "ntp", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&fakeSupervisor{}, &fakeRegisterer{err: tt.err})
			w := do(router, "POST", "/services/ntp/monitor")
			assert.Equal(t, tt.expected, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body["error"], "ntp")
		})
	}

	t.Run("socket down", func(t *testing.T) {
		router := newRouter(&fakeSupervisor{err: errors.New("failed to connect to zinit")}, &fakeRegisterer{})
		w := do(router, "GET", "/services")
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestAgentRoutes_RejectsNamesWithControlCharacters(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "z.sock")
	l, err := net.Listen("unix", socket)
	require.NoError(t, err)
	defer l.Close()

	var (
		mu      sync.Mutex
		written []byte
	)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			data, _ := io.ReadAll(conn)
			mu.Lock()
			written = append(written, data...)
			mu.Unlock()
			conn.Close()
		}
	}()

	router := newRouter(zinit.NewClient(socket), &fakeRegisterer{})

	for _, path := range []string{
		"/services/x%0Astop%20y",
		"/services/ntp%0Akill%20sshd%20SIGKILL",
		"/services/a%20b",
	} {
		w := do(router, "GET", path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), "invalid service name", path)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, written)
}
