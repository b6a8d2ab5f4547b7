package e2e

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fleetpulse/internal/app"
	"fleetpulse/internal/clock"
	"fleetpulse/internal/config"
	"fleetpulse/internal/domain"
	"fleetpulse/test/testutil"
)

// newServiceFromConfig creates Service from TOML body written to a temp file.
// Params: test handle and config body.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, body string) *app.Service {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fleetpulse.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// runService starts service in background with cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for /readyz endpoint to return 200.
func waitReady(t *testing.T, baseURL string) {
	t.Helper()
	testutil.Eventually(t, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

// seedFleet inserts one machine, one tire and alerts relative to now.
func seedFleet(t *testing.T, service *app.Service) {
	t.Helper()

	st := service.MemoryStore()
	if st == nil {
		t.Fatalf("seeding requires memory store")
	}
	now := time.Now().UTC()
	st.PutMachine(domain.Machine{ID: "m1", Name: "Haul Truck 07", Status: domain.MachineStatusOK})
	st.PutTire(domain.Tire{ID: "t1", MachineID: "m1", Position: "FL", RecommendedPressure: 100})
	alerts := []domain.Alert{
		{ID: "a1", MachineID: "m1", TireID: domain.StringPtr("t1"), Severity: domain.SeverityCritical, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-90 * time.Minute), Message: "Pressão baixa"},
		{ID: "a2", MachineID: "m1", Severity: domain.SeverityMedium, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-10 * time.Minute), Message: "Velocidade alta"},
	}
	for _, alert := range alerts {
		if err := st.PutAlert(alert); err != nil {
			t.Fatalf("put alert: %v", err)
		}
	}
	st.PutTelemetry(domain.TelemetryReading{ID: "r1", MachineID: "m1", TireID: domain.StringPtr("t1"), Pressure: 72.4, Timestamp: now.Add(-5 * time.Minute), Seq: 1})
}

func request(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-User-ID", "operator-1")
	req.Header.Set("Content-Type", "application/json")
	response, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return response.StatusCode, string(payload)
}

func baseURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}
