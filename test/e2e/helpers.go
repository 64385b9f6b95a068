//go:build e2e

// Package e2e exercises edged against a real Docker daemon. The tests
// are skipped when no Docker daemon is reachable, so a plain `go test
// -tags e2e ./test/e2e` is safe on any machine.
package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
)

// testImage is the module image used throughout the suite. Small, on
// every mirror, and its entrypoint is trivially overridable.
const testImage = "alpine:3.20"

// sleepCreateOptions keeps a test module alive; alpine's default
// command exits immediately, which would read as a failed module.
const sleepCreateOptions = `{"Cmd":["sleep","300"]}`

// testNetwork isolates e2e containers from any real edged install on
// the host.
const testNetwork = "edged-e2e"

// uniqueName returns a container name that cannot collide with leftovers
// from earlier runs.
func uniqueName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// ensureDockerAndImage proves a Docker daemon is reachable and pulls the
// test image by running a throwaway container. Tests skip instead of
// failing when no daemon is available.
func ensureDockerAndImage(t *testing.T, ctx context.Context) {
	t.Helper()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: testImage,
			Cmd:   []string{"sleep", "5"},
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	if err := ctr.Terminate(ctx); err != nil {
		t.Logf("failed to terminate probe container: %v", err)
	}
}

// socketClient returns an HTTP client that dials the given unix socket
// regardless of the request URL host.
func socketClient(path string) *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
	}
}

// apiEnvelope is the control-plane response envelope.
type apiEnvelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// decodeInto decodes a response body into v and reports the error
// instead of failing the test; polling loops retry on bad reads.
func decodeInto(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

// getJSON performs a GET against the daemon socket and decodes the
// envelope.
func getJSON(t *testing.T, client *http.Client, url string) (int, apiEnvelope) {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading %s response: %v", url, err)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding %s response %q: %v", url, body, err)
	}
	return resp.StatusCode, env
}

// postJSON performs a POST with no body against the daemon socket.
func postJSON(t *testing.T, client *http.Client, url string) (int, apiEnvelope) {
	t.Helper()

	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading %s response: %v", url, err)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding %s response %q: %v", url, body, err)
	}
	return resp.StatusCode, env
}
