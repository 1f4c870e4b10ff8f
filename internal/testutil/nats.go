// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	NatsTestURLEnv     = "INTEGRATION_NATS_URL"
	defaultNatsTestURL = "nats://localhost:4222"
)

// ConnectToNATS connects to the integration NATS server or skips the test.
func ConnectToNATS(t *testing.T) *nats.Conn {
	t.Helper()

	url := os.Getenv(NatsTestURLEnv)
	if url == "" {
		url = defaultNatsTestURL
	}

	nc, err := nats.Connect(url, nats.Timeout(2*time.Second))
	if err != nil {
		t.Skipf("failed to connect to NATS (%s): %v", url, err)
	}

	if err := nc.FlushTimeout(2 * time.Second); err != nil {
		_ = nc.Drain()
		nc.Close()
		t.Skipf("no response from NATS (%s): %v", url, err)
	}

	t.Cleanup(func() {
		_ = nc.Drain()
		nc.Close()
	})

	return nc
}
