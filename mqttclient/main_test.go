package mqttclient

import (
	"log"
	"os"
	"testing"
)

// Package-level shared broker to avoid starting a container per test
var sharedBroker *TestBroker

// TestMain starts one Mosquitto container for all integration tests.
// Unit tests always run; integration tests require INTEGRATION_TESTS=1.
func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") != "" {
		broker, err := NewSharedTestBroker()
		if err != nil {
			log.Fatalf("Failed to start shared test broker: %v", err)
		}
		sharedBroker = broker
	}

	code := m.Run()

	if sharedBroker != nil {
		sharedBroker.Terminate()
	}

	os.Exit(code)
}

// getSharedBroker returns the shared broker for integration tests
func getSharedBroker(t *testing.T) *TestBroker {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}
	if sharedBroker == nil {
		t.Fatal("Shared broker not initialized - TestMain should have created it")
	}
	return sharedBroker
}
