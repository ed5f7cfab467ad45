package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/alfred/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container and returns its native address.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	clickHouseContainer, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := clickHouseContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(Options{Addr: addr})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	now := time.Now().UTC()
	for i, typ := range []history.EventType{history.EventSpawn, history.EventReady, history.EventStop} {
		e := history.Event{
			Type:       typ,
			OccurredAt: now.Add(time.Duration(i) * time.Second),
			Backend:    "alfred-backend",
			PID:        12345,
			Owned:      true,
			State:      "Ready",
			Attempt:    1,
		}
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", typ, err)
		}
	}

	got, err := sink.List(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	if got[0].Type != history.EventStop || got[2].Type != history.EventSpawn {
		t.Errorf("unexpected order: %s ... %s", got[0].Type, got[2].Type)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	if _, err := New(Options{Addr: "invalid-host:9000"}); err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}

func TestNew_RejectsBadTableName(t *testing.T) {
	if _, err := New(Options{Addr: "127.0.0.1:9000", Table: "x; DROP TABLE y"}); err == nil {
		t.Fatal("expected invalid table name error")
	}
}
