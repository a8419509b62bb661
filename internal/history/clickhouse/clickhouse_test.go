package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mined-project/mined/internal/history"
	"github.com/mined-project/mined/internal/server"
)

// setupClickHouseContainer starts a ClickHouse container for testing
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

// setupSinkWithTable creates a sink and the audit table it writes to
func setupSinkWithTable(ctx context.Context, t *testing.T, addr, table string) *Sink {
	t.Helper()

	sink, err := New(addr, table)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	err = sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			occurred_at DateTime64(6),
			server_id Int32,
			name String,
			prev_status String,
			status String
		) ENGINE = MergeTree()
		ORDER BY occurred_at`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return sink
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink := setupSinkWithTable(ctx, t, addr, "server_history_test")
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	events := []history.Event{
		{ServerID: 0, Name: "lobby", From: server.StatusStopped, To: server.StatusStarting, OccurredAt: time.Now().UTC()},
		{ServerID: 0, Name: "lobby", From: server.StatusStarting, To: server.StatusRunning, OccurredAt: time.Now().UTC()},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send event: %v", err)
		}
	}

	rows, err := sink.conn.Query(ctx,
		"SELECT server_id, name, prev_status, status FROM server_history_test ORDER BY occurred_at")
	if err != nil {
		t.Fatalf("Failed to query rows: %v", err)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var id int32
		var name, prev, status string
		if err := rows.Scan(&id, &name, &prev, &status); err != nil {
			t.Fatalf("Failed to scan row: %v", err)
		}
		if name != "lobby" || id != 0 {
			t.Fatalf("Unexpected row: %d %s", id, name)
		}
		count++
	}
	if count != len(events) {
		t.Fatalf("Expected %d rows, got %d", len(events), count)
	}
}
