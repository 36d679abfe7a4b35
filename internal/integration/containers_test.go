//go:build ignore
// Integration tests are disabled in this project.

package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Test_Infra_Up starts the three backing services the orchestrator depends
// on at runtime — Postgres (job/reconciliation store), Redis (rate limiter
// token buckets), and a Kafka-compatible broker (terminal event publishing)
// — and checks each is reachable with the driver this module actually uses.
func Test_Infra_Up(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "app"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(90 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: pgReq, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })
	pgh, err := pgC.Host(ctx)
	require.NoError(t, err)
	pgp, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := "postgres://postgres:postgres@" + pgh + ":" + pgp.Port() + "/app?sslmode=disable"

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	require.Eventually(t, func() bool { return db.Ping() == nil }, 30*time.Second, 1*time.Second)

	rdReq := testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	rdC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: rdReq, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })
	rdh, err := rdC.Host(ctx)
	require.NoError(t, err)
	rdp, err := rdC.MappedPort(ctx, "6379")
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: rdh + ":" + rdp.Port()})
	require.Eventually(t, func() bool { return rdb.Ping(ctx).Err() == nil }, 30*time.Second, 1*time.Second)

	rpReq := testcontainers.ContainerRequest{
		Image:        "redpandadata/redpanda:v23.3.5",
		ExposedPorts: []string{"9092/tcp"},
		Cmd: []string{
			"redpanda", "start", "--smp", "1", "--overprovisioned",
			"--kafka-addr", "PLAINTEXT://0.0.0.0:9092",
			"--advertise-kafka-addr", "PLAINTEXT://localhost:9092",
		},
		WaitingFor: wait.ForLog("Successfully started Redpanda!").WithStartupTimeout(90 * time.Second),
	}
	rpC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: rpReq, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rpC.Terminate(ctx) })
	rph, err := rpC.Host(ctx)
	require.NoError(t, err)
	rpp, err := rpC.MappedPort(ctx, "9092")
	require.NoError(t, err)

	client, err := kgo.NewClient(kgo.SeedBrokers(rph + ":" + rpp.Port()))
	require.NoError(t, err)
	defer client.Close()
	require.Eventually(t, func() bool { return client.Ping(ctx) == nil }, 30*time.Second, 1*time.Second)
}
