//go:build integration

package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Stack is a throwaway PostGIS and Redis pair for end-to-end tests.
type Stack struct {
	DSN      string
	RedisURL string
}

// StartStack runs both containers and terminates them when t finishes.
// Requires a reachable Docker daemon.
func StartStack(t *testing.T) Stack {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-based test in short mode")
	}
	ctx := context.Background()

	pg := start(t, ctx, testcontainers.ContainerRequest{
		Image:        "postgis/postgis:16-3.4",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "vectra",
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "vectra_core",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(2 * time.Minute),
	})
	rd := start(t, ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})

	pgAddr, err := pg.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		t.Fatalf("postgres endpoint: %v", err)
	}
	redisAddr, err := rd.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return Stack{
		DSN:      fmt.Sprintf("postgres://vectra:password@%s/vectra_core?sslmode=disable", pgAddr),
		RedisURL: fmt.Sprintf("redis://%s/0", redisAddr),
	}
}

func start(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("terminate %s: %v", req.Image, err)
		}
	})
	return c
}
