// Package postgrestest starts a disposable PostgreSQL container for
// integration tests.
package postgrestest

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Aleph-Alpha/smallrabbit/pkg/postgres"
)

const (
	user     = "testuser"
	password = "testpass"
	dbName   = "testdb"
)

// Container is a running postgres:15 container.
type Container struct {
	testcontainers.Container
	Config postgres.Config
}

// Start runs postgres:15 on a free host port and waits until it accepts
// connections.
func Start(ctx context.Context) (*Container, error) {
	port, err := getFreePort()
	if err != nil {
		return nil, fmt.Errorf("could not get free port: %w", err)
	}
	portStr := strconv.Itoa(port)

	req := testcontainers.ContainerRequest{
		Image: "postgres:15",
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       dbName,
		},
		ExposedPorts: []string{"5432/tcp"},
		HostConfigModifier: func(cfg *container.HostConfig) {
			cfg.PortBindings = nat.PortMap{
				"5432/tcp": []nat.PortBinding{{HostPort: portStr}},
			}
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	mapped, err := c.MappedPort(ctx, "5432")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	cfg := postgres.Config{
		Connection: postgres.Connection{
			Host:     host,
			Port:     mapped.Port(),
			User:     user,
			Password: password,
			DbName:   dbName,
			SSLMode:  "disable",
		},
	}
	if err := WaitReady(cfg.Connection.DSN(), 30*time.Second); err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("postgres container not ready: %w", err)
	}

	return &Container{Container: c, Config: cfg}, nil
}

// WaitReady pings dsn through lib/pq until it answers or timeout passes.
func WaitReady(dsn string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for PostgreSQL to be ready after %s", timeout)
		}

		db, err := sql.Open("postgres", dsn)
		if err == nil {
			err = db.Ping()
			_ = db.Close()
			if err == nil {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
