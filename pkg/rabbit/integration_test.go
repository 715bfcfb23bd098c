//go:build integration

package rabbit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// memorySink keeps dead letters in memory.
type memorySink struct {
	mu      sync.Mutex
	records []DeadLetterRecord
}

func (s *memorySink) Insert(_ context.Context, rec DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func brokerConfig(host string, port int) Config {
	cfg := DefaultConfig()
	cfg.Connection.Host = host
	cfg.Connection.Port = uint(port)
	cfg.Reconnect = Reconnect{MaxAttempts: 10, MaxTotalDelay: 60 * time.Second, InitialDelay: time.Second}
	return cfg
}

func waitForPort(t *testing.T, host string, port int) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 2*time.Second)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 60*time.Second, 500*time.Millisecond, "RabbitMQ port not ready")
}

// TestRabbitMQPublishAndConsume sends through the default exchange and a
// topic exchange and checks that the fx wired client consumes both.
func TestRabbitMQPublishAndConsume(t *testing.T) {
	ctx := context.Background()
	host, port, containerInstance := initializeRabbitMQ(ctx)
	defer func() { _ = containerInstance.Terminate(ctx) }()
	waitForPort(t, host, port)

	var client *Rabbit
	app := fxtest.New(t,
		FXModule,
		fx.Provide(func() Config { return brokerConfig(host, port) }),
		fx.Populate(&client),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NoError(t, client.Send(ctx, SendRequest{Message: []byte("direct"), QueueName: "it-jobs"}))
	require.NoError(t, client.Send(ctx, SendRequest{
		Message:      []byte("bound"),
		QueueName:    "it-jobs",
		ExchangeName: "it-events",
		ExchangeType: ExchangeTopic,
		RoutingKey:   "orders.#",
	}))
	require.NoError(t, client.Send(ctx, SendRequest{
		Message:      []byte("routed"),
		ExchangeName: "it-events",
		ExchangeType: ExchangeTopic,
		RoutingKey:   "orders.eu.created",
	}))

	err := client.Send(ctx, SendRequest{
		Message:      []byte("lost"),
		ExchangeName: "it-events",
		ExchangeType: ExchangeTopic,
		RoutingKey:   "invoices.created",
	})
	assert.ErrorIs(t, err, ErrUnroutableMessage)

	var (
		mu   sync.Mutex
		seen []string
	)
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- client.Consume(consumeCtx, "it-jobs", HandlerFunc(func(_ context.Context, d *Delivery) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, string(d.Body))
			return nil
		}), DefaultConsumerConfig())
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 20*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"direct", "bound", "routed"}, seen)
}

// TestRabbitMQDeadLetter checks that a delivery that keeps failing is
// recorded once and not redelivered.
func TestRabbitMQDeadLetter(t *testing.T) {
	ctx := context.Background()
	host, port, containerInstance := initializeRabbitMQ(ctx)
	defer func() { _ = containerInstance.Terminate(ctx) }()
	waitForPort(t, host, port)

	sink := &memorySink{}
	client := New(brokerConfig(host, port), WithDeadLetterSink(sink))
	defer client.Close()

	require.NoError(t, client.Send(ctx, SendRequest{Message: []byte("poison"), QueueName: "it-poison"}))

	var calls int
	var mu sync.Mutex
	handler := &namedHandler{name: "poison-consumer", fn: func(context.Context, *Delivery) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("cannot process")
	}}

	consumeCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		cfg := DefaultConsumerConfig()
		cfg.ManualAck = true
		done <- client.Consume(consumeCtx, "it-poison", handler, cfg)
	}()

	require.Eventually(t, func() bool { return sink.Len() == 1 }, 20*time.Second, 100*time.Millisecond)
	time.Sleep(time.Second)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, sink.Len())
	assert.Equal(t, "poison-consumer", sink.records[0].ConsumerClass)
	assert.Equal(t, []byte("poison"), sink.records[0].Payload)
}

// TestRabbitMQReconnectAfterRestart stops the broker between two sends.
// The second send reconnects and declares the queue again.
func TestRabbitMQReconnectAfterRestart(t *testing.T) {
	ctx := context.Background()
	host, port, containerInstance := initializeRabbitMQ(ctx)
	defer func() { _ = containerInstance.Terminate(ctx) }()
	waitForPort(t, host, port)

	client := New(brokerConfig(host, port))
	defer client.Close()

	require.NoError(t, client.Send(ctx, SendRequest{Message: []byte("before"), QueueName: "it-restart"}))

	stopDuration := 5 * time.Second
	require.NoError(t, containerInstance.Stop(ctx, &stopDuration))
	require.NoError(t, containerInstance.Start(ctx))
	waitForPort(t, host, port)

	require.Eventually(t, func() bool {
		return client.Send(ctx, SendRequest{Message: []byte("after"), QueueName: "it-restart"}) == nil
	}, 60*time.Second, time.Second)
	assert.Equal(t, StateConnected, client.Conn.State())
}

func initializeRabbitMQ(ctx context.Context) (string, int, testcontainers.Container) {
	hostPort, err := getFreePort()
	if err != nil {
		log.Fatalf("Failed to find free port: %v", err)
	}

	containerInstance, err := createRabbitMQContainer(ctx, hostPort)
	if err != nil {
		log.Fatalf("Failed to create container: %v", err)
	}

	port, err := containerInstance.MappedPort(ctx, "5672")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}
	host, err := containerInstance.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get host: %v", err)
	}
	return host, port.Int(), containerInstance
}

// createRabbitMQContainer starts RabbitMQ on a fixed host port so that the
// address survives a container restart.
func createRabbitMQContainer(ctx context.Context, hostPort string) (testcontainers.Container, error) {
	var containerInstance testcontainers.Container
	var lastErr error

	for attempt := 0; attempt < 3; attempt++ {
		portBindings := nat.PortMap{
			"5672/tcp": []nat.PortBinding{{HostPort: hostPort}},
		}

		req := testcontainers.ContainerRequest{
			Image:        "rabbitmq:4-management",
			ExposedPorts: []string{"5672/tcp"},
			HostConfigModifier: func(cfg *container.HostConfig) {
				cfg.PortBindings = portBindings
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5672/tcp").WithStartupTimeout(20*time.Second),
				wait.ForExec([]string{"rabbitmq-diagnostics", "status"}).WithExitCodeMatcher(func(exitCode int) bool {
					return exitCode == 0
				}).WithStartupTimeout(10*time.Second),
			),
		}

		containerInstance, lastErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if lastErr == nil {
			return containerInstance, nil
		}

		if strings.Contains(lastErr.Error(), "docker.sock") || errors.Is(lastErr, io.EOF) {
			log.Printf("Attempt %d: Docker socket error, retrying in %d seconds: %v", attempt+1, attempt+1, lastErr)
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}
		break
	}

	return nil, fmt.Errorf("failed to start RabbitMQ container after %d attempts: %w", 3, lastErr)
}

func getFreePort() (string, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port), nil
}
