package rabbit

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "state(7)", State(7).String())
}

func TestEnsureConnectedReusesHealthyConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn, ch := openChannel(ctrl)
	broker := &fakeBroker{conns: []Conn{conn}}
	client, timer := newTestRabbit(t, broker)
	ctx := context.Background()

	require.NoError(t, client.Conn.EnsureConnected(ctx))
	require.NoError(t, client.Conn.EnsureConnected(ctx))

	assert.Equal(t, 1, broker.Dials())
	assert.Empty(t, timer.Delays())
	assert.Equal(t, StateConnected, client.Conn.State())

	got, err := client.Conn.Channel()
	require.NoError(t, err)
	assert.Same(t, ch, got)
}

func TestChannelRequiresConnection(t *testing.T) {
	client, _ := newTestRabbit(t, &fakeBroker{})

	_, err := client.Conn.Channel()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrConnectivity)
}

func TestEnsureConnectedGivesUpAfterBudget(t *testing.T) {
	dialErr := errors.New("dial tcp: connection refused")
	broker := &fakeBroker{errs: []error{dialErr, dialErr, dialErr, dialErr, dialErr, dialErr, dialErr}}
	client, timer := newTestRabbit(t, broker)

	err := client.Conn.EnsureConnected(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 4, connErr.Attempts)
	assert.Equal(t, 14*time.Second, connErr.TotalDelay)
	assert.ErrorIs(t, err, dialErr)
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.True(t, IsTransient(err))

	assert.Equal(t, 4, broker.Dials(), "no dial once the delay budget is spent")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, timer.Delays())
	assert.Equal(t, StateDisconnected, client.Conn.State())
}

func TestEnsureConnectedRecoversWithinBudget(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn, _ := openChannel(ctrl)
	dialErr := errors.New("connection refused")
	broker := &fakeBroker{
		errs:  []error{dialErr, dialErr, nil},
		conns: []Conn{nil, nil, conn},
	}
	client, timer := newTestRabbit(t, broker)

	require.NoError(t, client.Conn.EnsureConnected(context.Background()))
	assert.Equal(t, 3, broker.Dials())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, timer.Delays())
}

func TestEnsureConnectedClosesConnectionWhenChannelFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockConn(ctrl)
	conn.EXPECT().Channel().Return(nil, errors.New("channel refused"))
	conn.EXPECT().Close().Return(nil)

	cfg := testConfig()
	cfg.Reconnect = Reconnect{MaxAttempts: 1, MaxTotalDelay: time.Second, InitialDelay: time.Second}
	broker := &fakeBroker{conns: []Conn{conn}}
	client := New(cfg, WithDialer(broker.dial), WithTimer(&instantTimer{}))

	err := client.Conn.EnsureConnected(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 1, connErr.Attempts)
	assert.Contains(t, err.Error(), "failed to create channel")
}

func TestEnsureConnectedStopsOnCancelledContext(t *testing.T) {
	broker := &fakeBroker{errs: []error{errors.New("refused")}}
	client, _ := newTestRabbit(t, broker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Conn.EnsureConnected(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, broker.Dials())
}

func TestEnsureConnectedReplacesDeadConnection(t *testing.T) {
	ctrl := gomock.NewController(t)

	dead := NewMockConn(ctrl)
	deadCh := NewMockChannel(ctrl)
	dead.EXPECT().Channel().Return(deadCh, nil)
	gomock.InOrder(
		dead.EXPECT().IsClosed().Return(false),
		dead.EXPECT().IsClosed().Return(true).AnyTimes(),
	)
	deadCh.EXPECT().IsClosed().Return(true).AnyTimes()

	fresh, freshCh := openChannel(ctrl)
	freshCh.EXPECT().QueueDeclare("jobs", true, false, false, false, nil).Return(amqp.Queue{Name: "jobs"}, nil)

	broker := &fakeBroker{conns: []Conn{dead, fresh}}
	client, _ := newTestRabbit(t, broker)
	ctx := context.Background()

	require.NoError(t, client.Conn.EnsureConnected(ctx))
	require.NoError(t, client.Topology.EnsureQueue(ctx, "jobs"))
	assert.Equal(t, 2, broker.Dials())
}

func TestReconnectResetsTopology(t *testing.T) {
	ctrl := gomock.NewController(t)

	conn1, ch1 := openChannel(ctrl)
	conn2, ch2 := openChannel(ctrl)
	ch1.EXPECT().QueueDeclare("jobs", true, false, false, false, nil).Return(amqp.Queue{Name: "jobs"}, nil).Times(1)
	ch1.EXPECT().Close().Return(nil)
	conn1.EXPECT().Close().Return(nil)
	ch2.EXPECT().QueueDeclare("jobs", true, false, false, false, nil).Return(amqp.Queue{Name: "jobs"}, nil).Times(1)

	broker := &fakeBroker{conns: []Conn{conn1, conn2}}
	client, _ := newTestRabbit(t, broker)
	ctx := context.Background()

	require.NoError(t, client.Topology.EnsureQueue(ctx, "jobs"))
	require.NoError(t, client.Topology.EnsureQueue(ctx, "jobs"))

	require.NoError(t, client.Conn.Reconnect(ctx))
	assert.Equal(t, 2, broker.Dials())

	require.NoError(t, client.Topology.EnsureQueue(ctx, "jobs"))
	require.NoError(t, client.Topology.EnsureQueue(ctx, "jobs"))
}

func TestReconnectLogsAndNotifiesHooks(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn1, ch1 := openChannel(ctrl)
	conn2, _ := openChannel(ctrl)
	ch1.EXPECT().Close().Return(nil)
	conn1.EXPECT().Close().Return(nil)

	log := NewMockLogger(ctrl)
	log.EXPECT().Error("RabbitMQ connection error. Reconnection initialized", nil, gomock.Any()).Times(1)
	log.EXPECT().Info(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	broker := &fakeBroker{conns: []Conn{conn1, conn2}}
	client, _ := newTestRabbit(t, broker, WithLogger(log))

	hooks := 0
	client.Conn.OnReconnect(func() { hooks++ })

	ctx := context.Background()
	require.NoError(t, client.Conn.EnsureConnected(ctx))
	assert.Equal(t, 0, hooks, "the first connect is not a reconnect")

	require.NoError(t, client.Conn.Reconnect(ctx))
	assert.Equal(t, 1, hooks)
}

func TestErrorLoggingCanBeDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Error(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	cfg := testConfig()
	cfg.LogErrors = false
	cfg.Reconnect = Reconnect{MaxAttempts: 2, MaxTotalDelay: time.Second, InitialDelay: time.Millisecond}
	broker := &fakeBroker{errs: []error{errors.New("refused"), errors.New("refused")}}
	client := New(cfg, WithDialer(broker.dial), WithTimer(&instantTimer{}), WithLogger(log))

	assert.Error(t, client.Conn.Reconnect(context.Background()))
}

func TestCloseIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn, ch := openChannel(ctrl)
	ch.EXPECT().Close().Return(nil).Times(1)
	conn.EXPECT().Close().Return(nil).Times(1)

	client, _ := newTestRabbit(t, &fakeBroker{conns: []Conn{conn}})

	require.NoError(t, client.Close(), "closing before connecting is a no-op")
	require.NoError(t, client.Conn.EnsureConnected(context.Background()))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, StateDisconnected, client.Conn.State())
}

type recordingObserver struct {
	ops []OperationContext
}

func (o *recordingObserver) ObserveOperation(op OperationContext) {
	o.ops = append(o.ops, op)
}

func TestConnectIsObserved(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn, _ := openChannel(ctrl)
	obs := &recordingObserver{}

	client, _ := newTestRabbit(t, &fakeBroker{conns: []Conn{conn}}, WithObserver(obs))
	require.NoError(t, client.Conn.EnsureConnected(context.Background()))

	require.Len(t, obs.ops, 1)
	assert.Equal(t, "rabbit", obs.ops[0].Component)
	assert.Equal(t, "connect", obs.ops[0].Operation)
	assert.Equal(t, "localhost:5672", obs.ops[0].Resource)
	assert.NoError(t, obs.ops[0].Error)
}
