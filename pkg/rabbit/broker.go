package rabbit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by this package. It is not
// safe for concurrent use; the ConnectionManager hands out one channel that
// a single worker owns.
//
//go:generate mockgen -source=broker.go -destination=mock_broker.go -package=rabbit
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Cancel(consumer string, noWait bool) error
	IsClosed() bool
	Close() error
}

// Conn is a live network session with the broker.
type Conn interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens a new Conn. The default dialer uses amqp.DialConfig.
type Dialer func(ctx context.Context, cfg Connection) (Conn, error)

// amqpConnection adapts *amqp.Connection to Conn.
type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

// DialAMQP is the default Dialer. It supports three modes:
//   - SSL with client certificates (mutual TLS)
//   - SSL without client certificates (server authentication only)
//   - plain AMQP
func DialAMQP(ctx context.Context, cfg Connection) (Conn, error) {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	amqpCfg := amqp.Config{
		Heartbeat: heartbeat,
		Vhost:     cfg.VHost,
	}

	if cfg.IsSSLEnabled && cfg.UseCert {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		amqpCfg.TLSClientConfig = tlsCfg
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cfg.URL(), amqpCfg)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

// URL renders the connection settings as an amqp:// or amqps:// URL.
func (c Connection) URL() string {
	scheme := "amqp"
	if c.IsSSLEnabled {
		scheme = "amqps"
	}
	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + strconv.FormatUint(uint64(c.Port), 10),
	}
	if c.VHost != "" {
		u.Path = "/" + c.VHost
	}
	return u.String()
}

// Address renders host:port without credentials, for logs.
func (c Connection) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func loadTLSConfig(cfg Connection) (*tls.Config, error) {
	caCert, err := os.ReadFile(cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	caCertPool := x509.NewCertPool()
	caCertPool.AppendCertsFromPEM(caCert)

	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert/key: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		ServerName:   cfg.ServerName,
	}, nil
}
