package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Logger defines the logging operations used by the postgres package.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// Postgres is a thread-safe wrapper around gorm.DB that monitors its
// connection and reconnects when a health check fails.
type Postgres struct {
	client          *gorm.DB
	cfg             Config
	logger          Logger
	mu              *sync.RWMutex
	shutdownSignal  chan struct{}
	retryChanSignal chan error

	closeShutdownOnce sync.Once
}

// NewPostgres opens the database. Unlike the monitor loop it does not
// retry: a database that is unreachable at startup is reported to the caller.
func NewPostgres(cfg Config, logger Logger) (*Postgres, error) {
	conn, err := connectToPostgres(logger, cfg)
	if err != nil {
		return nil, err
	}

	return &Postgres{
		client:          conn,
		cfg:             cfg,
		logger:          logger,
		mu:              &sync.RWMutex{},
		shutdownSignal:  make(chan struct{}),
		retryChanSignal: make(chan error, 1),
	}, nil
}

func connectToPostgres(logger Logger, cfg Config) (*gorm.DB, error) {
	database, err := gorm.Open(
		postgres.Open(cfg.Connection.DSN()),
		&gorm.Config{
			TranslateError: true,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgresSQL database: %w", err)
	}

	databaseInstance, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get PostgresSQL database instance: %w", err)
	}

	details := cfg.ConnectionDetails.withDefaults()
	databaseInstance.SetMaxOpenConns(details.MaxOpenConns)
	databaseInstance.SetMaxIdleConns(details.MaxIdleConns)
	databaseInstance.SetConnMaxLifetime(details.ConnMaxLifetime)

	logger.Info("Successfully connected to PostgresSQL database", nil, map[string]interface{}{
		"host":    cfg.Connection.Host,
		"db_name": cfg.Connection.DbName,
	})
	return database, nil
}

// RetryConnection waits for failed health checks and reconnects with an
// exponential backoff until it succeeds or the monitor is shut down.
func (p *Postgres) RetryConnection(ctx context.Context) {
	for {
		select {
		case <-p.shutdownSignal:
			p.logger.Info("Stopping RetryConnection loop due to shutdown signal", nil, nil)
			return
		case <-ctx.Done():
			return
		case cause, ok := <-p.retryChanSignal:
			if !ok {
				return
			}
			p.logger.Warn("PostgreSQL health check failed, reconnecting", cause, nil)
			p.reconnect(ctx)
		}
	}
}

func (p *Postgres) reconnect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.shutdownSignal:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		newConn, err := connectToPostgres(p.logger, p.cfg)
		if err != nil {
			return err
		}
		p.mu.Lock()
		old := p.client
		p.client = newConn
		p.mu.Unlock()
		if old != nil {
			if sqlDB, err := old.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return nil
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		p.logger.Error("Reconnection failed", err, map[string]interface{}{"retry_in": d.String()})
	})
	if err == nil {
		p.logger.Info("Reconnected to PostgresSQL database", nil, nil)
	}
}

// MonitorConnection pings the database every healthCheckInterval and
// signals RetryConnection when the ping fails.
func (p *Postgres) MonitorConnection(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownSignal:
			p.logger.Info("Stopping MonitorConnection loop due to shutdown signal", nil, nil)
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.HealthCheck(ctx); err != nil {
				select {
				case p.retryChanSignal <- err:
				default:
				}
			}
		}
	}
}

// HealthCheck pings the database.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.client == nil {
		return fmt.Errorf("database client is not initialized")
	}

	db, err := p.client.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance during health check: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed during health check: %w", err)
	}
	return nil
}

// Close stops the monitor loops and closes the pool.
func (p *Postgres) Close() error {
	p.closeShutdownOnce.Do(func() {
		close(p.shutdownSignal)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	db, err := p.client.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
