package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Aleph-Alpha/smallrabbit/pkg/deadletter"
	"github.com/Aleph-Alpha/smallrabbit/pkg/escalation"
	"github.com/Aleph-Alpha/smallrabbit/pkg/logger"
	"github.com/Aleph-Alpha/smallrabbit/pkg/metrics"
	"github.com/Aleph-Alpha/smallrabbit/pkg/postgres"
	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
	"github.com/Aleph-Alpha/smallrabbit/pkg/tracer"
)

// Config is the configuration of a smallrabbit worker.
type Config struct {
	Logger     logger.Config     `mapstructure:"logger"`
	Rabbit     rabbit.Config     `mapstructure:"rabbit"`
	Consumer   Consumer          `mapstructure:"consumer"`
	DeadLetter deadletter.Config `mapstructure:"dead_letter"`
	Postgres   postgres.Config   `mapstructure:"postgres"`
	Metrics    metrics.Config    `mapstructure:"metrics"`
	Tracer     tracer.Config     `mapstructure:"tracer"`
	Escalation escalation.Config `mapstructure:"escalation"`
}

// DefaultMaxExecution is the handler deadline of the consume command.
const DefaultMaxExecution = 60 * time.Second

// Consumer holds the defaults of the consume command.
type Consumer struct {
	// Queue is consumed when no queue is named on the command line
	Queue string `mapstructure:"queue"`

	rabbit.ConsumerConfig `mapstructure:",squash"`
}

// envBindings maps configuration keys to the environment variables that
// override them.
var envBindings = map[string]string{
	"logger.level":                      "ZAP_LOGGER_LEVEL",
	"logger.service_name":               "SERVICE_NAME",
	"rabbit.connection.host":            "RABBITMQ_HOST",
	"rabbit.connection.port":            "RABBITMQ_PORT",
	"rabbit.connection.user":            "RABBITMQ_USER",
	"rabbit.connection.password":        "RABBITMQ_PASSWORD",
	"rabbit.connection.vhost":           "RABBITMQ_VHOST",
	"rabbit.connection.is_ssl_enabled":  "RABBITMQ_SSL",
	"rabbit.log_errors":                 "RABBITMQ_LOG_ERRORS",
	"rabbit.reconnect.max_attempts":     "RABBITMQ_MAX_CONNECTION_ATTEMPTS",
	"rabbit.reconnect.max_total_delay":  "RABBITMQ_MAX_TOTAL_DELAY",
	"rabbit.reconnect.initial_delay":    "RABBITMQ_INITIAL_DELAY",
	"consumer.queue":                    "RABBITMQ_QUEUE",
	"consumer.max_tries":                "RABBITMQ_MAX_TRIES",
	"consumer.max_execution":            "RABBITMQ_MAX_EXECUTION",
	"dead_letter.enabled":               "RABBITMQ_SAVE_NOT_PROCESSED_MESSAGES",
	"dead_letter.auto_migrate":          "DB_AUTO_MIGRATE",
	"postgres.connection.host":          "DB_HOST",
	"postgres.connection.port":          "DB_PORT",
	"postgres.connection.user":          "DB_USER",
	"postgres.connection.password":      "DB_PASSWORD",
	"postgres.connection.db_name":       "DB_NAME",
	"postgres.connection.ssl_mode":      "DB_SSLMODE",
	"metrics.address":                   "METRICS_ADDRESS",
	"metrics.namespace":                 "METRICS_NAMESPACE",
	"metrics.enable_default_collectors": "METRICS_ENABLE_DEFAULT_COLLECTORS",
	"tracer.service_name":               "TRACER_SERVICE_NAME",
	"tracer.app_env":                    "TRACER_APP_ENV",
	"tracer.enable_export":              "TRACER_ENABLE_EXPORT",
	"tracer.endpoint":                   "TRACER_ENDPOINT",
	"tracer.insecure":                   "TRACER_INSECURE",
	"escalation.journal_path":           "SMALLRABBIT_JOURNAL",
	"escalation.command":                "SMALLRABBIT_ESCALATION_COMMAND",
	"escalation.stop_timeout":           "SMALLRABBIT_STOP_TIMEOUT",
	"escalation.max_restart_delay":      "SMALLRABBIT_MAX_RESTART_DELAY",
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	return Config{
		Logger: logger.Config{Level: logger.Info, ServiceName: logger.DefaultServiceName},
		Rabbit: rabbit.DefaultConfig(),
		Consumer: Consumer{
			Queue:          "default_queue",
			ConsumerConfig: consumerDefaults(),
		},
		Postgres: postgres.Config{
			Connection: postgres.Connection{Host: "localhost", Port: "5432", SSLMode: "disable"},
		},
		Metrics: metrics.Config{Namespace: metrics.DefaultNamespace, ServiceName: logger.DefaultServiceName},
		Tracer:  tracer.Config{ServiceName: logger.DefaultServiceName},
		Escalation: escalation.Config{
			StopTimeout:     30 * time.Second,
			MaxRestartDelay: time.Minute,
		},
	}
}

// consumerDefaults gives workers a 60 second deadline, twice the library
// default.
func consumerDefaults() rabbit.ConsumerConfig {
	c := rabbit.DefaultConsumerConfig()
	c.MaxExecution = DefaultMaxExecution
	return c
}

// Load reads path, when given, and applies environment overrides on top of
// Defaults. Without a path smallrabbit.yaml is looked up in the working
// directory and /etc/smallrabbit; a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("smallrabbit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/smallrabbit")
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the values a worker can not start without.
func (c Config) Validate() error {
	if c.Rabbit.Connection.Host == "" {
		return errors.New("rabbit host is required")
	}
	if c.Rabbit.Connection.Port == 0 {
		return errors.New("rabbit port is required")
	}
	if err := c.Consumer.ConsumerConfig.Validate(); err != nil {
		return err
	}
	if c.DeadLetter.Enabled && c.Postgres.Connection.DbName == "" {
		return errors.New("saving not processed messages requires a database name")
	}
	return nil
}
