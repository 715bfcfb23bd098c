package postgres

import "time"

// Config holds everything needed to open the dead-letter database.
type Config struct {
	Connection        Connection        `mapstructure:"connection"`
	ConnectionDetails ConnectionDetails `mapstructure:"connection_details"`
}

type Connection struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DbName   string `mapstructure:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ConnectionDetails tunes the pool. Zero values keep the defaults below.
type ConnectionDetails struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

const (
	defaultMaxOpenConns    = 50
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = time.Minute

	healthCheckInterval = 10 * time.Second
	healthCheckTimeout  = 5 * time.Second
)

// DSN renders the connection as a libpq keyword/value string.
func (c Connection) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DbName +
		" sslmode=" + sslMode
}

func (d ConnectionDetails) withDefaults() ConnectionDetails {
	if d.MaxOpenConns <= 0 {
		d.MaxOpenConns = defaultMaxOpenConns
	}
	if d.MaxIdleConns <= 0 {
		d.MaxIdleConns = defaultMaxIdleConns
	}
	if d.ConnMaxLifetime <= 0 {
		d.ConnMaxLifetime = defaultConnMaxLifetime
	}
	return d
}
