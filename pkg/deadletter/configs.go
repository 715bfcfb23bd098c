package deadletter

// Config controls whether failed deliveries are stored at all.
type Config struct {
	// Enabled mirrors RABBITMQ_SAVE_NOT_PROCESSED_MESSAGES. A disabled sink
	// accepts every record and drops it.
	Enabled bool `mapstructure:"enabled"`

	// AutoMigrate creates the table on startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// ErrorColumnSize is the width of the error column.
const ErrorColumnSize = 255

// base64Prefix marks payloads that are not valid UTF-8 text.
const base64Prefix = "base64:"
