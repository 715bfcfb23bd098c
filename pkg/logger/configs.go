package logger

const (
	Debug   = "debug"
	Info    = "info"
	Warning = "warning"
	Error   = "error"
)

// DefaultServiceName is used for the "service" field when none is configured.
const DefaultServiceName = "smallrabbit"

type Config struct {
	// Level is one of debug, info, warning or error. Anything else means info.
	Level string `yaml:"level" mapstructure:"level"`

	// ServiceName is attached to every entry as the "service" field
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// OutputPaths defaults to stderr
	OutputPaths []string `yaml:"output_paths" mapstructure:"output_paths"`
}
