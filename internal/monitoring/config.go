package monitoring

import "fmt"

// Config controls the metrics/health HTTP server.
type Config struct {
	Enabled bool `yaml:"enabled" env:"MONITORING_ENABLED"`

	// Listen is the address of the metrics server, e.g. ":9091".
	Listen string `yaml:"listen" env:"MONITORING_LISTEN"`

	// Path serves the Prometheus exposition format.
	Path string `yaml:"path" env:"MONITORING_PATH"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Listen:  ":9091",
		Path:    "/metrics",
	}
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Listen == "" {
		return fmt.Errorf("listen cannot be empty when monitoring is enabled")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("path must start with /, got %q", c.Path)
	}
	return nil
}
