// Package config loads the client configuration from defaults, an optional
// config file, MSGCLIENT_* environment variables and bound command line flags.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/nczempin/rawhttp-msgclient/protocol"
	"github.com/nczempin/rawhttp-msgclient/transport"
)

const EnvPrefix = "MSGCLIENT"

// Network is the kind of socket used to reach the server.
type Network string

const (
	NetworkTCP  Network = "tcp"
	NetworkUnix Network = "unix"
)

type Config struct {
	Server   ServerConfig  `mapstructure:"server"`
	Timeouts TimeoutConfig `mapstructure:"timeouts"`
	Client   ClientConfig  `mapstructure:"client"`
	Log      LogConfig     `mapstructure:"log"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	// Host is an IP address or name for tcp, a socket path for unix.
	Host    string  `mapstructure:"host" validate:"required,endpoint_host"`
	Port    int     `mapstructure:"port" validate:"min=1,max=65535"`
	Network Network `mapstructure:"network" validate:"oneof=tcp unix"`

	// IOUring dials tcp endpoints through io_uring.
	IOUring bool `mapstructure:"io_uring"`
}

type TimeoutConfig struct {
	Connect   time.Duration `mapstructure:"connect" validate:"gt=0"`
	Read      time.Duration `mapstructure:"read" validate:"gt=0"`
	Grace     time.Duration `mapstructure:"grace" validate:"gte=0"`
	Poll      time.Duration `mapstructure:"poll" validate:"gt=0"`
	Drain     time.Duration `mapstructure:"drain" validate:"gt=0"`
	KeepAlive time.Duration `mapstructure:"keepalive" validate:"gt=0"`
}

type ClientConfig struct {
	UserAgent string  `mapstructure:"user_agent" validate:"required,header_value"`
	KeepAlive bool    `mapstructure:"keep_alive"`
	Rate      float64 `mapstructure:"rate" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type MetricsConfig struct {
	// File receives the collected metrics in text format on exit.
	File string `mapstructure:"file"`
}

// Default returns the built in configuration. Server.Host is left empty.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:    8080,
			Network: NetworkTCP,
		},
		Timeouts: TimeoutConfig{
			Connect:   transport.DefaultConnectTimeout,
			Read:      protocol.DefaultReadTimeout,
			Grace:     protocol.DefaultIdleGrace,
			Poll:      protocol.DefaultIdlePoll,
			Drain:     transport.DefaultDrainTimeout,
			KeepAlive: transport.DefaultKeepAlivePeriod,
		},
		Client: ClientConfig{
			UserAgent: protocol.DefaultUserAgent,
			KeepAlive: true,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// SetDefaults registers Default() with v so every key is known to viper.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.network", string(d.Server.Network))
	v.SetDefault("server.io_uring", d.Server.IOUring)
	v.SetDefault("timeouts.connect", d.Timeouts.Connect)
	v.SetDefault("timeouts.read", d.Timeouts.Read)
	v.SetDefault("timeouts.grace", d.Timeouts.Grace)
	v.SetDefault("timeouts.poll", d.Timeouts.Poll)
	v.SetDefault("timeouts.drain", d.Timeouts.Drain)
	v.SetDefault("timeouts.keepalive", d.Timeouts.KeepAlive)
	v.SetDefault("client.user_agent", d.Client.UserAgent)
	v.SetDefault("client.keep_alive", d.Client.KeepAlive)
	v.SetDefault("client.rate", d.Client.Rate)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.file", d.Metrics.File)
}

// Load reads the configuration into a Config and validates it. path names an
// optional config file; its format follows the extension.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := Read(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Read prepares v: defaults, MSGCLIENT_* environment lookup and, when path is
// set, the config file. Values can still be overridden with v.Set before
// Decode.
func Read(v *viper.Viper, path string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

// Decode unmarshals the settings held by v and validates them.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		NetworkDecodeHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NetworkDecodeHook converts strings to Network, case-insensitively.
func NetworkDecodeHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(Network("")) {
			return data, nil
		}
		str, ok := data.(string)
		if !ok {
			return data, nil
		}

		n := Network(strings.ToLower(strings.TrimSpace(str)))
		switch n {
		case NetworkTCP, NetworkUnix:
			return n, nil
		}
		return nil, fmt.Errorf("invalid network %q: must be tcp or unix", str)
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("endpoint_host", validateEndpointHost)
	_ = v.RegisterValidation("header_value", validateHeaderValue)
	return v
}

// Validate checks the configuration for values the client cannot work with.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func validateEndpointHost(fl validator.FieldLevel) bool {
	host := fl.Field().String()
	return host != "" && !strings.ContainsFunc(host, unicode.IsSpace) && !strings.ContainsFunc(host, unicode.IsControl)
}

func validateHeaderValue(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), "\r\n")
}

// Endpoint is where the client connects to.
func (c *Config) Endpoint() transport.Endpoint {
	if c.Server.Network == NetworkUnix {
		return transport.Unix(c.Server.Host)
	}
	return transport.TCP(c.Server.Host, uint16(c.Server.Port))
}

// TransportOptions translates the timeouts into transport.Options. The
// dialer and logger are left for the caller.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		ConnectTimeout:  c.Timeouts.Connect,
		DrainTimeout:    c.Timeouts.Drain,
		KeepAlivePeriod: c.Timeouts.KeepAlive,
	}
}

// NewReader returns a response reader using the configured timeouts.
func (c *Config) NewReader() *protocol.Reader {
	r := protocol.NewReader()
	r.Timeout = c.Timeouts.Read
	r.Idle = protocol.IdleTimeoutFraming{Grace: c.Timeouts.Grace, Poll: c.Timeouts.Poll}
	return r
}
