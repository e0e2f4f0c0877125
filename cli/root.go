// Package cli implements the msgclient command line.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nczempin/rawhttp-msgclient/client"
	"github.com/nczempin/rawhttp-msgclient/config"
	"github.com/nczempin/rawhttp-msgclient/logging"
	"github.com/nczempin/rawhttp-msgclient/metrics"
	"github.com/nczempin/rawhttp-msgclient/session"
	"github.com/nczempin/rawhttp-msgclient/transport"
)

const uringEntries = 64

var errInvalidHost = errors.New("invalid server IP")

// Execute runs the root command against the process streams.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the msgclient command with its own viper instance.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "msgclient [serverIP] [serverPort]",
		Short: "Interactive message client speaking HTTP/1.1 over a raw TCP connection",
		Long: `Interactive message client speaking HTTP/1.1 over a raw TCP connection.

msgclient keeps one connection open to the message server, posts, lists and
edits messages through a menu, reconnects when the server asks to close and
shuts the connection down gracefully on exit.

Without arguments the server address is read from the configuration or
asked for interactively. The port defaults to 8080.`,
		Example: `  msgclient 192.168.0.5
  msgclient 192.168.0.5 9000 --log-level debug
  MSGCLIENT_SERVER_HOST=10.0.0.7 msgclient --config msgclient.yaml`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v, configFile, args)
		},
	}

	d := config.Default()
	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to configuration file (yaml, toml or json)")
	flags.String("network", string(d.Server.Network), "Socket type (tcp|unix); for unix the server IP is the socket path")
	flags.Bool("io-uring", d.Server.IOUring, "Dial tcp endpoints through io_uring (linux)")
	flags.Duration("connect-timeout", d.Timeouts.Connect, "Connect timeout")
	flags.Duration("read-timeout", d.Timeouts.Read, "Timeout for the response header")
	flags.Duration("drain-timeout", d.Timeouts.Drain, "How long to drain the socket when closing")
	flags.String("user-agent", d.Client.UserAgent, "User-Agent header value")
	flags.Bool("keep-alive", d.Client.KeepAlive, "Ask the server to keep the connection open")
	flags.Float64("rate", d.Client.Rate, "Maximum requests per second, 0 for unlimited")
	flags.String("log-level", d.Log.Level, "Log level (debug|info|warn|error)")
	flags.String("log-format", d.Log.Format, "Log format (console|json)")
	flags.String("metrics-file", d.Metrics.File, "Write metrics in Prometheus text format to this file on exit")

	bindings := map[string]string{
		"server.network":    "network",
		"server.io_uring":   "io-uring",
		"timeouts.connect":  "connect-timeout",
		"timeouts.read":     "read-timeout",
		"timeouts.drain":    "drain-timeout",
		"client.user_agent": "user-agent",
		"client.keep_alive": "keep-alive",
		"client.rate":       "rate",
		"log.level":         "log-level",
		"log.format":        "log-format",
		"metrics.file":      "metrics-file",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper, configFile string, args []string) error {
	if err := config.Read(v, configFile); err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	if err := resolveServer(v, args, in, out); err != nil {
		return err
	}

	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}

	logger, err := logging.NewWithSink(cfg.Log.Level, cfg.Log.Format, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	defer func() {
		if cfg.Metrics.File == "" {
			return
		}
		if err := metrics.WriteTextfile(cfg.Metrics.File, reg); err != nil {
			logger.Warn("writing metrics file failed", zap.String("path", cfg.Metrics.File), zap.Error(err))
		}
	}()

	topts := cfg.TransportOptions()
	topts.Logger = logger
	if cfg.Server.IOUring && cfg.Server.Network == config.NetworkTCP {
		dialer, err := transport.NewUringDialer(uringEntries)
		if err != nil {
			return fmt.Errorf("io_uring dialer: %w", err)
		}
		defer dialer.Close()
		topts.Dialer = dialer
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint := cfg.Endpoint()
	fmt.Fprintf(out, "Connecting to %s ...\n", endpoint)
	c, err := client.Dial(ctx, endpoint, client.Options{
		Transport:         topts,
		Reader:            cfg.NewReader(),
		UserAgent:         cfg.Client.UserAgent,
		DisableKeepAlive:  !cfg.Client.KeepAlive,
		RequestsPerSecond: cfg.Client.Rate,
		Logger:            logger,
		Metrics:           rec,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	err = session.NewDriver(c, in, out, logger).Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(out, "\nInterrupted, closing socket ...")
		if outcome := c.Close(); outcome.Partial() {
			logger.Warn("close after interrupt incomplete", zap.Error(outcome.Err))
		}
		return nil
	}
	return err
}

// resolveServer fills server.host and server.port from the positional
// arguments, the configuration or, failing both, interactive prompts.
func resolveServer(v *viper.Viper, args []string, in *bufio.Reader, out io.Writer) error {
	if len(args) >= 1 {
		v.Set("server.host", args[0])
	}
	if len(args) >= 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid server port %q", args[1])
		}
		v.Set("server.port", port)
	}
	if v.GetString("server.host") != "" {
		return nil
	}

	host, err := promptLine(in, out, "Server IP (e.g. 192.168.0.5): ")
	if err != nil || host == "" {
		return errInvalidHost
	}
	v.Set("server.host", host)

	portText, err := promptLine(in, out, "Server port (default 8080): ")
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if portText == "" {
		return nil
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return fmt.Errorf("invalid server port %q", portText)
	}
	v.Set("server.port", port)
	return nil
}

func promptLine(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
