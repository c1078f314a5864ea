package bridge

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/petrijr/stagehand/pkg/api"
)

// DefaultCommands are the inbound commands a server forwards when the
// "commands" option is absent.
var DefaultCommands = []string{
	api.CommandTranscribe,
	api.CommandConv,
	api.CommandConvReset,
	api.CommandConvSilence,
}

const (
	defaultHost       = "127.0.0.1"
	defaultPort       = 8080
	defaultPath       = "/"
	defaultReadBuffer = 256

	// maxFrameSize caps a single inbound frame.
	maxFrameSize = 32 << 20

	writeTimeout = 10 * time.Second
	closeTimeout = time.Second
	idleInterval = 100 * time.Millisecond
)

// ClientOptions configures a socket_client stage.
type ClientOptions struct {
	Host string `config:"host"`
	Port int    `config:"port"`
	Path string `config:"path"`

	// Key is a url-safe base64 Fernet key. Empty disables encryption.
	Key string `config:"key"`

	ConnectAttempts int           `config:"connect_attempts"`
	ConnectBackoff  time.Duration `config:"connect_backoff"`

	// ReadBuffer is how many inbound frames may wait for the routine.
	ReadBuffer int `config:"read_buffer"`
}

// ServerOptions configures a socket_server stage.
type ServerOptions struct {
	Host string `config:"host"`
	Port int    `config:"port"`
	Path string `config:"path"`
	Key  string `config:"key"`

	// Commands lists the inbound commands forwarded into the pipeline. An
	// empty list forwards everything.
	Commands []string `config:"commands"`

	ReadBuffer int `config:"read_buffer"`
}

func defaultClientOptions() ClientOptions {
	return ClientOptions{
		Host:            defaultHost,
		Port:            defaultPort,
		Path:            defaultPath,
		ConnectAttempts: 1,
		ConnectBackoff:  time.Second,
		ReadBuffer:      defaultReadBuffer,
	}
}

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		Host:       defaultHost,
		Port:       defaultPort,
		Path:       defaultPath,
		ReadBuffer: defaultReadBuffer,
	}
}

// ClientOptionsFrom decodes a stage config over the client defaults.
func ClientOptionsFrom(cfg api.StageConfig) (ClientOptions, error) {
	opts := defaultClientOptions()
	if err := cfg.Decode(&opts); err != nil {
		return opts, err
	}
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = 1
	}
	if opts.ReadBuffer < 1 {
		opts.ReadBuffer = defaultReadBuffer
	}
	return opts, validateEndpoint(opts.Host, opts.Port)
}

// ServerOptionsFrom decodes a stage config over the server defaults.
func ServerOptionsFrom(cfg api.StageConfig) (ServerOptions, error) {
	opts := defaultServerOptions()
	if err := cfg.Decode(&opts); err != nil {
		return opts, err
	}
	if _, ok := cfg["commands"]; !ok {
		opts.Commands = append([]string(nil), DefaultCommands...)
	}
	if opts.ReadBuffer < 1 {
		opts.ReadBuffer = defaultReadBuffer
	}
	return opts, validateEndpoint(opts.Host, opts.Port)
}

func validateEndpoint(host string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", api.ErrInvalidConfig, port)
	}
	if host == "" {
		return fmt.Errorf("%w: empty host", api.ErrInvalidConfig)
	}
	return nil
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func newCodec(key string) (Codec, error) {
	if key == "" {
		return Codec{}, nil
	}
	c, err := NewFernetCipher(key)
	if err != nil {
		return Codec{}, fmt.Errorf("%w: %v", api.ErrInvalidConfig, err)
	}
	return Codec{Cipher: c}, nil
}
