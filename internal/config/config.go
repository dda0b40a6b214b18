// Package config loads the YAML configuration of nginx-ofp.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/print/human"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath     = "~/.nginx-ofp/config.yaml"
	defaultConsoleAddress = "127.0.0.1:9180"
	defaultServerAddress  = "0.0.0.0:8080"
)

// EnvVar is the environment variable overriding the default location of the
// configuration file.
const EnvVar = "NGINXOFPCONFIG"

// Path is the path to the configuration file.
var Path = pathFromEnv(os.Getenv)

func pathFromEnv(getenv func(string) string) human.Path {
	if path := getenv(EnvVar); path != "" {
		return human.Path(path)
	}
	return defaultConfigPath
}

// Load opens and reads the configuration file.
func Load() (*Config, error) {
	r, _, err := Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Read(r)
}

// Open opens the configuration file. When the file does not exist, the
// returned reader yields the default configuration.
func Open() (io.ReadCloser, string, error) {
	path, err := Path.Resolve()
	if err != nil {
		return nil, path, err
	}
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, path, err
		}
		b, _ := yaml.Marshal(Default())
		return io.NopCloser(bytes.NewReader(b)), path, nil
	}
	return f, path, nil
}

// Read reads and validates configuration. Unknown fields are errors.
func Read(r io.Reader) (*Config, error) {
	c := Default()
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default is the default configuration.
func Default() *Config {
	c := new(Config)
	c.Queues = 1
	c.Stack.BufferSize = 64 * human.KiB
	c.Stack.BufferPool = 64 * human.MiB
	c.Stack.MaxSockets = 65536
	c.Stack.PollInterval = human.Duration(100 * time.Microsecond)
	c.Console.Address = defaultConsoleAddress
	c.Console.MaxConnections = 16
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Trace.Compression = "none"
	c.Trace.Timestamps = "none"
	c.Server.Address = defaultServerAddress
	c.Server.Root = "."
	c.Server.Backlog = 511
	return c
}

// Config is the nginx-ofp configuration.
type Config struct {
	// Interfaces attached to the fast-path stack, by name or index.
	Interfaces []string `json:"interfaces" yaml:"interfaces"`
	// Cores bounds the number of stack workers, zero uses all the CPUs.
	Cores int `json:"cores" yaml:"cores"`
	// Queues is the number of receive queues per interface. The NUM_QUEUES
	// environment variable takes precedence.
	Queues int `json:"queues" yaml:"queues"`

	Stack struct {
		BufferSize   human.Bytes    `json:"bufferSize" yaml:"bufferSize"`
		BufferPool   human.Bytes    `json:"bufferPool" yaml:"bufferPool"`
		MaxSockets   int            `json:"maxSockets" yaml:"maxSockets"`
		PollInterval human.Duration `json:"pollInterval" yaml:"pollInterval"`
	} `json:"stack" yaml:"stack"`

	Console struct {
		Address        string `json:"address" yaml:"address"`
		MaxConnections int    `json:"maxConnections" yaml:"maxConnections"`
	} `json:"console" yaml:"console"`

	Log struct {
		Level  string `json:"level" yaml:"level"`
		Format string `json:"format" yaml:"format"`
	} `json:"log" yaml:"log"`

	Trace struct {
		Path        Nullable[human.Path] `json:"path" yaml:"path"`
		Compression string               `json:"compression" yaml:"compression"`
		Timestamps  string               `json:"timestamps" yaml:"timestamps"`
	} `json:"trace" yaml:"trace"`

	Server struct {
		Address string     `json:"address" yaml:"address"`
		Root    human.Path `json:"root" yaml:"root"`
		Backlog int        `json:"backlog" yaml:"backlog"`
	} `json:"server" yaml:"server"`
}

// Validate reports the invalid fields of c.
func (c *Config) Validate() error {
	var errs []error
	if c.Cores < 0 {
		errs = append(errs, fmt.Errorf("cores: must not be negative: %d", c.Cores))
	}
	if c.Queues < 1 {
		errs = append(errs, fmt.Errorf("queues: must be at least 1: %d", c.Queues))
	}
	if c.Stack.BufferSize == 0 {
		errs = append(errs, errors.New("stack.bufferSize: must not be zero"))
	}
	if c.Stack.MaxSockets < 1 {
		errs = append(errs, fmt.Errorf("stack.maxSockets: must be at least 1: %d", c.Stack.MaxSockets))
	}
	if c.Stack.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("stack.pollInterval: must be positive: %s", c.Stack.PollInterval))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be one of text, json: %q", c.Log.Format))
	}
	switch c.Trace.Compression {
	case "none", "snappy", "zstd":
	default:
		errs = append(errs, fmt.Errorf("trace.compression: must be one of none, snappy, zstd: %q", c.Trace.Compression))
	}
	switch c.Trace.Timestamps {
	case "none", "absolute", "relative":
	default:
		errs = append(errs, fmt.Errorf("trace.timestamps: must be one of none, absolute, relative: %q", c.Trace.Timestamps))
	}
	return errors.Join(errs...)
}

// Nullable is a configuration value that may be omitted or set to null.
type Nullable[T any] struct {
	value T
	exist bool
}

func NullableValue[T any](v T) Nullable[T] {
	return Nullable[T]{value: v, exist: true}
}

func (v Nullable[T]) Value() (T, bool) {
	return v.value, v.exist
}

func (v Nullable[T]) MarshalJSON() ([]byte, error) {
	if !v.exist {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

func (v Nullable[T]) MarshalYAML() (any, error) {
	if !v.exist {
		return nil, nil
	}
	return v.value, nil
}

func (v *Nullable[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		v.exist = false
		return nil
	} else if err := json.Unmarshal(b, &v.value); err != nil {
		v.exist = false
		return err
	} else {
		v.exist = true
		return nil
	}
}

func (v *Nullable[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" || node.Value == "~" || node.Value == "null" {
		v.exist = false
		return nil
	} else if err := node.Decode(&v.value); err != nil {
		v.exist = false
		return err
	} else {
		v.exist = true
		return nil
	}
}
