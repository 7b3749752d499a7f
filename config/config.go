package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

const (
	// DefaultLogLevel is the level used when none is given.
	DefaultLogLevel = "info"

	// DefaultRegistryPrefix is the etcd key prefix under which nodes announce themselves.
	DefaultRegistryPrefix = "/maelstrom/nodes"

	// DefaultRegistryTTL is the lease TTL of a node's registry entry.
	DefaultRegistryTTL = 10 * time.Second

	// DefaultDialTimeout bounds the initial connection to etcd.
	DefaultDialTimeout = 5 * time.Second
)

// Config contains the runtime options of a node. The protocol itself has no options; these
// cover logging, inbound rate limiting and the optional node registry.
type Config struct {
	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogDir, when set, receives node_info.log and node_debug.log next to the
	// stderr output.
	LogDir string `mapstructure:"log-dir"`

	// Rate is the sustained number of inbound requests per second handed to the node.
	// Zero disables rate limiting.
	Rate float64 `mapstructure:"rate"`

	// Burst is the number of requests allowed above Rate at once.
	Burst int `mapstructure:"burst"`

	// Registry is a comma-separated list of etcd endpoints. Empty disables registration.
	Registry string `mapstructure:"registry"`

	// RegistryPrefix is the key prefix of node entries.
	RegistryPrefix string `mapstructure:"registry-prefix"`

	// RegistryTTL is the lease TTL of a node entry.
	RegistryTTL time.Duration `mapstructure:"registry-ttl"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:       DefaultLogLevel,
		RegistryPrefix: DefaultRegistryPrefix,
		RegistryTTL:    DefaultRegistryTTL,
	}
}

// NewTestConfig returns a config object with default values and a special logger that
// routes output through t.Log.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = NewTestLogger(t, level)
	return config
}

// RegistryEndpoints splits Registry into etcd endpoints.
func (c *Config) RegistryEndpoints() []string {
	var endpoints []string
	for _, e := range strings.Split(c.Registry, ",") {
		if e = strings.TrimSpace(e); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return endpoints
}

// Logger returns a formatted logrus Entry, with prefix set to "node". Output always goes to
// stderr because stdout carries the protocol.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Out = os.Stderr
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogDir != "" {
			addFileHook(c.logger, c.LogDir)
		}
	}
	return c.logger.WithField("prefix", "node")
}

func addFileHook(logger *logrus.Logger, dir string) {
	pathMap := lfshook.PathMap{}
	for level, name := range map[logrus.Level]string{
		logrus.InfoLevel:  "node_info.log",
		logrus.DebugLevel: "node_debug.log",
	} {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logger.WithError(err).Infof("Failed to open %s, using stderr only", path)
			continue
		}
		f.Close()
		pathMap[level] = path
	}
	if len(pathMap) == 0 {
		return
	}
	logger.Hooks.Add(lfshook.NewHook(pathMap, &logrus.TextFormatter{}))
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}

// This can be used as the destination for a logger and it'll map them into calls to
// testing.T.Log, so that you only see the logging for failed tests.
type testLoggerAdapter struct {
	t testing.TB
}

func (a *testLoggerAdapter) Write(d []byte) (int, error) {
	n := len(d)
	if n > 0 && d[n-1] == '\n' {
		d = d[:n-1]
	}
	a.t.Log(string(d))
	return n, nil
}

// NewTestLogger returns a logrus Logger writing through t.Log.
func NewTestLogger(t testing.TB, level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.Out = &testLoggerAdapter{t: t}
	logger.Level = level
	return logger
}
