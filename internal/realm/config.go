package realm

import (
	"log/slog"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/core/sqlite"
	"github.com/roach88/realm/internal/ir"
)

// Config describes the database a Realm opens.
type Config struct {
	// Path names the database file (or the key, for the memory engine).
	Path string

	// Engine opens live handles. Default: a new SQLite engine.
	Engine core.Engine

	// Schema declares the stored classes. Empty adopts the stored schema.
	Schema ir.Schema

	// HistorySize bounds VersionID.Index. Default: core.DefaultHistorySize.
	HistorySize uint64

	// Logger receives diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives counters and gauges. Default: unregistered metrics.
	Metrics *Metrics

	// IDs generates ids for objects of classes without a primary key.
	// Default: UUIDv7Generator.
	IDs IDGenerator
}

// Option configures a Realm.
type Option func(*Config)

// WithEngine sets the storage engine.
func WithEngine(e core.Engine) Option {
	return func(c *Config) {
		c.Engine = e
	}
}

// WithSchema sets the schema the database is opened with.
func WithSchema(s ir.Schema) Option {
	return func(c *Config) {
		c.Schema = s
	}
}

// WithHistorySize sets the number of history slots VersionID.Index cycles
// through.
func WithHistorySize(n uint64) Option {
	return func(c *Config) {
		c.HistorySize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics sink.
//
// Use NewMetrics(prometheus.DefaultRegisterer) to export them.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithIDGenerator sets the generator for object ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Config) {
		c.IDs = g
	}
}

// NewConfig builds a Config for path with defaults applied.
func NewConfig(path string, opts ...Option) Config {
	cfg := Config{Path: path}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Engine == nil {
		cfg.Engine = sqlite.New()
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = core.DefaultHistorySize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDv7Generator{}
	}
	return cfg
}

func (c Config) engineConfig() core.Config {
	return core.Config{
		Path:        c.Path,
		Schema:      c.Schema,
		HistorySize: c.HistorySize,
		Logger:      c.Logger,
	}
}
