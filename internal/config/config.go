// Package config holds the small set of knobs the pipeline conductor and
// CLI driver need, built with the functional-option pattern rather than a
// config-file loader. Grounded on the Option/defaultConfig/With* shape in
// lookatitude-beluga-ai's agent/option.go, adapted to a flat settings
// struct instead of an agent's builder.
package config

// Config is the resolved set of pipeline settings. Unexported fields force
// construction through New and the With* options below.
type Config struct {
	dsn             string
	assumeImmutable bool
	incremental     bool
	chunking        bool
	workers         int
}

// Option configures a Config during New.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		dsn:     "archive.sqlite3",
		workers: 4,
	}
}

// New builds a Config from defaults plus the given options.
func New(opts ...Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDSN sets the SQLite data source name the store opens.
func WithDSN(dsn string) Option {
	return func(c *Config) { c.dsn = dsn }
}

// WithAssumeImmutable tells extractors to skip the content-hash
// change-detection pass and treat every message in a re-imported export as
// unchanged once its id is already known.
func WithAssumeImmutable(v bool) Option {
	return func(c *Config) { c.assumeImmutable = v }
}

// WithIncremental tells extractors not to soft-delete stored messages that
// are absent from a re-imported dialogue. Dialogues whose update time has
// not advanced are skipped whether or not this is set.
func WithIncremental(v bool) Option {
	return func(c *Config) { c.incremental = v }
}

// WithChunking enables the optional markdown-block chunker pass.
func WithChunking(v bool) Option {
	return func(c *Config) { c.chunking = v }
}

// WithWorkers sets the bounded worker-pool size the conductor uses for
// cross-dialogue parallelism. Values below 1 are treated as 1.
func WithWorkers(n int) Option {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.workers = n
	}
}

func (c Config) DSN() string           { return c.dsn }
func (c Config) AssumeImmutable() bool { return c.assumeImmutable }
func (c Config) Incremental() bool     { return c.incremental }
func (c Config) Chunking() bool        { return c.chunking }
func (c Config) Workers() int          { return c.workers }
