package resvfs

// Config carries the manager's tunable knobs. A zero Config is invalid;
// always start from DefaultConfig().
type Config struct {
	backgroundDecompression bool
	chunkSize               int
	readAhead               int
	poolSize                int
	resourcePathPrefix      Path
}

// DefaultConfig returns the manager's out-of-the-box configuration:
// background decompression off, a 64 KiB chunk size and 2-chunk read-ahead
// (used only once background decompression is enabled), no worker pool, and
// no resource path prefix override.
func DefaultConfig() *Config {
	return &Config{
		backgroundDecompression: false,
		chunkSize:               65536,
		readAhead:               2,
		poolSize:                0,
		resourcePathPrefix:      "",
	}
}

// WithBackgroundDecompression is the master enable/disable for streaming,
// worker-pool-driven decompression. Disabled, every compressed load runs
// inline on the thread that completes its read.
func (c *Config) WithBackgroundDecompression(enabled bool) *Config {
	c.backgroundDecompression = enabled
	return c
}

// WithChunkSize sets the number of bytes read per chunk in streaming mode.
// Values less than 1 are clamped to 1.
func (c *Config) WithChunkSize(n int) *Config {
	if n < 1 {
		n = 1
	}
	c.chunkSize = n
	return c
}

// WithReadAhead sets how many chunks of read-ahead each streaming load
// maintains. Values less than 1 are clamped to 1.
func (c *Config) WithReadAhead(n int) *Config {
	if n < 1 {
		n = 1
	}
	c.readAhead = n
	return c
}

// WithPoolSize sets the maximum number of concurrent background
// decompression workers. A size of 0 means "background decompression
// disabled" regardless of WithBackgroundDecompression.
func (c *Config) WithPoolSize(n int) *Config {
	if n < 0 {
		n = 0
	}
	c.poolSize = n
	return c
}

// WithResourcePathPrefix overrides the host filesystem prefix used to
// resolve relative paths; mainly a test hook.
func (c *Config) WithResourcePathPrefix(p Path) *Config {
	c.resourcePathPrefix = p
	return c
}

// backgroundEnabled reports whether streaming background decompression is
// actually usable given both the master switch and the pool size.
func (c *Config) backgroundEnabled() bool {
	return c.backgroundDecompression && c.poolSize > 0
}
