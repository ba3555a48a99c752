package link

import "time"

// Config holds the protocol parameters, plus wiring for
// logging and the port.
type Config struct {
	// PacketSize is the packet size this side announces in its SYNC.
	PacketSize int
	// Window is the receive window this side announces in its SYNC.
	Window int
	// RemotePacketSize, if nonzero, overrides the peer's announced
	// packet size instead of adopting it.
	RemotePacketSize int
	// RemoteWindow, if nonzero, overrides the peer's announced window.
	RemoteWindow int

	SyncTimeout time.Duration
	SyncRetries int

	Timeout time.Duration
	Retries int

	MaxErrors   int
	ErrorDecay  int

	Logger Logger
}

// DefaultConfig returns the protocol's default parameters.
func DefaultConfig() *Config {
	return &Config{
		PacketSize:       1024,
		Window:           16,
		RemotePacketSize: 0,
		RemoteWindow:     0,
		SyncTimeout:      10 * time.Second,
		SyncRetries:      6,
		Timeout:          10 * time.Second,
		Retries:          6,
		MaxErrors:        100,
		ErrorDecay:       10,
		Logger:           NoopLogger{},
	}
}

// Option configures a Link at construction time.
type Option func(*Config)

// WithPacketSize overrides the announced packet size.
func WithPacketSize(n int) Option {
	return func(c *Config) { c.PacketSize = n }
}

// WithWindow overrides the announced receive window.
func WithWindow(n int) Option {
	return func(c *Config) { c.Window = n }
}

// WithRemoteOverride forces the remote packet size/window instead of
// adopting the peer's SYNC announcement ("unless overridden
// by configuration").
func WithRemoteOverride(packetSize, window int) Option {
	return func(c *Config) {
		c.RemotePacketSize = packetSize
		c.RemoteWindow = window
	}
}

// WithTimeouts sets the sync and steady-state timeout/retry budgets.
func WithTimeouts(syncTimeout time.Duration, syncRetries int, timeout time.Duration, retries int) Option {
	return func(c *Config) {
		c.SyncTimeout = syncTimeout
		c.SyncRetries = syncRetries
		c.Timeout = timeout
		c.Retries = retries
	}
}

// WithErrorBudget sets the error-budget parameters.
func WithErrorBudget(maxErrors, errorDecay int) Option {
	return func(c *Config) {
		c.MaxErrors = maxErrors
		c.ErrorDecay = errorDecay
	}
}

// WithLogger sets the Logger used for link-layer diagnostics.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}
