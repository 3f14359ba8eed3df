package stream

const (
	defaultMaxLineBytes   = 1024 * 1024
	defaultReadBufferSize = 32 * 1024
)

type options struct {
	diagnostics    func(raw string)
	repair         bool
	maxLineBytes   int
	readBufferSize int
}

// Option configures a session
type Option func(*options)

func defaultOptions() options {
	return options{
		maxLineBytes:   defaultMaxLineBytes,
		readBufferSize: defaultReadBufferSize,
	}
}

// WithDiagnostics receives every malformed line and in-band backend error text.
// It is called on the session goroutine and must not block.
func WithDiagnostics(sink func(raw string)) Option {
	return func(o *options) {
		o.diagnostics = sink
	}
}

// WithRepair enables JSON repair of malformed payloads
func WithRepair(enabled bool) Option {
	return func(o *options) {
		o.repair = enabled
	}
}

// WithMaxLineBytes bounds a partial line; zero disables the bound
func WithMaxLineBytes(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxLineBytes = n
		}
	}
}

// WithReadBufferSize sets the size of each body read
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBufferSize = n
		}
	}
}
