package malloc

import "log/slog"

type options struct {
	minBlock int
	maxBlock int
	log      *slog.Logger
}

// Option configures a Heap.
type Option func(*options)

// WithBlockSize sets the minimum and maximum block sizes. Both must be
// powers of two and minBlock <= maxBlock. The heap grows maxBlock bytes at
// a time.
func WithBlockSize(minBlock, maxBlock int) Option {
	return func(o *options) {
		o.minBlock = minBlock
		o.maxBlock = maxBlock
	}
}

// WithLogger sets the logger used to report growth and exhaustion.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
