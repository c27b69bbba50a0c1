package puic

import "time"

// Flow-control and timeout defaults, grounded on
// Dragon-Born-paqet's internal/conf/quic.go setDefaults, generalized
// since this spec has no persisted config (§6.5) to read them from.
const (
	handshakeIdleTimeout = 5 * time.Second
	clientMaxIdleTimeout = 80 * time.Second

	// serverIdleTimeout is spec.md §5's server-side idle timeout (quoted
	// there as "max idle 120s default idle 50s"). quic-go's
	// quic.Config exposes a single MaxIdleTimeout knob, not a separate
	// default/ceiling pair, so the 50s default is the value actually
	// wired in below; 120s has no separate field to land in.
	serverIdleTimeout = 50 * time.Second

	initialStreamWindow = 4 << 20
	maxStreamWindow     = 8 << 20
	initialConnWindow   = 8 << 20
	maxConnWindow       = 16 << 20
)
