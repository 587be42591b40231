package agrimesh

import "time"

// options holds the tunables a caller may override via With* functions
// passed to New. Defaults mirror the intervals zeromq-gyre hardcodes in
// peer.go (peerEvasive/peerExpired/reapInterval), adapted from "is a
// post-handshake peer silent" to "has a handshake been stuck in SENT too
// long" per spec.md §7.
type options struct {
	handshakeTimeout time.Duration
	reapInterval     time.Duration
	beaconInterval   time.Duration
	discoveryPort    int
	enableDiscovery  bool
	identityDir      string
	storePath        string
}

func defaultOptions() options {
	return options{
		handshakeTimeout: 5 * time.Second,
		reapInterval:     1 * time.Second,
		beaconInterval:   2 * time.Second,
		discoveryPort:    28900,
		enableDiscovery:  false,
		identityDir:      "ids",
		storePath:        "agrimesh.db",
	}
}

// Option configures a Mesh at construction time.
type Option func(*options)

// WithHandshakeTimeout overrides how long a connection may sit in the SENT
// state before the reaper tears it down (spec.md §7 "Handshake never
// completes").
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithReapInterval overrides how often the reaper sweeps for stuck
// handshakes (spec.md §9 "once a second").
func WithReapInterval(d time.Duration) Option {
	return func(o *options) { o.reapInterval = d }
}

// WithLANDiscovery turns on the supplemented UDP broadcast beacon
// (SPEC_FULL.md §9.6) on the given port, at the given announce interval.
func WithLANDiscovery(udpPort int, interval time.Duration) Option {
	return func(o *options) {
		o.enableDiscovery = true
		o.discoveryPort = udpPort
		o.beaconInterval = interval
	}
}

// WithIdentityDir overrides the directory identity files are stored under
// (default "ids", matching original_source/peer.py's layout).
func WithIdentityDir(dir string) Option {
	return func(o *options) { o.identityDir = dir }
}

// WithStorePath overrides the sqlite database path for the offline queue.
func WithStorePath(path string) Option {
	return func(o *options) { o.storePath = path }
}
