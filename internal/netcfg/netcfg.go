// Package netcfg defines the plain configuration structs for every option
// named in spec §6. Per spec §1/§10, YAML/JSON loading and hot reload are
// external collaborators; these structs are constructed programmatically
// by callers, the way the teacher's certificates.Config is built before
// being turned into a tls.Config.
package netcfg

import "time"

// SpeedLimit is the tcp_sock_speed_limit configuration option.
type SpeedLimit struct {
	ShiftMillis int
	MaxNorth    int64
	MaxSouth    int64
}

// UDPSpeedLimit is the udp_sock_speed_limit configuration option.
type UDPSpeedLimit struct {
	ShiftMillis   int
	MaxNorthPkts  int64
	MaxNorthBytes int64
	MaxSouthPkts  int64
	MaxSouthBytes int64
}

// HappyEyeballs is the happy_eyeballs configuration block.
type HappyEyeballs struct {
	ResolutionDelay        time.Duration
	ConnectionAttemptDelay time.Duration
	SecondResolutionTimout time.Duration
	MaxTriesEachFamily     int
}

// TLSOptions is the tls configuration block.
type TLSOptions struct {
	ProtocolMin              string
	ProtocolMax              string
	Ciphers                  []string
	CipherSuites             []string
	ALPNOffer                []string
	SessionCacheSitesCount   int
	SessionCacheEachCapacity int
	NoDefaultCACerts         bool
}

// ICAPOptions is the icap configuration block.
type ICAPOptions struct {
	DisablePreview        bool
	PreviewDataReadTimout time.Duration
	RespondSharedNames    []string
	Bypass                bool
}

// InspectionAction is the per-host inspection action, per spec §6.
type InspectionAction int

const (
	ActionIntercept InspectionAction = iota
	ActionBypass
	ActionDetour
	ActionBlock
)

// ProxyProtocolVersion names the proxy_protocol_version option.
type ProxyProtocolVersion int

const (
	ProxyProtocolNone ProxyProtocolVersion = iota
	ProxyProtocolV1
	ProxyProtocolV2
)

// Config is the full set of "Configuration recognized options" from §6,
// collected into one struct for a server generation.
type Config struct {
	ConnectTimeout         time.Duration
	RequestTimeout         time.Duration
	HandshakeTimeout       time.Duration
	GreetingTimeout        time.Duration
	UpgradeTimeout         time.Duration
	PeerNegotiationTimeout time.Duration
	TaskIdleCheckInterval  time.Duration
	TaskIdleMaxCount       int

	TCPSpeedLimit SpeedLimit
	UDPSpeedLimit UDPSpeedLimit

	PipelineSize      int
	YieldSize         int64
	BodyLineMaxSize   int64
	TrailerMaxSize    int64
	HTTPHeaderMaxSize int64

	NoIPv4        bool
	NoIPv6        bool
	BindV4        string
	BindV6        string
	BindInterface string
	HappyEyeballs HappyEyeballs

	TLS TLSOptions

	ProxyProtocol ProxyProtocolVersion

	ICAP ICAPOptions

	InspectionActionByHost map[string]InspectionAction
}

// Default returns a Config with conservative values matching the defaults
// implied by spec §4's worked examples (e.g. pipeline_size large enough to
// buffer typical pipelined GETs, yield_size matching a cooperative-scheduler
// fairness slice).
func Default() Config {
	return Config{
		ConnectTimeout:         10 * time.Second,
		RequestTimeout:         30 * time.Second,
		HandshakeTimeout:       10 * time.Second,
		GreetingTimeout:        5 * time.Second,
		UpgradeTimeout:         10 * time.Second,
		PeerNegotiationTimeout: 5 * time.Second,
		TaskIdleCheckInterval:  5 * time.Second,
		TaskIdleMaxCount:       12,

		TCPSpeedLimit: SpeedLimit{ShiftMillis: 10, MaxNorth: 0, MaxSouth: 0},
		UDPSpeedLimit: UDPSpeedLimit{ShiftMillis: 10},

		PipelineSize:      16,
		YieldSize:         1 << 20,
		BodyLineMaxSize:   8 * 1024,
		TrailerMaxSize:    8 * 1024,
		HTTPHeaderMaxSize: 64 * 1024,

		HappyEyeballs: HappyEyeballs{
			ResolutionDelay:        50 * time.Millisecond,
			ConnectionAttemptDelay: 250 * time.Millisecond,
			SecondResolutionTimout: 1 * time.Second,
			MaxTriesEachFamily:     2,
		},

		InspectionActionByHost: map[string]InspectionAction{},
	}
}

// ActionFor returns the configured inspection action for host, defaulting
// to Intercept when the host has no explicit entry.
func (c Config) ActionFor(host string) InspectionAction {
	if a, ok := c.InspectionActionByHost[host]; ok {
		return a
	}
	return ActionIntercept
}
