package transport

import (
	"crypto/tls"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries everything a new Conn needs: the TLS configuration used by
// the handshake adapter and the transport-parameter overrides this endpoint
// advertises, spec.md §4.1/§6. Grounded on the teacher's cmd/quince newConfig
// helper, which built an equivalent (quic.Config, tls.Config) pair from flags
// and YAML before constructing a client or server.
type Config struct {
	Version uint32
	TLS     *tls.Config
	Params  transportParameters

	// CongestionControl selects the congestion-control algorithm: "reno"
	// (default), "cubic", "bbr1", "bbr2" or "bbr3", spec.md §4.6.
	CongestionControl string

	// EnableECN opts this connection into marking outgoing datagrams
	// ECT(0) and tracking the peer's reported ECN counts, RFC 9000
	// Section 13.4. Off by default: a middlebox that drops or remarks on
	// ECN codepoints would otherwise need to be detected and fallen back
	// from, which this implementation does not yet do automatically.
	EnableECN bool
}

// configFile is the on-disk YAML shape for Config, spec.md §6's defaults
// plus whichever fields a deployment wants to override. Fields left at zero
// keep defaultTransportParameters()'s value.
type configFile struct {
	MaxIdleTimeoutMS          uint64 `yaml:"max_idle_timeout_ms"`
	MaxUDPPayloadSize         uint64 `yaml:"max_udp_payload_size"`
	InitialMaxData            uint64 `yaml:"initial_max_data"`
	InitialMaxStreamDataBidiLocal  uint64 `yaml:"initial_max_stream_data_bidi_local"`
	InitialMaxStreamDataBidiRemote uint64 `yaml:"initial_max_stream_data_bidi_remote"`
	InitialMaxStreamDataUni   uint64 `yaml:"initial_max_stream_data_uni"`
	InitialMaxStreamsBidi     uint64 `yaml:"initial_max_streams_bidi"`
	InitialMaxStreamsUni      uint64 `yaml:"initial_max_streams_uni"`
	AckDelayExponent          uint64 `yaml:"ack_delay_exponent"`
	MaxAckDelayMS             uint64 `yaml:"max_ack_delay_ms"`
	DisableActiveMigration    bool   `yaml:"disable_active_migration"`
	ActiveConnectionIDLimit   uint64 `yaml:"active_connection_id_limit"`
}

// NewConfig returns a Config carrying spec.md §6's default transport
// parameters and no TLS configuration; the caller fills in TLS before
// connecting or accepting.
func NewConfig() *Config {
	return &Config{Params: defaultTransportParameters()}
}

// LoadConfigYAML reads transport-parameter overrides from a YAML file on top
// of the defaults, using gopkg.in/yaml.v3 as the teacher's config loading
// does elsewhere in the pack.
func LoadConfigYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	c := NewConfig()
	if cf.MaxIdleTimeoutMS != 0 {
		c.Params.maxIdleTimeout = cf.MaxIdleTimeoutMS
	}
	if cf.MaxUDPPayloadSize != 0 {
		c.Params.maxUDPPayloadSize = cf.MaxUDPPayloadSize
	}
	if cf.InitialMaxData != 0 {
		c.Params.initialMaxData = cf.InitialMaxData
	}
	if cf.InitialMaxStreamDataBidiLocal != 0 {
		c.Params.initialMaxStreamDataBidiLocal = cf.InitialMaxStreamDataBidiLocal
	}
	if cf.InitialMaxStreamDataBidiRemote != 0 {
		c.Params.initialMaxStreamDataBidiRemote = cf.InitialMaxStreamDataBidiRemote
	}
	if cf.InitialMaxStreamDataUni != 0 {
		c.Params.initialMaxStreamDataUni = cf.InitialMaxStreamDataUni
	}
	if cf.InitialMaxStreamsBidi != 0 {
		c.Params.initialMaxStreamsBidi = cf.InitialMaxStreamsBidi
	}
	if cf.InitialMaxStreamsUni != 0 {
		c.Params.initialMaxStreamsUni = cf.InitialMaxStreamsUni
	}
	if cf.AckDelayExponent != 0 {
		c.Params.ackDelayExponent = cf.AckDelayExponent
	}
	if cf.MaxAckDelayMS != 0 {
		c.Params.maxAckDelay = cf.MaxAckDelayMS
	}
	c.Params.disableActiveMigration = cf.DisableActiveMigration
	if cf.ActiveConnectionIDLimit != 0 {
		c.Params.activeConnectionIDLimit = cf.ActiveConnectionIDLimit
	}
	return c, nil
}
