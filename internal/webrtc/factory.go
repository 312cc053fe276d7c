package webrtc

import (
	"fmt"
	"strings"
	"time"

	"callroom/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	pion "github.com/pion/webrtc/v4"
)

// opusPayloadType matches what browsers and pion/mediadevices offer for Opus.
const opusPayloadType = 111

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithNet routes all ICE traffic through a virtual network.
func WithNet(n *vnet.Net) FactoryOption {
	return func(f *Factory) { f.net = n }
}

// WithLogLevel sets the level of pion's internal loggers (error, warn, info, debug, trace).
func WithLogLevel(level string) FactoryOption {
	return func(f *Factory) { f.logLevel = level }
}

// WithRecordPath writes received audio to an Ogg file at path.
func WithRecordPath(path string) FactoryOption {
	return func(f *Factory) { f.recordPath = path }
}

// WithoutLoopbackFilter keeps loopback ICE candidates. Only useful on
// virtual or single-host networks.
func WithoutLoopbackFilter() FactoryOption {
	return func(f *Factory) { f.keepLoopback = true }
}

// Factory builds audio-only peer connections sharing one pion API.
type Factory struct {
	stunURL      string
	net          *vnet.Net
	logLevel     string
	recordPath   string
	keepLoopback bool

	api *pion.API
}

// NewFactory prepares the media engine, interceptors and settings once.
// An empty stunURL yields host-only candidates.
func NewFactory(stunURL string, opts ...FactoryOption) (*Factory, error) {
	f := &Factory{stunURL: stunURL, logLevel: "warn"}
	for _, opt := range opts {
		opt(f)
	}

	m := &pion.MediaEngine{}
	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: opusPayloadType,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}

	i := &interceptor.Registry{}
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(generatorFactory)
	i.Add(responderFactory)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeAudio)
	if err := pion.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("configure rtcp reports: %w", err)
	}

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = parseLogLevel(f.logLevel)

	se := pion.SettingEngine{LoggerFactory: lf}
	// A brief NAT hiccup should not drop an established call.
	se.SetICETimeouts(15*time.Second, 60*time.Second, 2*time.Second)
	if f.net != nil {
		se.SetNet(f.net)
	}

	f.api = pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)
	return f, nil
}

// NewPeer creates a fresh peer connection with one sendrecv audio transceiver.
func (f *Factory) NewPeer() (domain.Peer, error) {
	var servers []pion.ICEServer
	if f.stunURL != "" {
		servers = append(servers, pion.ICEServer{URLs: []string{f.stunURL}})
	}

	pc, err := f.api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return newPeer(pc, f.recordPath, f.keepLoopback), nil
}

func parseLogLevel(level string) logging.LogLevel {
	switch strings.ToLower(level) {
	case "disabled", "off":
		return logging.LogLevelDisabled
	case "error":
		return logging.LogLevelError
	case "info":
		return logging.LogLevelInfo
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	default:
		return logging.LogLevelWarn
	}
}
