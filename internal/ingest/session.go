package ingest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/riotcore/riot/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// subscribeQoS is the subscription QoS: exactly-once from the broker.
	subscribeQoS = 2

	// messageBuffer absorbs bursts between broker delivery and the
	// daemon's processing loop.
	messageBuffer = 256

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// ErrSessionClosed is delivered on Errs when the broker connection is
// lost. The session is dead afterwards; the daemon dials a new one.
var ErrSessionClosed = errors.New("ingest: session closed")

// Message is one inbound publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Session is a live subscription to the whole broker topic space.
//
// A session never recovers itself: when the connection drops, the
// failure arrives on Errs and the session is finished. Reconnect
// policy belongs to the daemon, not the transport.
type Session interface {
	// Messages delivers inbound publishes until the session ends.
	Messages() <-chan Message

	// Errs delivers the terminal session error.
	Errs() <-chan error

	// Close disconnects and releases the session.
	Close()
}

// Dialer opens sessions. The daemon takes one so tests can substitute
// scripted sessions for a live broker.
type Dialer func(cfg config.MQTT) (Session, error)

type pahoSession struct {
	client   pahomqtt.Client
	messages chan Message
	errs     chan error
	onDrop   func()
}

// Dial connects to the broker and subscribes to "#" at QoS 2.
//
// Each call uses a fresh randomized client ID so a lingering
// half-closed registration on the broker never collides with the new
// session. Paho's own auto-reconnect stays off: session loss must
// surface to the daemon.
func Dial(cfg config.MQTT) (Session, error) {
	return dial(cfg, nil)
}

// NewDialer returns a Dialer whose sessions report buffer-overflow
// drops through onDrop, so sustained overload shows up in the
// discard counters instead of vanishing.
func NewDialer(onDrop func()) Dialer {
	return func(cfg config.MQTT) (Session, error) {
		return dial(cfg, onDrop)
	}
}

func dial(cfg config.MQTT, onDrop func()) (Session, error) {
	s := &pahoSession{
		messages: make(chan Message, messageBuffer),
		errs:     make(chan error, 1),
		onDrop:   onDrop,
	}

	opts := buildClientOptions(cfg)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		select {
		case s.errs <- fmt.Errorf("%w: %w", ErrSessionClosed, err):
		default:
		}
	})

	s.client = pahomqtt.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("connecting to broker: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	subToken := s.client.Subscribe("#", subscribeQoS, func(_ pahomqtt.Client, m pahomqtt.Message) {
		s.enqueue(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if !subToken.WaitTimeout(defaultConnectTimeout) {
		s.client.Disconnect(defaultDisconnectQuiesce)
		return nil, fmt.Errorf("subscribing: timeout")
	}
	if err := subToken.Error(); err != nil {
		s.client.Disconnect(defaultDisconnectQuiesce)
		return nil, fmt.Errorf("subscribing: %w", err)
	}

	return s, nil
}

// enqueue hands one publish to the daemon without ever blocking the
// paho router. A full buffer drops the message and reports the drop.
func (s *pahoSession) enqueue(m Message) {
	select {
	case s.messages <- m:
	default:
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

func (s *pahoSession) Messages() <-chan Message { return s.messages }
func (s *pahoSession) Errs() <-chan error       { return s.errs }

func (s *pahoSession) Close() {
	s.client.Disconnect(defaultDisconnectQuiesce)
}

// buildClientOptions creates paho options from RIoT config.
func buildClientOptions(cfg config.MQTT) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(newClientID(cfg.Broker.ClientIDPrefix))

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Start fresh on every connect; the daemon re-reads nothing from
	// the broker and stale session state would only confuse QoS 2 flow.
	opts.SetCleanSession(true)

	// Reconnect is the daemon's job.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// newClientID returns "<prefix>-<uuid>".
func newClientID(prefix string) string {
	if prefix == "" {
		prefix = "riot-ingest"
	}
	return prefix + "-" + uuid.NewString()
}
