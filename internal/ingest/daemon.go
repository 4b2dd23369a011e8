package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/riotcore/riot/internal/auth"
	"github.com/riotcore/riot/internal/device"
	"github.com/riotcore/riot/internal/infrastructure/config"
	"github.com/riotcore/riot/internal/infrastructure/logging"
)

// Reconnect backoff bounds. The configured initial/max delays override
// these when set.
const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 60 * time.Second
)

// identityResolver authorizes an ingestion credential.
type identityResolver interface {
	ResolveAPIKey(ctx context.Context, key string) (*auth.User, error)
}

// deviceLookup finds the target device inside the owner's scope and
// stamps its activity time.
type deviceLookup interface {
	GetByTopic(ctx context.Context, uid uint64, topic string) (*device.Device, error)
	TouchLastUpdate(ctx context.Context, id uint64, at time.Time) error
}

// recordWriter persists accepted records.
type recordWriter interface {
	Insert(ctx context.Context, rec *device.Record) error
}

// counters tracks accept/discard totals.
type counters interface {
	RecordIngested()
	RecordDiscarded()
}

// Mirror receives a copy of every accepted record. Optional.
type Mirror interface {
	WriteRecord(deviceID, ownerID uint64, topic string, payload []byte, ts time.Time)
}

// Notifier is told about every accepted record. Optional; feeds the
// live stream endpoint.
type Notifier interface {
	NotifyRecord(ev Event)
}

// Event is the metadata published for each accepted record.
type Event struct {
	DeviceID  uint64    `json:"device_id"`
	OwnerID   uint64    `json:"owner_id"`
	Topic     string    `json:"topic"`
	Bytes     int       `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// Daemon consumes the broker's full topic space and turns authorized
// publishes into records.
//
// It alternates between exactly two states: connected (draining one
// session) and reconnecting (dialing a fresh one with backoff). Broker
// downtime means lost messages; the platform promises durability from
// acceptance onward, not transport-level delivery.
type Daemon struct {
	dial     Dialer
	cfg      config.MQTT
	resolver identityResolver
	devices  deviceLookup
	records  recordWriter
	counters counters
	mirror   Mirror
	notifier Notifier
	logger   *logging.Logger
}

// Deps carries the daemon's dependencies. Mirror and Notifier may be
// nil.
type Deps struct {
	Dial     Dialer
	Config   config.MQTT
	Resolver identityResolver
	Devices  deviceLookup
	Records  recordWriter
	Counters counters
	Mirror   Mirror
	Notifier Notifier
	Logger   *logging.Logger
}

// New creates a Daemon.
func New(deps Deps) *Daemon {
	return &Daemon{
		dial:     deps.Dial,
		cfg:      deps.Config,
		resolver: deps.Resolver,
		devices:  deps.Devices,
		records:  deps.Records,
		counters: deps.Counters,
		mirror:   deps.Mirror,
		notifier: deps.Notifier,
		logger:   deps.Logger.With("component", "ingest"),
	}
}

// Run drives the connect/serve loop until ctx is cancelled. It only
// ever returns ctx.Err(): session failures are absorbed by
// reconnecting, never fatal.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		session, err := d.connect(ctx)
		if err != nil {
			return err
		}
		d.logger.Info("session established")

		err = d.serve(ctx, session)
		session.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warn("session lost, reconnecting", "error", err)
	}
}

// connect dials with exponential backoff and jitter until a session
// comes up or ctx is cancelled. Every attempt carries a fresh client
// ID, baked into the Dialer.
func (d *Daemon) connect(ctx context.Context) (Session, error) {
	initial := defaultInitialDelay
	if d.cfg.Reconnect.InitialDelay > 0 {
		initial = time.Duration(d.cfg.Reconnect.InitialDelay) * time.Second
	}
	capDelay := defaultMaxDelay
	if d.cfg.Reconnect.MaxDelay > 0 {
		capDelay = time.Duration(d.cfg.Reconnect.MaxDelay) * time.Second
	}

	backoff := retry.NewExponential(initial)
	backoff = retry.WithCappedDuration(capDelay, backoff)
	backoff = retry.WithJitterPercent(10, backoff)

	// Every dial failure is retryable and the backoff never stops, so
	// retry.Do only ever returns nil or ctx.Err() — which keeps Run's
	// contract exact.
	var session Session
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := d.dial(d.cfg)
		if err != nil {
			d.logger.Warn("broker dial failed", "error", err)
			return retry.RetryableError(err)
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// serve drains one session until it errors or ctx is cancelled.
func (d *Daemon) serve(ctx context.Context, session Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-session.Errs():
			return err
		case msg := <-session.Messages():
			d.handle(ctx, msg)
		}
	}
}

// handle authorizes and persists one publish. Every rejection is a
// logged discard; nothing a device publishes can take the daemon down.
func (d *Daemon) handle(ctx context.Context, msg Message) {
	apiKey, rest, ok := strings.Cut(msg.Topic, "/")
	if !ok || apiKey == "" || rest == "" {
		d.discard("malformed topic", msg.Topic)
		return
	}

	owner, err := d.resolver.ResolveAPIKey(ctx, apiKey)
	if err != nil {
		d.discard("unknown api key", msg.Topic)
		return
	}
	if !owner.Activated {
		d.discard("account deactivated", msg.Topic)
		return
	}

	// Scoped to the key's owner: a topic guessed from another tenant
	// resolves to nothing.
	dev, err := d.devices.GetByTopic(ctx, owner.ID, rest)
	if err != nil {
		d.discard("no matching device", msg.Topic)
		return
	}
	if !dev.Activated {
		d.discard("device deactivated", msg.Topic)
		return
	}

	now := time.Now().UTC()
	rec := &device.Record{
		DID:       dev.ID,
		Payload:   msg.Payload,
		Timestamp: now,
	}
	if err := d.records.Insert(ctx, rec); err != nil {
		d.logger.Error("record insert failed", "topic", msg.Topic, "error", err)
		d.counters.RecordDiscarded()
		return
	}

	if err := d.devices.TouchLastUpdate(ctx, dev.ID, now); err != nil {
		d.logger.Warn("touching device failed", "device_id", dev.ID, "error", err)
	}

	d.counters.RecordIngested()

	if d.mirror != nil {
		d.mirror.WriteRecord(dev.ID, owner.ID, rest, msg.Payload, now)
	}
	if d.notifier != nil {
		d.notifier.NotifyRecord(Event{
			DeviceID:  dev.ID,
			OwnerID:   owner.ID,
			Topic:     rest,
			Bytes:     len(msg.Payload),
			Timestamp: now,
		})
	}
}

func (d *Daemon) discard(reason, topic string) {
	d.logger.Debug("discarding message", "reason", reason, "topic", topic)
	d.counters.RecordDiscarded()
}
