package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riotcore/riot/internal/auth"
	"github.com/riotcore/riot/internal/device"
	"github.com/riotcore/riot/internal/infrastructure/config"
	"github.com/riotcore/riot/internal/infrastructure/logging"
)

// fakeSession is a scripted Session fed by tests.
type fakeSession struct {
	messages chan Message
	errs     chan error
	closed   chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		messages: make(chan Message, 16),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (f *fakeSession) Messages() <-chan Message { return f.messages }
func (f *fakeSession) Errs() <-chan error       { return f.errs }
func (f *fakeSession) Close()                   { close(f.closed) }

// fakeResolver maps API keys to users.
type fakeResolver struct {
	users map[string]*auth.User
}

func (f *fakeResolver) ResolveAPIKey(_ context.Context, key string) (*auth.User, error) {
	if u, ok := f.users[key]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

// fakeDevices maps (uid, topic) to devices.
type fakeDevices struct {
	devices map[uint64]map[string]*device.Device
	touched []uint64
	mu      sync.Mutex
}

func (f *fakeDevices) GetByTopic(_ context.Context, uid uint64, topic string) (*device.Device, error) {
	if d, ok := f.devices[uid][topic]; ok {
		return d, nil
	}
	return nil, device.ErrNotFound
}

func (f *fakeDevices) TouchLastUpdate(_ context.Context, id uint64, _ time.Time) error {
	f.mu.Lock()
	f.touched = append(f.touched, id)
	f.mu.Unlock()
	return nil
}

// fakeRecords collects inserted records.
type fakeRecords struct {
	mu      sync.Mutex
	records []device.Record
	fail    bool
}

func (f *fakeRecords) Insert(_ context.Context, rec *device.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeRecords) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeRecords) all() []device.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]device.Record, len(f.records))
	copy(out, f.records)
	return out
}

// fakeCounters counts accepts and discards.
type fakeCounters struct {
	ingested  int
	discarded int
	mu        sync.Mutex
}

func (f *fakeCounters) RecordIngested() {
	f.mu.Lock()
	f.ingested++
	f.mu.Unlock()
}

func (f *fakeCounters) RecordDiscarded() {
	f.mu.Lock()
	f.discarded++
	f.mu.Unlock()
}

func (f *fakeCounters) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ingested, f.discarded
}

// testDaemon wires a daemon over fakes. alice owns topic "garden/temp"
// under key "alice-key"; bob owns "lab/ph" under "bob-key".
func testDaemon(dial Dialer) (*Daemon, *fakeRecords, *fakeCounters) {
	alice := &auth.User{ID: 1, Username: "alice", Activated: true}
	bob := &auth.User{ID: 2, Username: "bob", Activated: true}
	ghost := &auth.User{ID: 3, Username: "ghost"}

	resolver := &fakeResolver{users: map[string]*auth.User{
		"alice-key": alice,
		"bob-key":   bob,
		"ghost-key": ghost,
	}}
	devices := &fakeDevices{devices: map[uint64]map[string]*device.Device{
		1: {"garden/temp": {ID: 10, UID: 1, Topic: "garden/temp", Activated: true}},
		2: {
			"lab/ph":  {ID: 20, UID: 2, Topic: "lab/ph", Activated: true},
			"lab/off": {ID: 21, UID: 2, Topic: "lab/off", Activated: false},
		},
	}}
	records := &fakeRecords{}
	counters := &fakeCounters{}

	d := New(Deps{
		Dial:     dial,
		Config:   config.MQTT{Reconnect: config.MQTTReconnect{InitialDelay: 0, MaxDelay: 0}},
		Resolver: resolver,
		Devices:  devices,
		Records:  records,
		Counters: counters,
		Logger:   logging.Default(),
	})
	return d, records, counters
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDaemon_AcceptsAuthorizedMessage(t *testing.T) {
	session := newFakeSession()
	d, records, counters := testDaemon(func(config.MQTT) (Session, error) {
		return session, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx) //nolint:errcheck // exits on cancel

	session.messages <- Message{Topic: "alice-key/garden/temp", Payload: []byte("21.5")}

	waitFor(t, func() bool { return len(records.all()) == 1 })

	rec := records.all()[0]
	if rec.DID != 10 {
		t.Errorf("record device = %d, want 10", rec.DID)
	}
	if string(rec.Payload) != "21.5" {
		t.Errorf("payload = %q", rec.Payload)
	}
	if rec.Timestamp.IsZero() {
		t.Error("record has no server timestamp")
	}
	if in, _ := counters.counts(); in != 1 {
		t.Errorf("ingested = %d, want 1", in)
	}
}

func TestDaemon_Discards(t *testing.T) {
	tests := []struct {
		name  string
		topic string
	}{
		{"unknown api key", "stranger-key/garden/temp"},
		{"no topic remainder", "alice-key"},
		{"empty remainder", "alice-key/"},
		{"foreign device topic", "alice-key/lab/ph"}, // bob's topic under alice's key
		{"deactivated device", "bob-key/lab/off"},
		{"deactivated account", "ghost-key/garden/temp"},
		{"own key wrong topic", "alice-key/nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession()
			d, records, counters := testDaemon(func(config.MQTT) (Session, error) {
				return session, nil
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go d.Run(ctx) //nolint:errcheck // exits on cancel

			session.messages <- Message{Topic: tt.topic, Payload: []byte("x")}

			waitFor(t, func() bool {
				_, disc := counters.counts()
				return disc == 1
			})
			if len(records.all()) != 0 {
				t.Errorf("discarded message was stored: %+v", records.all())
			}
		})
	}
}

func TestDaemon_ReconnectsAndResumes(t *testing.T) {
	first := newFakeSession()
	second := newFakeSession()

	var dials int
	var mu sync.Mutex
	dial := func(config.MQTT) (Session, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}

	d, records, _ := testDaemon(dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx) //nolint:errcheck // exits on cancel

	first.messages <- Message{Topic: "alice-key/garden/temp", Payload: []byte("before")}
	waitFor(t, func() bool { return len(records.all()) == 1 })

	// Kill the first session; the daemon must dial a fresh one and
	// keep ingesting.
	first.errs <- ErrSessionClosed
	waitFor(t, func() bool {
		select {
		case <-first.closed:
			return true
		default:
			return false
		}
	})

	second.messages <- Message{Topic: "alice-key/garden/temp", Payload: []byte("after")}
	waitFor(t, func() bool { return len(records.all()) == 2 })

	if string(records.all()[1].Payload) != "after" {
		t.Errorf("post-reconnect payload = %q", records.all()[1].Payload)
	}
}

func TestDaemon_DialFailureRetries(t *testing.T) {
	session := newFakeSession()

	var dials int
	var mu sync.Mutex
	dial := func(config.MQTT) (Session, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials < 3 {
			return nil, errors.New("broker down")
		}
		return session, nil
	}

	d, records, _ := testDaemon(dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx) //nolint:errcheck // exits on cancel

	session.messages <- Message{Topic: "alice-key/garden/temp", Payload: []byte("x")}
	waitFor(t, func() bool { return len(records.all()) == 1 })

	mu.Lock()
	defer mu.Unlock()
	if dials != 3 {
		t.Errorf("dials = %d, want 3", dials)
	}
}

func TestDaemon_InsertFailureIsNonFatal(t *testing.T) {
	session := newFakeSession()
	d, records, counters := testDaemon(func(config.MQTT) (Session, error) {
		return session, nil
	})
	records.setFail(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx) //nolint:errcheck // exits on cancel

	session.messages <- Message{Topic: "alice-key/garden/temp", Payload: []byte("x")}
	waitFor(t, func() bool {
		_, disc := counters.counts()
		return disc == 1
	})

	// Daemon still alive: a later good message flows.
	records.setFail(false)
	session.messages <- Message{Topic: "alice-key/garden/temp", Payload: []byte("y")}
	waitFor(t, func() bool { return len(records.all()) == 1 })
}

func TestDaemon_CancelWhileDialingReturnsContextError(t *testing.T) {
	d, _, _ := testDaemon(func(config.MQTT) (Session, error) {
		return nil, errors.New("broker down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Cancel mid-backoff; Run must surface the bare context error, not
	// a wrapped dial failure.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled exactly", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestDaemon_StopsOnCancel(t *testing.T) {
	session := newFakeSession()
	d, _, _ := testDaemon(func(config.MQTT) (Session, error) {
		return session, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Let it connect, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
