package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/mirror"
)

type published struct {
	subject string
	data    []byte
}

type fakeJetStream struct {
	mu   sync.Mutex
	msgs []published
	fail bool
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("no responders")
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.msgs))}, nil
}

func (f *fakeJetStream) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.subject
	}
	return out
}

func waitForCount(t *testing.T, f *fakeJetStream, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(f.subjects()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d messages, got %v", n, f.subjects())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishChangeEvent(t *testing.T) {
	js := &fakeJetStream{}
	p := NewPublisher(js, "test", 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	var s mirror.State
	s.Price = fixed.MustParse("200")
	p.Listen(mirror.Notification{New: s, Fields: mirror.FieldSet{mirror.FieldPrice}})

	waitForCount(t, js, 1)
	if got := js.subjects(); got[0] != "test.events.changes" {
		t.Errorf("subject = %s", got[0])
	}

	var event ChangeEvent
	js.mu.Lock()
	err := json.Unmarshal(js.msgs[0].data, &event)
	js.mu.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	if len(event.Fields) != 1 || event.Fields[0] != "price" {
		t.Errorf("fields = %v", event.Fields)
	}
	if !event.State.Price.Eq(fixed.MustParse("200")) {
		t.Errorf("price = %s", event.State.Price)
	}
}

func TestPublishAlerts(t *testing.T) {
	js := &fakeJetStream{}
	p := NewPublisher(js, "", 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	var s mirror.State
	s.RecoveryMode = true
	s.HaveUndercollateralizedVaults = true
	p.Listen(mirror.Notification{New: s, Fields: mirror.FieldSet{
		mirror.FieldRecoveryMode, mirror.FieldHaveUndercollateralizedVaults,
	}})

	waitForCount(t, js, 3)
	want := []string{
		"vaultmirror.events.changes",
		"vaultmirror.events.recovery_mode",
		"vaultmirror.events.undercollateralized",
	}
	for i, subject := range js.subjects() {
		if subject != want[i] {
			t.Errorf("subject %d = %s, want %s", i, subject, want[i])
		}
	}
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	js := &fakeJetStream{fail: true}
	p := NewPublisher(js, "", 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Listen(mirror.Notification{Fields: mirror.FieldSet{mirror.FieldPrice}})
	time.Sleep(20 * time.Millisecond)

	js.mu.Lock()
	js.fail = false
	js.mu.Unlock()
	p.Listen(mirror.Notification{Fields: mirror.FieldSet{mirror.FieldPrice}})
	waitForCount(t, js, 1)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}
