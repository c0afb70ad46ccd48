package controller

import (
	"math/rand"
	"testing"
	"time"

	"github.com/distcodep7/dsgate/trace"
	"github.com/distcodep7/dsgate/wire"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

// fakeSender implements sender and captures sent messages
type fakeSender struct {
	sendCh chan *structpb.Struct
}

func newFakeSender() *fakeSender {
	return &fakeSender{sendCh: make(chan *structpb.Struct, 16)}
}

func (f *fakeSender) Send(msg *structpb.Struct) error {
	f.sendCh <- msg
	return nil
}

func (f *fakeSender) next(t *testing.T) *wire.Envelope {
	t.Helper()
	select {
	case msg := <-f.sendCh:
		env, err := wire.Decode(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a sent message")
		return nil
	}
}

func (f *fakeSender) expectEmpty(t *testing.T) {
	t.Helper()
	select {
	case msg := <-f.sendCh:
		t.Fatalf("unexpected message %v", msg.AsMap())
	default:
	}
}

type memRecorder struct {
	events []trace.Event
}

func (m *memRecorder) Append(ev trace.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func protoEnvelope(t *testing.T, from, to, typ string, ts uint64) (*wire.Envelope, *structpb.Struct) {
	t.Helper()
	env := wire.Control(from, to, typ)
	env.Timestamp = ts
	env.Direction = "A"
	msg, err := wire.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return env, msg
}

func TestRegisterAcknowledgesHandshake(t *testing.T) {
	s := NewServer(ControllerProps{})
	fs := newFakeSender()

	if err := s.register("N0", fs); err != nil {
		t.Fatalf("register: %v", err)
	}
	got := fs.next(t)
	if got.Type != wire.TypeRegistered || got.To != "N0" || got.From != wire.ControllerName {
		t.Fatalf("unexpected ack %+v", got)
	}

	if err := s.register("N0", newFakeSender()); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if _, ok := s.nodes["N0"]; !ok {
		t.Fatalf("duplicate registration must not evict the first node")
	}
}

func TestForwardKeepsSenderOrder(t *testing.T) {
	s := NewServer(ControllerProps{})
	fs := newFakeSender()
	if err := s.register("N1", fs); err != nil {
		t.Fatalf("register: %v", err)
	}
	fs.next(t) // REGISTERED

	for ts := uint64(1); ts <= 5; ts++ {
		env, msg := protoEnvelope(t, "N0", "N1", "REQUEST", ts)
		s.forward(env, msg)
	}
	for ts := uint64(1); ts <= 5; ts++ {
		got := fs.next(t)
		if got.Timestamp != ts {
			t.Fatalf("got t%d, expected t%d", got.Timestamp, ts)
		}
	}
	fs.expectEmpty(t)
}

func TestHeldEnvelopesFlushOnRegister(t *testing.T) {
	rec := &memRecorder{}
	s := NewServer(ControllerProps{Recorder: rec})

	for ts := uint64(1); ts <= 3; ts++ {
		env, msg := protoEnvelope(t, "N0", "N2", "ACK", ts)
		s.forward(env, msg)
	}
	if len(s.pending["N2"]) != 3 {
		t.Fatalf("expected 3 held envelopes, got %d", len(s.pending["N2"]))
	}

	fs := newFakeSender()
	if err := s.register("N2", fs); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := fs.next(t); got.Type != wire.TypeRegistered {
		t.Fatalf("REGISTERED must come first, got %s", got.Type)
	}
	for ts := uint64(1); ts <= 3; ts++ {
		if got := fs.next(t); got.Timestamp != ts || got.Type != "ACK" {
			t.Fatalf("unexpected flushed envelope %+v", got)
		}
	}
	if _, ok := s.pending["N2"]; ok {
		t.Fatalf("pending entry should be cleared after flush")
	}

	var kinds []trace.EvtType
	for _, ev := range rec.events {
		kinds = append(kinds, ev.EvtType)
	}
	want := []trace.EvtType{trace.EvtTypeBuffer, trace.EvtTypeBuffer, trace.EvtTypeBuffer, trace.EvtTypeRegister}
	if len(kinds) != len(want) {
		t.Fatalf("recorded %v, expected %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("recorded %v, expected %v", kinds, want)
		}
	}
}

func TestObserversSeeEvents(t *testing.T) {
	s := NewServer(ControllerProps{})
	obs := make(chan *Event, 8)
	s.RegisterObserver(obs)

	fs := newFakeSender()
	if err := s.register("N1", fs); err != nil {
		t.Fatalf("register: %v", err)
	}
	env, msg := protoEnvelope(t, "N0", "N1", "RELEASE", 7)
	s.forward(env, msg)
	s.removeNode("N1")

	expect := []trace.EvtType{trace.EvtTypeRegister, trace.EvtTypeForward, trace.EvtTypeDisconnect}
	for _, k := range expect {
		select {
		case ev := <-obs:
			if ev.Kind != k {
				t.Fatalf("got %s event, expected %s", ev.Kind, k)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", k)
		}
	}

	s.UnregisterObserver(obs)
	s.removeNode("N1")
	if err := s.register("N1", newFakeSender()); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	select {
	case ev := <-obs:
		t.Fatalf("unregistered observer got %s", ev.Kind)
	default:
	}
}

func TestFullObserverDoesNotBlock(t *testing.T) {
	s := NewServer(ControllerProps{})
	obs := make(chan *Event) // never read
	s.RegisterObserver(obs)

	done := make(chan struct{})
	go func() {
		s.register("N0", newFakeSender())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("register blocked on a full observer")
	}
}

func newTestJitter(cfg JitterConfig) *jitter {
	return &jitter{cfg: cfg, rng: rand.New(rand.NewSource(1))}
}

// Deterministic RNG so the expected values are stable.
func TestProbCheck(t *testing.T) {
	j := newTestJitter(JitterConfig{})
	if j.probCheck(0) {
		t.Fatalf("expected probCheck(0) = false")
	}

	j = newTestJitter(JitterConfig{})
	if !j.probCheck(1) {
		t.Fatalf("expected probCheck(1) = true")
	}

	r := rand.New(rand.NewSource(1)).Float64()
	j = newTestJitter(JitterConfig{})
	p := 0.7
	if got := j.probCheck(p); got != (r < p) {
		t.Fatalf("probCheck(%v) = %v, expected %v (r=%v)", p, got, r < p, r)
	}
}

func TestRandDuration(t *testing.T) {
	tests := []struct {
		name     string
		min, max time.Duration
	}{
		{"degenerate", 5 * time.Millisecond, 5 * time.Millisecond},
		{"inverted", 5 * time.Millisecond, time.Millisecond},
		{"range", time.Millisecond, 10 * time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j := newTestJitter(JitterConfig{})
			for i := 0; i < 100; i++ {
				d := j.randDuration(tc.min, tc.max)
				if d < tc.min || (tc.max > tc.min && d > tc.max) {
					t.Fatalf("randDuration(%v, %v) = %v", tc.min, tc.max, d)
				}
			}
		})
	}
}

func TestDelayDisabled(t *testing.T) {
	var nilJitter *jitter
	if d := nilJitter.delay(); d != 0 {
		t.Fatalf("nil jitter delayed %v", d)
	}
	j := newTestJitter(JitterConfig{Prob: 0, MaxDelay: time.Second})
	for i := 0; i < 10; i++ {
		if d := j.delay(); d != 0 {
			t.Fatalf("zero probability delayed %v", d)
		}
	}
	j = newTestJitter(JitterConfig{Prob: 1, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	if d := j.delay(); d < time.Millisecond || d > 2*time.Millisecond {
		t.Fatalf("delay out of range: %v", d)
	}
}
