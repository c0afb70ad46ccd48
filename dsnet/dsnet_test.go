package dsnet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/distcodep7/dsgate/controller"
	"github.com/distcodep7/dsgate/gate"
	"github.com/distcodep7/dsgate/testing/disttest"
	"github.com/distcodep7/dsgate/testing/harness"
	"github.com/distcodep7/dsgate/testing/predicates"
	"github.com/distcodep7/dsgate/testutils"
	"github.com/distcodep7/dsgate/trace"
	"github.com/distcodep7/dsgate/workload"
)

func TestMain(m *testing.M) {
	disttest.Main(m)
}

func connectNodesConcurrently(t *testing.T, addr string, props NodeProps, n int) []*Node {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nodes := make([]*Node, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nodes[i], errs[i] = NewNode(ctx, gate.PeerID(i), addr, props)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("failed to connect N%d: %v", i, err)
		}
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			n.Close()
		}
	})
	return nodes
}

func recvWithin(t *testing.T, n *Node, d time.Duration) gate.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	msg, err := n.Recv(ctx)
	if err != nil {
		t.Fatalf("N%d recv: %v", n.ID, err)
	}
	return msg
}

func TestClientMessaging(t *testing.T) {
	disttest.Wrap(t, func(t *testing.T) {
		_, addr := testutils.StartTestServer(t, controller.ControllerProps{})
		nodes := connectNodesConcurrently(t, addr, NodeProps{}, 2)
		a, b := nodes[0], nodes[1]
		ctx := context.Background()

		if err := a.Send(ctx, 1, gate.Message{Kind: gate.KindRequest, Direction: gate.DirB, Timestamp: 3}); err != nil {
			t.Fatalf("send A->B: %v", err)
		}
		if err := b.Send(ctx, 0, gate.Message{Kind: gate.KindAck, Timestamp: 5}); err != nil {
			t.Fatalf("send B->A: %v", err)
		}

		got := recvWithin(t, b, 2*time.Second)
		want := gate.Message{From: 0, Kind: gate.KindRequest, Direction: gate.DirB, Timestamp: 3}
		if got != want {
			t.Errorf("N1 got %v, want %v", got, want)
		}
		got = recvWithin(t, a, 2*time.Second)
		if got.From != 1 || got.Kind != gate.KindAck || got.Timestamp != 5 {
			t.Errorf("N0 got %v", got)
		}
	})
}

func TestPerSenderOrder(t *testing.T) {
	disttest.Wrap(t, func(t *testing.T) {
		_, addr := testutils.StartTestServer(t, controller.ControllerProps{
			Jitter: controller.JitterConfig{Prob: 0.5, MaxDelay: 2 * time.Millisecond, Seed: 7},
		})
		nodes := connectNodesConcurrently(t, addr, NodeProps{}, 3)
		ctx := context.Background()

		const perSender = 20
		var wg sync.WaitGroup
		for _, sender := range nodes[:2] {
			wg.Add(1)
			go func(s *Node) {
				defer wg.Done()
				for ts := uint64(1); ts <= perSender; ts++ {
					if err := s.Send(ctx, 2, gate.Message{Kind: gate.KindAck, Timestamp: ts}); err != nil {
						t.Errorf("N%d send: %v", s.ID, err)
						return
					}
				}
			}(sender)
		}
		wg.Wait()

		last := map[gate.PeerID]uint64{}
		for i := 0; i < 2*perSender; i++ {
			msg := recvWithin(t, nodes[2], 2*time.Second)
			if msg.Timestamp != last[msg.From]+1 {
				t.Fatalf("from N%d: got t%d after t%d", msg.From, msg.Timestamp, last[msg.From])
			}
			last[msg.From] = msg.Timestamp
		}
	})
}

func TestHeldUntilRegistered(t *testing.T) {
	disttest.Wrap(t, func(t *testing.T) {
		ctrl, addr := testutils.StartTestServer(t, controller.ControllerProps{})
		h := harness.New(ctrl, 0)
		defer h.Close()

		first := connectNodesConcurrently(t, addr, NodeProps{}, 1)[0]
		ctx := context.Background()
		if err := first.Send(ctx, 1, gate.Message{Kind: gate.KindRequest, Direction: gate.DirA, Timestamp: 1}); err != nil {
			t.Fatalf("send: %v", err)
		}
		held := h.WaitFor(ctx, 2*time.Second, func(o *harness.Observation) bool {
			return o.Kind == trace.EvtTypeBuffer && o.To == "N1"
		})
		if held == nil {
			t.Fatalf("expected the envelope to be held for N1")
		}

		late, err := NewNode(ctx, 1, addr, NodeProps{})
		if err != nil {
			t.Fatalf("connect N1: %v", err)
		}
		defer late.Close()
		msg := recvWithin(t, late, 2*time.Second)
		if msg.From != 0 || msg.Kind != gate.KindRequest {
			t.Fatalf("unexpected %v", msg)
		}
	})
}

func TestRecvAfterClose(t *testing.T) {
	disttest.Wrap(t, func(t *testing.T) {
		_, addr := testutils.StartTestServer(t, controller.ControllerProps{})
		n := connectNodesConcurrently(t, addr, NodeProps{}, 1)[0]
		if err := n.Close(); err != nil {
			t.Logf("close: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := n.Recv(ctx); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	})
}

func TestConnectTimesOutWithoutController(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := NewNode(ctx, 0, "127.0.0.1:1", NodeProps{}); err == nil {
		t.Fatalf("expected connect to fail")
	}
}

func TestDuplicateIDFailsFast(t *testing.T) {
	disttest.Wrap(t, func(t *testing.T) {
		_, addr := testutils.StartTestServer(t, controller.ControllerProps{})
		connectNodesConcurrently(t, addr, NodeProps{}, 1)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		start := time.Now()
		if _, err := NewNode(ctx, 0, addr, NodeProps{}); err == nil {
			t.Fatalf("expected a duplicate id to be rejected")
		}
		if ctx.Err() != nil {
			t.Fatalf("rejection waited for the context deadline")
		}
		if d := time.Since(start); d > 2*time.Second {
			t.Fatalf("rejection took %v", d)
		}
	})
}

// A full protocol run over the relay, checked both by the bridge monitor and
// by the relay trace.
func TestGateOverRelay(t *testing.T) {
	disttest.Wrap(t, func(t *testing.T) {
		store, err := trace.OpenInMemory()
		if err != nil {
			t.Fatalf("open trace store: %v", err)
		}
		t.Cleanup(func() { store.Close() })

		ctrl, addr := testutils.StartTestServer(t, controller.ControllerProps{
			Recorder: store,
			Jitter:   controller.JitterConfig{Prob: 0.2, MaxDelay: time.Millisecond, Seed: 3},
		})
		h := harness.New(ctrl, 0)

		const peers, rounds = 4, 4
		cfg := gate.DefaultConfig(peers)
		nodes := connectNodesConcurrently(t, addr, NodeProps{Recorder: store}, peers)
		cs := testutils.NewCriticalSection(cfg.Batch)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		var wg sync.WaitGroup
		errs := make([]error, peers)
		for i, n := range nodes {
			e, err := gate.New(gate.PeerID(i), n, cfg)
			if err != nil {
				t.Fatalf("engine %d: %v", i, err)
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = workload.Run(ctx, e, workload.Config{
					Rounds:  rounds,
					Idle:    2 * time.Millisecond,
					Work:    time.Millisecond,
					Seed:    int64(i),
					Section: cs,
				})
			}(i)
		}
		wg.Wait()
		for i, err := range errs {
			if err != nil {
				t.Fatalf("peer %d: %v", i, err)
			}
		}
		for _, f := range cs.Faults() {
			t.Errorf("safety: %v", f)
		}

		// The first peer to finish reaches everyone.
		if h.WaitFor(ctx, 2*time.Second, harness.Forwarded(gate.KindTerminate.String())) == nil {
			t.Errorf("no %s relayed", gate.KindTerminate)
		}
		h.Close()
		obs := h.SnapshotTrace()

		if err := predicates.ClockMonotonic(obs); err != nil {
			t.Errorf("clock: %v", err)
		}
		if err := predicates.AcksAnswerRequests(obs, false); err != nil {
			t.Errorf("acks: %v", err)
		}
		if err := predicates.RoundsAlternate(obs); err != nil {
			t.Errorf("rounds: %v", err)
		}
		counts := predicates.KindCounts(obs)
		if counts[gate.KindRequest] < rounds*(peers-1) {
			t.Errorf("too few requests relayed: %v", counts)
		}

		events, err := store.Events()
		if err != nil {
			t.Fatalf("read trace: %v", err)
		}
		var sends, recvs int
		for _, ev := range events {
			switch ev.EvtType {
			case trace.EvtTypeSend:
				sends++
			case trace.EvtTypeRecv:
				recvs++
			}
		}
		if sends == 0 || recvs == 0 || recvs > sends {
			t.Errorf("unexpected node trace: %d sends, %d receives", sends, recvs)
		}
	})
}
