// Command gatenode runs one peer of the gate protocol against a relay
// controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distcodep7/dsgate/dsnet"
	"github.com/distcodep7/dsgate/gate"
	"github.com/distcodep7/dsgate/trace"
	"github.com/distcodep7/dsgate/workload"
)

type options struct {
	addr, initial, order, flip, dir, traceDir string
	id, n, y, rounds                          int
	deferAcks                                 bool
	idle, work                                time.Duration
	seed                                      int64
}

func main() {
	var o options
	flag.StringVar(&o.addr, "addr", "localhost:50051", "Controller address")
	flag.IntVar(&o.id, "id", 0, "Peer id in 0..n-1")
	flag.IntVar(&o.n, "n", 3, "Number of peers")
	flag.IntVar(&o.y, "y", gate.DefaultBatch, "Batch bound per gate opening")
	flag.StringVar(&o.initial, "gate", "A", "Initial gate direction")
	flag.StringVar(&o.order, "order", "timestamp", "Queue ordering: timestamp or arrival")
	flag.StringVar(&o.flip, "flip", "drain", "Gate flip policy: drain or release (release stalls, kept for comparison)")
	flag.BoolVar(&o.deferAcks, "defer", true, "Send withheld acks on leave")
	flag.IntVar(&o.rounds, "rounds", 5, "Number of crossings")
	flag.DurationVar(&o.idle, "idle", 500*time.Millisecond, "Upper bound of the idle phase")
	flag.DurationVar(&o.work, "work", 200*time.Millisecond, "Upper bound of the crossing")
	flag.StringVar(&o.dir, "dir", "", "Always cross in this direction; empty picks at random")
	flag.Int64Var(&o.seed, "seed", time.Now().UnixNano(), "Workload seed")
	flag.StringVar(&o.traceDir, "trace", "", "Directory of a badger store for SEND/RECV events")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.Ltime|log.Lmicroseconds)
	if err := run(logger, o); err != nil {
		log.Fatal(err)
	}
}

func run(logger *log.Logger, o options) error {
	cfg := gate.DefaultConfig(o.n)
	cfg.Batch = o.y
	cfg.DeferAcks = o.deferAcks
	cfg.Logger = logger

	var err error
	if cfg.InitialGate, err = gate.ParseDirection(o.initial); err != nil {
		return err
	}
	if cfg.Order, err = gate.ParseOrdering(o.order); err != nil {
		return err
	}
	if cfg.Flip, err = gate.ParseFlipPolicy(o.flip); err != nil {
		return err
	}

	wl := workload.Config{Rounds: o.rounds, Idle: o.idle, Work: o.work, Seed: o.seed, Logger: logger}
	if o.dir != "" {
		d, err := gate.ParseDirection(o.dir)
		if err != nil {
			return err
		}
		wl.Direction = func(int) gate.Direction { return d }
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	props := dsnet.NodeProps{Logger: logger}
	if o.traceDir != "" {
		store, err := trace.Open(o.traceDir)
		if err != nil {
			return err
		}
		defer store.Close()
		props.Recorder = store
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	node, err := dsnet.NewNode(connectCtx, gate.PeerID(o.id), o.addr, props)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", o.addr, err)
	}
	defer node.Close()

	e, err := gate.New(gate.PeerID(o.id), node, cfg)
	if err != nil {
		return err
	}
	stats, err := workload.Run(ctx, e, wl)
	if err != nil {
		return err
	}
	logger.Printf("[%d] done: %d rounds, max wait %v, total wait %v", o.id, stats.Rounds, stats.MaxWait, stats.Total)
	return nil
}
