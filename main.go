package main

import (
	"flag"
	"log"
	"time"

	"github.com/distcodep7/dsgate/controller"
	"github.com/distcodep7/dsgate/trace"
)

func main() {
	addr := flag.String("addr", ":50051", "Address to listen on")
	traceDir := flag.String("trace", "", "Directory of the badger trace store; empty disables tracing")
	jitterProb := flag.Float64("jitter", 0, "Probability of delaying a forwarded envelope")
	jitterMax := flag.Duration("jitter-max", 5*time.Millisecond, "Upper bound of a forwarding delay")
	seed := flag.Int64("seed", 0, "Seed of the jitter generator; 0 picks one")
	flag.Parse()

	props := controller.ControllerProps{
		Logger: log.Default(),
		Jitter: controller.JitterConfig{Prob: *jitterProb, MaxDelay: *jitterMax, Seed: *seed},
	}
	if *traceDir != "" {
		store, err := trace.Open(*traceDir)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close()
		props.Recorder = store
	}

	log.Println("DSGate controller ready")
	if err := controller.Serve(*addr, props); err != nil {
		log.Fatal(err)
	}
}
