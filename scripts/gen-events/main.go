// Command gen-events produces a synthetic NDJSON event stream for exercising
// the engine: IDENTIFY events establishing traits and identities, TRACK
// events with realistic feature usage, ALIAS merges, plus a configurable dose
// of duplicates and stragglers.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/luminal-data/luminal/pkg/event"
)

func main() {
	var (
		users      = flag.Int("users", 50, "number of distinct users")
		perUser    = flag.Int("events", 20, "events per user")
		seed       = flag.Int64("seed", 1, "random seed")
		dupRate    = flag.Float64("dup-rate", 0.02, "fraction of events repeated with the same eventId")
		lateRate   = flag.Float64("late-rate", 0.05, "fraction of events emitted out of order")
		start      = flag.String("start", "2024-03-01T10:00:00Z", "stream start timestamp (RFC 3339)")
		outputPath = flag.String("o", "-", "output file ('-' for stdout)")
	)

	flag.Parse()

	startTs, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		log.Fatalf("parse start: %v", err)
	}

	out := os.Stdout

	if *outputPath != "-" {
		f, createErr := os.Create(*outputPath)
		if createErr != nil {
			log.Fatalf("create output: %v", createErr)
		}

		defer f.Close()

		out = f
	}

	rng := rand.New(rand.NewSource(*seed))
	encoder := json.NewEncoder(out)
	seq := 0

	emit := func(ev event.Event) {
		if encodeErr := encoder.Encode(ev); encodeErr != nil {
			log.Fatalf("encode event: %v", encodeErr)
		}
	}

	nextID := func() string {
		seq++

		return fmt.Sprintf("e-%06d", seq)
	}

	featureNames := []string{"Feature Used", "Page View", "Report Exported", "Invite Sent"}
	plans := []string{"free", "basic", "pro"}

	ts := startTs

	for u := range *users {
		userID := fmt.Sprintf("u-%04d", u)
		anonID := fmt.Sprintf("a-%04d", u)

		// Anonymous activity first, then an identify that links the ids.
		emit(event.Event{
			EventID: nextID(), Ts: ts, Type: event.TypeTrack,
			AnonymousID: anonID, Name: "Page View",
		})

		ts = ts.Add(time.Duration(rng.Intn(5)+1) * time.Second)

		emit(event.Event{
			EventID: nextID(), Ts: ts, Type: event.TypeIdentify,
			UserID: userID, AnonymousID: anonID,
			Traits: map[string]any{"plan": plans[rng.Intn(len(plans))]},
		})

		for range *perUser {
			ts = ts.Add(time.Duration(rng.Intn(10)+1) * time.Second)

			ev := event.Event{
				EventID: nextID(), Ts: ts, Type: event.TypeTrack,
				UserID: userID, Name: featureNames[rng.Intn(len(featureNames))],
				Properties: map[string]any{"session": rng.Intn(1000)},
			}

			if rng.Float64() < *lateRate {
				ev.Ts = ts.Add(-time.Duration(rng.Intn(30)+1) * time.Second)
			}

			emit(ev)

			if rng.Float64() < *dupRate {
				emit(ev)
			}
		}
	}
}
