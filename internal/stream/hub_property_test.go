package stream

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"marketpulse/internal/models"
)

// Property: every subscriber with enough buffer receives every snapshot
// published for its symbol, in order, and nothing for other symbols.
func TestProperty_AllSubscribersReceiveSnapshots(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"BTC", "ETH", "SOL", "ADA", "DOGE"}

	properties.Property("fast subscribers receive all snapshots in order", prop.ForAll(
		func(subscriberCount int, count int, symbolIdx int, basePrice float64) bool {
			symbol := symbols[symbolIdx]
			other := symbols[(symbolIdx+1)%len(symbols)]

			hub := NewHub(count)
			defer hub.Close()

			channels := make([]<-chan models.Snapshot, subscriberCount)
			for i := range channels {
				channels[i] = hub.Subscribe(symbol)
			}
			bystander := hub.Subscribe(other)

			for i := 0; i < count; i++ {
				hub.Publish(models.Snapshot{Symbol: symbol, Price: basePrice + float64(i)})
			}

			for _, ch := range channels {
				if len(ch) != count {
					return false
				}
				for i := 0; i < count; i++ {
					if snap := <-ch; snap.Price != basePrice+float64(i) {
						return false
					}
				}
			}
			if len(bystander) != 0 {
				return false
			}

			m := hub.Metrics()
			return m.Published == uint64(count) && m.Dropped == 0
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 20),
		gen.IntRange(0, len(symbols)-1),
		gen.Float64Range(1, 5000),
	))

	properties.TestingRun(t)
}

// Property: a slow subscriber never blocks publishing; overflow is dropped.
func TestProperty_SlowSubscriberDrops(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("publishing past the buffer drops the excess", prop.ForAll(
		func(buffer int, extra int) bool {
			hub := NewHub(buffer)
			defer hub.Close()

			ch := hub.Subscribe("BTC")
			for i := 0; i < buffer+extra; i++ {
				hub.Publish(models.Snapshot{Symbol: "BTC", Price: float64(i)})
			}

			return len(ch) == buffer && hub.Metrics().Dropped == uint64(extra)
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub(1)
	ch := hub.Subscribe("btc")
	if hub.SubscriberCount("BTC") != 1 {
		t.Fatalf("expected 1 subscriber")
	}

	hub.Unsubscribe("BTC", ch)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if hub.SubscriberCount("BTC") != 0 {
		t.Fatalf("expected no subscribers")
	}

	ch2 := hub.Subscribe("ETH")
	hub.Close()
	hub.Close()
	if _, ok := <-ch2; ok {
		t.Fatalf("expected closed channel after Close")
	}
	if _, ok := <-hub.Subscribe("ETH"); ok {
		t.Fatalf("expected closed channel after Close")
	}
}
