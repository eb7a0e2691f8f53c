// Command loadgen left-pushes synthetic projector events onto the queue so
// the pipeline can be exercised without a real upstream producer. It is a
// standalone tool, never imported by internal/.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"

	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/eventqueue"
)

func main() {
	var (
		host    = flag.String("redis-host", "localhost", "redis host")
		port    = flag.String("redis-port", "6379", "redis port")
		queue   = flag.String("queue", "transactions", "queue list key")
		count   = flag.Int("count", 1000, "number of events to push")
		users   = flag.Int("users", 200, "size of the synthetic user pool")
		seed    = flag.Int64("seed", 1, "random seed")
		friendP = flag.Float64("friend-ratio", 0.5, "fraction of AddFriend (vs Unfriend) events among non-register, non-referral events")
	)
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	client := eventqueue.New(eventqueue.Config{Host: *host, Port: *port})

	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer client.Close()

	pool := make([]string, *users)
	for i := range pool {
		pool[i] = fmt.Sprintf("user-%04d", i)
	}

	pushed := 0
	for pushed < *count {
		var payload map[string]interface{}

		switch {
		case pushed < len(pool):
			payload = map[string]interface{}{"type": "register", "name": pool[pushed]}
		case rng.Float64() < 0.1:
			referrer := pool[rng.Intn(len(pool))]
			referred := pool[rng.Intn(len(pool))]
			payload = map[string]interface{}{"type": "referral", "referredBy": referrer, "user": referred}
		case rng.Float64() < *friendP:
			payload = map[string]interface{}{
				"type":       "addfriend",
				"user1_name": pool[rng.Intn(len(pool))],
				"user2_name": pool[rng.Intn(len(pool))],
			}
		default:
			payload = map[string]interface{}{
				"type":       "unfriend",
				"user1_name": pool[rng.Intn(len(pool))],
				"user2_name": pool[rng.Intn(len(pool))],
			}
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			log.Fatalf("marshal payload: %v", err)
		}
		if err := client.Push(ctx, *queue, string(raw)); err != nil {
			log.Fatalf("push event: %v", err)
		}
		pushed++
	}

	log.Printf("pushed %d events onto %q", pushed, *queue)
}
