// Command governor runs the agent orchestrator: the event bus
// subscriber loop, poll sweep, stale-claim reaper, and the Worker HTTP
// API, all wired against a single Redis-backed Store.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/agentgovernor/governor/internal/api"
	"github.com/agentgovernor/governor/internal/bus"
	"github.com/agentgovernor/governor/internal/dispatch"
	"github.com/agentgovernor/governor/internal/evaluator"
	"github.com/agentgovernor/governor/internal/governor"
	"github.com/agentgovernor/governor/internal/platform"
	"github.com/agentgovernor/governor/internal/reaper"
	"github.com/agentgovernor/governor/internal/store"
	"github.com/agentgovernor/governor/internal/sweep"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	s := store.NewRedisStore(rdb)
	log.Printf("connected to Redis at %s", redisAddr)

	projects := splitCSV(getenv("GOVERNOR_PROJECTS", ""))
	authToken := os.Getenv("GOVERNOR_WORKER_AUTH_TOKEN")
	if authToken == "" {
		log.Fatal("GOVERNOR_WORKER_AUTH_TOKEN is required")
	}

	// The tracker REST/GraphQL client is a pluggable collaborator the
	// governor never constructs itself (spec §1): deployments wire in
	// their own platform.Adapter here. Fake with no seeded issues keeps
	// the process runnable standalone, with polling effectively inert
	// until a real adapter is substituted.
	adapter := platform.NewFake()

	eventBus := bus.New()
	dispatcher := dispatch.New(s)
	ev := evaluator.New(s, dispatcher, evaluator.DefaultConfig())

	var sweeper *sweep.Sweeper
	if getenv("GOVERNOR_ENABLE_POLLING", "true") == "true" && len(projects) > 0 {
		sweeper = sweep.New(s, eventBus, adapter, projects, getenvDuration("GOVERNOR_POLL_INTERVAL", sweep.DefaultInterval))
	}
	reap := reaper.New(s, dispatcher, reaper.DefaultInterval, reaper.DefaultGrace)

	gov := governor.New(eventBus, ev, sweeper, reap)

	// The rate limiter and circuit breaker guarding upstream tracker
	// calls (spec §6.1 rateLimit/breaker) live inside whatever
	// platform.Adapter a deployment supplies, not here; the governor
	// itself never calls the tracker directly.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := api.New(s, dispatcher, eventBus, adapter, authToken, nil)
	go a.Hub().Run(ctx)
	go gov.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(a, authToken))
	mux.Handle("/metrics", promhttp.Handler())

	addr := getenv("GOVERNOR_LISTEN_ADDR", ":8090")
	fmt.Println("==================================================")
	fmt.Println("AGENT GOVERNOR")
	fmt.Println("==================================================")
	fmt.Printf("Projects:          %s\n", strings.Join(projects, ", "))
	fmt.Printf("Polling enabled:   %v\n", sweeper != nil)
	fmt.Printf("Listen address:    %s\n", addr)
	fmt.Println("==================================================")

	log.Printf("governor: listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
