// The consumer maintains the Redis read mirror from the ride event stream,
// for deployments where the API process has no direct Redis access. It is
// idempotent with the API's own mirror writes: both upsert the same doc.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-lifecycle/internal/mirror"
	"github.com/example/ride-lifecycle/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total ride events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	mirrorUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_mirror_updates_total",
		Help: "Total successful mirror updates",
	})
	mirrorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_mirror_errors_total",
		Help: "Total mirror update errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, mirrorUpdates, mirrorErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "ride-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-mirror-consumer"
	}
	mirrorPrefix := os.Getenv("REDIS_MIRROR_KEY")
	if mirrorPrefix == "" {
		mirrorPrefix = "ride:mirror"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	updater := &redisMirrorUpdater{c: rc, prefix: mirrorPrefix}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var ev models.RideEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.Ride.ID == 0 {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}

		if err := updateMirrorWithRetry(ctx, updater, ev.Ride, 3, 200*time.Millisecond); err != nil {
			mirrorErrors.Inc()
			log.Printf("mirror update failed for ride=%d: %v", ev.Ride.ID, err)
			continue
		}
		mirrorUpdates.Inc()
	}
}

// MirrorUpdater is the small subset of mirror operations we need for tests
// and production.
type MirrorUpdater interface {
	Upsert(ctx context.Context, ride models.Ride) error
}

type redisMirrorUpdater struct {
	c      *redis.Client
	prefix string
}

func (r *redisMirrorUpdater) Upsert(ctx context.Context, ride models.Ride) error {
	key := fmt.Sprintf("%s:%d", r.prefix, ride.ID)
	return r.c.HSet(ctx, key, mirror.MirrorFields(ride)).Err()
}

// updateMirrorWithRetry upserts the mirror doc with retry/backoff.
func updateMirrorWithRetry(ctx context.Context, u MirrorUpdater, ride models.Ride, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		err := u.Upsert(ctx, ride)
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return nil
}
