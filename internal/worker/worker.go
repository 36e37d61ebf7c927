package worker

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/recipeworks/recipeforge/internal/pipeline"
	"github.com/recipeworks/recipeforge/internal/store/rabbitmq"
)

// Concurrency reads WORKER_CONCURRENCY with sane bounds.
func Concurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

// Handle is an explicit reference to one running consumer pool. Callers
// hold it for status checks and shutdown; there is no process-wide
// singleton, so tests can run several independent instances.
type Handle struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	done    chan struct{}
}

// Config wires a Handle to its queue and orchestrator.
type Config struct {
	RabbitURL   string
	Queue       string
	Concurrency int
	Orch        *pipeline.Orchestrator
}

// Start connects, declares topology and launches the consumer pool. It
// returns once consumption is live.
func Start(parent context.Context, cfg Config) (*Handle, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := rabbitmq.DeclareTopology(ch, cfg.Queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	msgs, err := ch.Consume(cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Handle{conn: conn, ch: ch, cancel: cancel, done: make(chan struct{})}
	h.running.Store(true)

	jobs := make(chan amqp.Delivery, cfg.Concurrency*2)

	h.wg.Add(cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		go func(workerID int) {
			defer h.wg.Done()
			for d := range jobs {
				handleDelivery(ctx, cfg.Orch, workerID, d)
			}
		}(i)
	}

	// dispatcher
	go func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				close(jobs)
				h.wg.Wait()
				h.running.Store(false)
				return
			case d, ok := <-msgs:
				if !ok {
					log.Printf("worker: delivery channel closed")
					close(jobs)
					h.wg.Wait()
					h.running.Store(false)
					return
				}
				jobs <- d
			}
		}
	}()

	log.Printf("worker: started queue=%s concurrency=%d", cfg.Queue, cfg.Concurrency)
	return h, nil
}

// IsRunning reports whether the pool is still consuming.
func (h *Handle) IsRunning() bool {
	return h.running.Load()
}

// Shutdown stops consumption and waits for in-flight runs, bounded by ctx.
func (h *Handle) Shutdown(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	_ = h.ch.Close()
	return h.conn.Close()
}

func handleDelivery(ctx context.Context, orch *pipeline.Orchestrator, workerID int, d amqp.Delivery) {
	var msg rabbitmq.RunMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.WorkItemID == "" {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	result := orch.ExecutePipeline(ctx, pipeline.RunRequest{
		WorkItemID: msg.WorkItemID,
		Trigger:    pipeline.Trigger(msg.Trigger),
	})

	if !result.Success {
		log.Printf("worker=%d item=%s failed stage=%s cost=%s err=%s",
			workerID, msg.WorkItemID, result.Stage, time.Since(start), result.Error)
		// The failure is already persisted on the work item; retries go
		// through the checkpoint reset, not through redelivery.
		_ = d.Ack(false)
		return
	}

	log.Printf("worker=%d item=%s published recipe=%s cost=%s",
		workerID, msg.WorkItemID, result.RecipeID, time.Since(start))
	if err := d.Ack(false); err != nil {
		log.Printf("worker=%d ack failed item=%s err=%v", workerID, msg.WorkItemID, err)
	}
}
