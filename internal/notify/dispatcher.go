package notify

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/metrics"
	"availability-engine/internal/models"
)

// DispatcherConfig sizes the delivery pipeline
type DispatcherConfig struct {
	Buffer  int
	Workers int
	Timeout time.Duration
}

// Dispatcher implements interfaces.Notifier. Events are queued per worker,
// sharded by listing so one listing's events reach each sink in order.
// A full queue drops the event.
type Dispatcher struct {
	sinks   []interfaces.ChangeSink
	queues  []chan models.AvailabilityChangeEvent
	timeout time.Duration
	metrics *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewDispatcher starts the worker goroutines. Close stops them.
func NewDispatcher(sinks []interfaces.ChangeSink, config DispatcherConfig, m *metrics.Metrics) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Buffer <= 0 {
		config.Buffer = 1024
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}

	perWorker := config.Buffer / config.Workers
	if perWorker == 0 {
		perWorker = 1
	}

	d := &Dispatcher{
		sinks:   sinks,
		queues:  make([]chan models.AvailabilityChangeEvent, config.Workers),
		timeout: config.Timeout,
		metrics: m,
	}
	for i := range d.queues {
		d.queues[i] = make(chan models.AvailabilityChangeEvent, perWorker)
		d.wg.Add(1)
		go d.worker(i, d.queues[i])
	}

	log.Info().
		Int("workers", config.Workers).
		Int("buffer", config.Buffer).
		Int("sinks", len(sinks)).
		Msg("Change notifier started")
	return d
}

// Notify enqueues event and returns immediately
func (d *Dispatcher) Notify(event models.AvailabilityChangeEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event)
		return
	}

	select {
	case d.queues[d.shard(event.ListingID)] <- event:
	default:
		d.drop(event)
	}
}

// Dropped returns how many events were discarded
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
	log.Info().Int64("dropped", d.dropped.Load()).Msg("Change notifier stopped")
}

func (d *Dispatcher) shard(listingID string) int {
	if len(d.queues) == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(listingID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) drop(event models.AvailabilityChangeEvent) {
	d.dropped.Add(1)
	d.metrics.ObserveDrop()
	log.Warn().
		Str("listing_id", event.ListingID).
		Str("kind", string(event.Kind)).
		Msg("Notifier queue full, dropping change event")
}

func (d *Dispatcher) worker(id int, queue <-chan models.AvailabilityChangeEvent) {
	defer d.wg.Done()
	for event := range queue {
		for _, sink := range d.sinks {
			d.deliver(sink, event)
		}
	}
	log.Debug().Int("worker", id).Msg("Notifier worker exited")
}

func (d *Dispatcher) deliver(sink interfaces.ChangeSink, event models.AvailabilityChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := sink.Publish(ctx, event)
	d.metrics.ObserveDelivery(sink.Name(), err)
	if err != nil {
		log.Warn().
			Err(err).
			Str("sink", sink.Name()).
			Str("listing_id", event.ListingID).
			Str("event_id", event.EventID).
			Msg("Failed to deliver change event")
	}
}
