package notify

/*
Файл dispatcher.go — асинхронная доставка уведомлений.

Publish никогда не блокирует обработку запроса: событие кладется в
буферизованный канал, при переполнении отбрасывается с записью в лог.
Единственный воркер рассылает события по всем sink'ам. Stop закрывает
вход и дожидается, пока воркер вычитает очередь до конца.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink — адресат уведомлений (webhook, Redis Pub/Sub).
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Publisher — то, что нужно шлюзу от диспетчера.
type Publisher interface {
	Publish(ev Event)
}

const DefaultBufferSize = 256

// sendTimeout ограничивает доставку одного события одному sink'у.
var sendTimeout = 10 * time.Second

type Dispatcher struct {
	ch     chan Event
	sinks  []Sink
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(bufferSize int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Dispatcher{
		ch:     make(chan Event, bufferSize),
		sinks:  sinks,
		logger: logger.Named("notify"),
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.worker()
}

// Stop запирает вход и ждет, пока воркер всё доставит.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()

	d.logger.Info("stopping notifier: draining queue...")
	d.wg.Wait()
	d.logger.Info("notifier stopped gracefully")
}

func (d *Dispatcher) Publish(ev Event) {
	if len(d.sinks) == 0 {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("notification dropped: notifier is stopping", zap.String("approval_id", ev.ApprovalID))
		return
	}

	// Load shedding: очередь полна — событие теряется, запрос не ждет
	select {
	case d.ch <- ev:
	default:
		d.logger.Error("notify_buffer_overflow",
			zap.String("kind", string(ev.Kind)),
			zap.String("approval_id", ev.ApprovalID))
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.ch {
		d.deliver(ev)
	}
	d.logger.Info("notify worker finished")
}

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		// Background: контекст запроса к этому моменту уже завершен
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := s.Send(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Warn("notification failed",
				zap.String("sink", s.Name()),
				zap.String("kind", string(ev.Kind)),
				zap.String("approval_id", ev.ApprovalID),
				zap.Error(err))
		}
	}
}
