package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/c0deZ3R0/go-telemetry-kit/logging"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// messageWriter is the part of *kafka.Writer the mirror uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configures a KafkaMirror.
type KafkaOptions struct {
	Brokers []string
	Topic   string
	// Capacity bounds the number of events buffered before the mirror
	// starts dropping. Defaults to 1024.
	Capacity int
	// MaxBatch is the number of messages written per call. Defaults to 100.
	MaxBatch int
	// FlushInterval bounds how long a partial batch waits. Defaults to 500ms.
	FlushInterval time.Duration
	Logger        *logging.Logger
}

// KafkaMirror copies every admitted event to a Kafka topic. ConsumeEvent
// never blocks the pipeline: when the buffer is full the event is dropped
// from the mirror (it is still uploaded normally).
type KafkaMirror struct {
	writer   messageWriter
	input    chan kafka.Message
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	maxBatch int
	tick     time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	dropped int
}

// NewKafkaMirror starts a mirror writing to opts.Topic. It returns nil when
// no brokers are configured.
func NewKafkaMirror(opts KafkaOptions) *KafkaMirror {
	if len(opts.Brokers) == 0 || opts.Topic == "" {
		return nil
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaMirror(w, opts)
}

func newKafkaMirror(w messageWriter, opts KafkaOptions) *KafkaMirror {
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	m := &KafkaMirror{
		writer:   w,
		input:    make(chan kafka.Message, opts.Capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		maxBatch: opts.MaxBatch,
		tick:     opts.FlushInterval,
		logger:   logging.OrDefault(opts.Logger).WithComponent("kafka-mirror"),
	}
	go m.loop()
	return m
}

// ConsumeEvent enqueues rec keyed by its session so one session's events
// stay on one partition.
func (m *KafkaMirror) ConsumeEvent(ctx context.Context, rec storage.EventRecord) {
	msg := kafka.Message{
		Key:   []byte(rec.SessionID),
		Value: append([]byte(nil), rec.Body...),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(rec.Type)},
			{Key: "event_id", Value: []byte(rec.ID)},
		},
	}
	select {
	case <-m.stop:
		return
	default:
	}
	select {
	case m.input <- msg:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
}

// Dropped returns how many events did not fit in the buffer.
func (m *KafkaMirror) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *KafkaMirror) loop() {
	defer close(m.done)
	batch := make([]kafka.Message, 0, m.maxBatch)
	t := time.NewTicker(m.tick)
	defer t.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.writer.WriteMessages(ctx, batch...); err != nil {
			m.logger.Warn("kafka mirror write failed", "messages", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg := <-m.input:
			batch = append(batch, msg)
			if len(batch) >= m.maxBatch {
				flush()
			}
		case <-t.C:
			flush()
		case <-m.stop:
			for {
				select {
				case msg := <-m.input:
					batch = append(batch, msg)
					if len(batch) >= m.maxBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes buffered events and closes the writer.
func (m *KafkaMirror) Close() error {
	var err error
	m.once.Do(func() {
		close(m.stop)
		<-m.done
		err = m.writer.Close()
	})
	return err
}
