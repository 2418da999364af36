// Package kafka ships batch and proving reports to a Kafka topic so
// the back office receives every custody record the unit produces.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"lactlink/config"
	"lactlink/logging"
)

// ConnectionStatus represents the state of the Kafka connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ReportEnvelope wraps every record written to the topic.
type ReportEnvelope struct {
	Unit      string      `json:"unit"`
	Kind      string      `json:"kind"` // "batch" or "proving"
	Timestamp time.Time   `json:"timestamp"`
	Report    interface{} `json:"report"`
}

// Producer writes report records to a single topic.
type Producer struct {
	cfg       config.KafkaConfig
	namespace string
	unit      string

	writer *kafkago.Writer
	status ConnectionStatus
	lastErr error
	mu     sync.RWMutex

	sent     int64
	sendErrs int64
}

// NewProducer creates a Kafka report producer.
func NewProducer(cfg config.KafkaConfig, namespace, unit string) *Producer {
	return &Producer{cfg: cfg, namespace: namespace, unit: unit}
}

// Status returns the current connection status.
func (p *Producer) Status() ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// LastError returns the last send or connect error.
func (p *Producer) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Stats returns counts of records sent and failed.
func (p *Producer) Stats() (sent, errs int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sent, p.sendErrs
}

// Connect verifies broker reachability and builds the writer.
func (p *Producer) Connect() error {
	p.mu.Lock()
	p.status = StatusConnecting
	p.lastErr = nil
	p.mu.Unlock()

	if len(p.cfg.Brokers) == 0 {
		return p.fail(fmt.Errorf("no brokers configured"))
	}

	dialer := &kafkago.Dialer{Timeout: 10 * time.Second}
	if p.cfg.UseTLS {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		return p.fail(fmt.Errorf("kafka connect: %w", err))
	}
	conn.Close()

	acks := kafkago.RequireAll
	switch p.cfg.RequiredAcks {
	case 0:
		// default: all
	case 1:
		acks = kafkago.RequireOne
	case -1:
		acks = kafkago.RequireAll
	}
	retries := p.cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}
	backoff := p.cfg.RetryBackoff
	if backoff == 0 {
		backoff = 250 * time.Millisecond
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(p.cfg.Brokers...),
		Topic:        p.topic(),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: acks,
		MaxAttempts:  retries,
		WriteBackoffMax: backoff,
	}
	if p.cfg.UseTLS {
		writer.Transport = &kafkago.Transport{TLS: &tls.Config{MinVersion: tls.VersionTLS12}}
	}

	p.mu.Lock()
	p.writer = writer
	p.status = StatusConnected
	p.mu.Unlock()
	logging.DebugLog("kafka", "connected to %v, topic %s", p.cfg.Brokers, p.topic())
	return nil
}

func (p *Producer) fail(err error) error {
	p.mu.Lock()
	p.status = StatusError
	p.lastErr = err
	p.mu.Unlock()
	return err
}

// topic resolves the configured topic, defaulting to
// {namespace}.lact.reports.
func (p *Producer) topic() string {
	if p.cfg.Topic != "" {
		return p.cfg.Topic
	}
	return p.namespace + ".lact.reports"
}

// Close shuts the writer down.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Close()
		p.writer = nil
	}
	p.status = StatusDisconnected
}

// PublishReport writes one report record, keyed by unit so a topic
// shared across a site partitions per unit.
func (p *Producer) PublishReport(kind string, when time.Time, report interface{}) error {
	p.mu.RLock()
	writer := p.writer
	p.mu.RUnlock()
	if writer == nil {
		return fmt.Errorf("kafka producer not connected")
	}

	data, err := json.Marshal(ReportEnvelope{
		Unit: p.unit, Kind: kind, Timestamp: when, Report: report,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(p.unit),
		Value: data,
	})

	p.mu.Lock()
	if err != nil {
		p.sendErrs++
		p.lastErr = err
	} else {
		p.sent++
	}
	p.mu.Unlock()
	return err
}
