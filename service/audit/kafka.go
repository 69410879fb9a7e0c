// Package audit publishes one record per delivery operation so the
// best-effort "delivered or dropped" outcome is observable downstream.
package audit

import (
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"LiveHub/logger"
)

type Config struct {
	Brokers []string
	Topic   string
}

// Producer writes delivery reports to kafka. A nil Producer is valid and
// drops everything, so wiring stays optional.
type Producer struct {
	topic string
	prod  sarama.SyncProducer
}

func NewProducer(cfg Config) (*Producer, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 3
	sc.Producer.Compression = sarama.CompressionSnappy

	prod, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, errors.Wrap(err, "kafka producer")
	}
	return &Producer{topic: cfg.Topic, prod: prod}, nil
}

type deliveryReport struct {
	Op        string `json:"op"`
	Target    string `json:"target"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Ts        int64  `json:"ts"`
}

// Report implements hub.ReportSink. Failures are logged and dropped; the
// audit stream must never affect delivery.
func (p *Producer) Report(op, target string, delivered, failed int) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(deliveryReport{
		Op: op, Target: target, Delivered: delivered, Failed: failed,
		Ts: time.Now().Unix(),
	})
	if err != nil {
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(target),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := p.prod.SendMessage(msg); err != nil {
		logger.Warnf("[audit] report publish failed op=%s target=%s err=%v", op, target, err)
	}
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.prod.Close()
}
