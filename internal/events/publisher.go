package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// EventPublisher 事件发布器接口
type EventPublisher interface {
	// Publish 发布事件，失败不影响业务流程，调用方只记录日志
	Publish(ctx context.Context, event *Event) error

	// Close 释放连接
	Close() error
}

// PublisherStats 发布统计
type PublisherStats struct {
	EventsPublished int64               `json:"events_published"`
	EventsByType    map[EventType]int64 `json:"events_by_type"`
	FailedEvents    int64               `json:"failed_events"`
	LastEventTime   *time.Time          `json:"last_event_time,omitempty"`
}

type statsRecorder struct {
	stats PublisherStats
	mutex sync.RWMutex
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{stats: PublisherStats{EventsByType: make(map[EventType]int64)}}
}

func (r *statsRecorder) record(event *Event, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err != nil {
		r.stats.FailedEvents++
		return
	}
	r.stats.EventsPublished++
	r.stats.EventsByType[event.Type]++
	now := time.Now()
	r.stats.LastEventTime = &now
}

func (r *statsRecorder) snapshot() PublisherStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	byType := make(map[EventType]int64, len(r.stats.EventsByType))
	for k, v := range r.stats.EventsByType {
		byType[k] = v
	}
	out := r.stats
	out.EventsByType = byType
	return out
}

// MemoryPublisher 在进程内保存最近的事件
type MemoryPublisher struct {
	events []*Event
	limit  int
	mutex  sync.RWMutex
	stats  *statsRecorder
}

// NewMemoryPublisher 创建内存发布器，limit<=0时不限制
func NewMemoryPublisher(limit int) *MemoryPublisher {
	return &MemoryPublisher{limit: limit, stats: newStatsRecorder()}
}

// Publish 保存事件
func (p *MemoryPublisher) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	p.mutex.Lock()
	p.events = append(p.events, event)
	if p.limit > 0 && len(p.events) > p.limit {
		p.events = p.events[len(p.events)-p.limit:]
	}
	p.mutex.Unlock()

	p.stats.record(event, nil)
	return nil
}

// Events 已发布的事件，可按类型过滤
func (p *MemoryPublisher) Events(types ...EventType) []*Event {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if len(types) == 0 {
		out := make([]*Event, len(p.events))
		copy(out, p.events)
		return out
	}

	var out []*Event
	for _, event := range p.events {
		for _, t := range types {
			if event.Type == t {
				out = append(out, event)
				break
			}
		}
	}
	return out
}

// Stats 发布统计
func (p *MemoryPublisher) Stats() PublisherStats {
	return p.stats.snapshot()
}

// Close 无需释放资源
func (p *MemoryPublisher) Close() error {
	return nil
}

// ErrPublisherClosed 发布器已关闭
var ErrPublisherClosed = errors.New("event publisher is closed")

// AMQPPublisher 发布到RabbitMQ的topic交换机，连接断开后下次发布时重连
type AMQPPublisher struct {
	url      string
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	closed   bool
	mutex    sync.Mutex
	stats    *statsRecorder
}

// NewAMQPPublisher 连接RabbitMQ并声明交换机
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:      url,
		exchange: exchange,
		stats:    newStatsRecorder(),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}

	log.Printf("Publishing domain events to amqp exchange %s", exchange)
	return p, nil
}

// connect 建立连接和通道，调用方持有锁
func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	return nil
}

// reset 丢弃失效的连接，调用方持有锁
func (p *AMQPPublisher) reset() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Publish 以事件类型为routing key发布
func (p *AMQPPublisher) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	body, err := event.Encode()
	if err != nil {
		p.stats.record(event, err)
		return err
	}

	p.mutex.Lock()
	err = p.publishLocked(event, body)
	p.mutex.Unlock()

	p.stats.record(event, err)
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) publishLocked(event *Event, body []byte) error {
	if p.closed {
		return ErrPublisherClosed
	}
	if p.channel == nil || p.conn == nil || p.conn.IsClosed() {
		p.reset()
		if err := p.connect(); err != nil {
			return err
		}
		log.Printf("Reconnected to amqp exchange %s", p.exchange)
	}

	err := p.channel.Publish(
		p.exchange,
		string(event.Type),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.Timestamp,
			Body:         body,
		})
	if errors.Is(err, amqp.ErrClosed) {
		p.reset()
	}
	return err
}

// Stats 发布统计
func (p *AMQPPublisher) Stats() PublisherStats {
	return p.stats.snapshot()
}

// Close 关闭通道和连接
func (p *AMQPPublisher) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.closed = true
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// NewPublisher 根据配置选择发布器，没有配置AMQP时使用内存发布器
func NewPublisher(amqpURL, exchange string) EventPublisher {
	if amqpURL == "" {
		return NewMemoryPublisher(1000)
	}
	publisher, err := NewAMQPPublisher(amqpURL, exchange)
	if err != nil {
		log.Printf("Warning: %v, falling back to in-memory events", err)
		return NewMemoryPublisher(1000)
	}
	return publisher
}

// PublishQuietly 发布事件，失败时只记录日志
func PublishQuietly(ctx context.Context, publisher EventPublisher, event *Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		log.Printf("Warning: failed to publish event %s: %v", event.Type, err)
	}
}
