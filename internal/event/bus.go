package event

import (
	"sync"

	"github.com/google/uuid"
)

// EventType 定义事件类型
type EventType string

const (
	// 设置变更，推送给所有打开的页面
	EventSettingsUpdated EventType = "updateSettings"
	// 下载状态变化 (in_progress -> complete / interrupted)
	EventDownloadChanged EventType = "download"
	// 用户可见的通知
	EventNotification EventType = "notification"
	// 角标状态
	EventBadge EventType = "badge"
	// 磁力转换校验结果
	EventValidation EventType = "validation"
)

// AllTopics 前端 SSE 订阅的全部主题
var AllTopics = []EventType{
	EventSettingsUpdated,
	EventDownloadChanged,
	EventNotification,
	EventBadge,
	EventValidation,
}

// Event 代表一个系统事件
type Event struct {
	Type    EventType
	Payload interface{}
	// Source 发布者标识，订阅者可以据此忽略自己发出的事件
	Source string
}

// Handler 处理事件的函数签名
type Handler func(event Event)

// Bus 事件总线接口
type Bus interface {
	Subscribe(topic EventType, handler Handler) string // 返回 Subscription ID
	Unsubscribe(topic EventType, subID string)
	Publish(topic EventType, payload interface{})
	PublishFrom(source string, topic EventType, payload interface{})
}

// subscription 一个订阅者，事件按发布顺序逐个投递
type subscription struct {
	id      string
	handler Handler

	mu      sync.Mutex
	queue   []Event
	running bool
}

// enqueue 不阻塞发布者；队列空闲时才起一个 goroutine 去消费
func (s *subscription) enqueue(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.drain()
}

func (s *subscription) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(e)
	}
}

// InMemoryBus 简单的内存事件总线实现
// 同一订阅者收到的事件顺序与发布顺序一致，不同订阅者之间互不阻塞
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]*subscription
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[EventType][]*subscription),
	}
}

func (b *InMemoryBus) Subscribe(topic EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.handlers[topic] = append(b.handlers[topic], &subscription{id: id, handler: handler})
	return id
}

func (b *InMemoryBus) Unsubscribe(topic EventType, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[topic]
	for i, sub := range subs {
		if sub.id == subID {
			// 复制一份，避免影响正在 Publish 中遍历的切片
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.handlers[topic] = next
			break
		}
	}
}

func (b *InMemoryBus) Publish(topic EventType, payload interface{}) {
	b.PublishFrom("", topic, payload)
}

func (b *InMemoryBus) PublishFrom(source string, topic EventType, payload interface{}) {
	b.mu.RLock()
	subs := b.handlers[topic]
	b.mu.RUnlock()

	// 没有订阅者时直接丢弃
	evt := Event{Type: topic, Payload: payload, Source: source}
	for _, sub := range subs {
		sub.enqueue(evt)
	}
}

// Subscribers 返回某个主题当前的订阅数
func (b *InMemoryBus) Subscribers(topic EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
