package services

import (
	"sync"

	"portpilot/internal/models"
)

/**
 * EventBus 隧道状态变化事件的广播总线
 * @description
 * - 事件按发出顺序投递给每个订阅者
 * - 订阅者通道满时丢事件，状态机不等慢消费者
 */
type EventBus struct {
	mutex  sync.Mutex
	nextID int
	subs   map[int]chan models.StateEvent
}

const eventBuffer = 32

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan models.StateEvent)}
}

func (b *EventBus) Publish(ev models.StateEvent) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe 订阅事件流，cancel必须调用
func (b *EventBus) Subscribe() (<-chan models.StateEvent, func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan models.StateEvent, eventBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}
