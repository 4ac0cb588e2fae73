package services

import (
	"sync"

	"portpilot/internal/models"
)

/**
 * LogHub 单条隧道的输出日志集线器
 * @description
 * - 固定容量的环形缓冲保存最近的日志行，写满后覆盖最旧的
 * - 订阅者拿到订阅时刻的快照加一条实时通道，两者之间不丢行
 * - 消费太慢的订阅者直接丢行，绝不阻塞进程输出的排干
 */
type LogHub struct {
	capacity int

	mutex   sync.Mutex
	ring    []models.LogLine
	start   int // 最旧一行的下标
	count   int
	nextID  int
	subs    map[int]chan models.LogLine
}

const subscriberBuffer = 64

func NewLogHub(capacity int) *LogHub {
	if capacity <= 0 {
		capacity = 500
	}
	return &LogHub{
		capacity: capacity,
		ring:     make([]models.LogLine, capacity),
		subs:     make(map[int]chan models.LogLine),
	}
}

/**
 * Append 追加一行日志并广播给所有订阅者
 * @param {models.LogLine} line - 带流向和时间戳的日志行
 * @description
 * - 环形缓冲写满后覆盖最旧的一行
 * - 订阅者通道已满时丢弃该订阅者的这一行
 */
func (h *LogHub) Append(line models.LogLine) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	idx := (h.start + h.count) % h.capacity
	h.ring[idx] = line
	if h.count < h.capacity {
		h.count++
	} else {
		h.start = (h.start + 1) % h.capacity
	}

	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
			// 消费太慢，丢行
		}
	}
}

// Snapshot 返回当前缓冲内容，从旧到新
func (h *LogHub) Snapshot() []models.LogLine {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.snapshotLocked()
}

func (h *LogHub) snapshotLocked() []models.LogLine {
	out := make([]models.LogLine, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.ring[(h.start+i)%h.capacity]
	}
	return out
}

/**
 * Subscribe 订阅实时日志
 * @returns {[]models.LogLine} 订阅时刻的缓冲快照
 * @returns {<-chan models.LogLine} 实时日志通道
 * @returns {func()} 取消订阅的函数，必须调用，否则泄漏
 * @description
 * - 快照和通道注册在同一把锁下完成，快照末尾和通道首行正好衔接
 */
func (h *LogHub) Subscribe() ([]models.LogLine, <-chan models.LogLine, func()) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	snapshot := h.snapshotLocked()
	id := h.nextID
	h.nextID++
	ch := make(chan models.LogLine, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mutex.Lock()
		defer h.mutex.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return snapshot, ch, cancel
}

// SubscriberCount 当前订阅者数量
func (h *LogHub) SubscriberCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subs)
}
