package services

import (
	"fmt"
	"testing"
	"time"

	"portpilot/internal/models"
)

func line(text string) models.LogLine {
	return models.LogLine{
		TunnelID: 1,
		Stream:   models.StreamStdout,
		Time:     time.Now(),
		Text:     text,
	}
}

func TestLogHubRingOverwrite(t *testing.T) {
	hub := NewLogHub(3)
	for i := 1; i <= 5; i++ {
		hub.Append(line(fmt.Sprintf("line-%d", i)))
	}

	snap := hub.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 lines after overflow, got %d", len(snap))
	}
	for i, want := range []string{"line-3", "line-4", "line-5"} {
		if snap[i].Text != want {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].Text, want)
		}
	}
}

func TestLogHubSubscribeNoGap(t *testing.T) {
	hub := NewLogHub(10)
	hub.Append(line("before-1"))
	hub.Append(line("before-2"))

	snapshot, ch, cancel := hub.Subscribe()
	defer cancel()

	if len(snapshot) != 2 {
		t.Fatalf("expected snapshot of 2 lines, got %d", len(snapshot))
	}

	hub.Append(line("after-1"))
	select {
	case got := <-ch:
		if got.Text != "after-1" {
			t.Errorf("first live line = %s, want after-1", got.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live line")
	}
}

func TestLogHubSlowSubscriberDropsLines(t *testing.T) {
	hub := NewLogHub(1000)
	_, ch, cancel := hub.Subscribe()
	defer cancel()

	// 订阅者不消费，超出通道缓冲的行应被丢弃而不是阻塞
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Append(line(fmt.Sprintf("flood-%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a slow subscriber")
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("expected full channel of %d lines, got %d", subscriberBuffer, len(ch))
	}
}

func TestLogHubCancelClosesChannel(t *testing.T) {
	hub := NewLogHub(10)
	_, ch, cancel := hub.Subscribe()

	cancel()
	cancel() // 幂等

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	if hub.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.SubscriberCount())
	}
	// 取消后的追加不应panic
	hub.Append(line("post-cancel"))
}
