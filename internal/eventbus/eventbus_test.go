package eventbus_test

import (
	"testing"
	"time"

	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/eventbus"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("c1")
	defer sub.Close()

	b.Publish("c1", domain.Event{Tag: domain.EventConsole, Data: "hello"})

	select {
	case ev := <-sub.Events:
		require.Equal(t, "hello", ev.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeGetsHistorySnapshot(t *testing.T) {
	b := eventbus.New()
	b.Publish("c1", domain.Event{Tag: domain.EventConsole, Data: "first"})
	b.Publish("c1", domain.Event{Tag: domain.EventConsole, Data: "second"})

	sub := b.Subscribe("c1")
	defer sub.Close()

	require.Len(t, sub.History, 2)
	require.Equal(t, "first", sub.History[0].Data)
	require.Equal(t, "second", sub.History[1].Data)
}

func TestPublishStatsChangeDetection(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("c1")
	defer sub.Close()

	encode := func(s domain.Stats) string { return "encoded" }

	b.PublishStats("c1", domain.Stats{CPUUsage: 1}, encode)
	b.PublishStats("c1", domain.Stats{CPUUsage: 1}, encode)
	b.PublishStats("c1", domain.Stats{CPUUsage: 2}, encode)

	var received int
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-sub.Events:
			received++
		case <-timeout:
			break loop
		}
	}
	require.Equal(t, 2, received, "unchanged stats sample must not be republished")
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("c1")

	for i := 0; i < 300; i++ {
		b.Publish("c1", domain.Event{Tag: domain.EventConsole, Data: "spam"})
	}

	_, ok := <-sub.Events
	for ok {
		_, ok = <-sub.Events
	}
}

func TestDropClosesSubscribers(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("c1")
	b.Drop("c1")

	_, ok := <-sub.Events
	require.False(t, ok)
}
