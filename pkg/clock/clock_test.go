package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestFake_NowAdvances(t *testing.T) {
	f := NewFake(epoch)
	assert.Equal(t, epoch, f.Now())

	f.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), f.Now())
}

func TestFake_TickerDeliversDueTicks(t *testing.T) {
	f := NewFake(epoch)
	ticker := f.NewTicker(10 * time.Second)

	f.Advance(35 * time.Second)

	var ticks []time.Time
	for {
		select {
		case tick := <-ticker.C():
			ticks = append(ticks, tick)
			continue
		default:
		}
		break
	}

	require.Len(t, ticks, 3)
	assert.Equal(t, epoch.Add(10*time.Second), ticks[0])
	assert.Equal(t, epoch.Add(20*time.Second), ticks[1])
	assert.Equal(t, epoch.Add(30*time.Second), ticks[2])
}

func TestFake_StoppedTickerStaysSilent(t *testing.T) {
	f := NewFake(epoch)
	ticker := f.NewTicker(time.Second)
	ticker.Stop()

	f.Advance(10 * time.Second)

	select {
	case <-ticker.C():
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
}

func TestFake_MultipleTickersInterleave(t *testing.T) {
	f := NewFake(epoch)
	slow := f.NewTicker(10 * time.Second)
	fast := f.NewTicker(3 * time.Second)

	f.Advance(10 * time.Second)

	var fastTicks int
	for {
		select {
		case <-fast.C():
			fastTicks++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 3, fastTicks)

	select {
	case tick := <-slow.C():
		assert.Equal(t, epoch.Add(10*time.Second), tick)
	default:
		t.Fatal("slow ticker missed its due tick")
	}
}

func TestReal_TickerStops(t *testing.T) {
	c := Real()
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)

	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never ticked")
	}
}
