package client

import (
	"math"
	"time"

	"github.com/moodroom/moodroom/internal/domain"
)

// moveThrottle bounds outbound movement updates to a fixed rate and
// suppresses samples that barely moved.
type moveThrottle struct {
	interval time.Duration
	minDelta float64
	now      func() time.Time

	primed   bool
	lastSent time.Time
	lastPos  domain.Vec3
	lastRot  float64
}

func newMoveThrottle(ratePerSecond int, minDelta float64) *moveThrottle {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &moveThrottle{
		interval: time.Second / time.Duration(ratePerSecond),
		minDelta: minDelta,
		now:      time.Now,
	}
}

// allow reports whether this sample should go out, and records it as
// sent when it does.
func (t *moveThrottle) allow(pos domain.Vec3, rot float64) bool {
	if t.primed {
		if dist(pos, t.lastPos) < t.minDelta && math.Abs(rot-t.lastRot) < t.minDelta {
			return false
		}
		if t.now().Sub(t.lastSent) < t.interval {
			return false
		}
	}
	t.primed = true
	t.lastSent = t.now()
	t.lastPos = pos
	t.lastRot = rot
	return true
}

func dist(a, b domain.Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
