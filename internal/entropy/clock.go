package entropy

import (
	"context"
	"time"
)

// Clock returns wall-clock milliseconds as entropy. Anyone who controls the
// timing of the close can predict the draw.
type Clock struct {
	Now func() time.Time
}

func NewClock() Clock {
	return Clock{Now: time.Now}
}

func (c Clock) Entropy(context.Context, uint32) (uint64, error) {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	return uint64(now().UnixMilli()), nil
}
