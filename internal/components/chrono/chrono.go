package chrono

import "time"

type API interface {
	Now() time.Time
}

type StandardImpl struct{}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

// FixedImpl always returns the same time, each call to Now advances it by
// Step.
type FixedImpl struct {
	current *time.Time
	Step    time.Duration
}

func NewFixedImpl(start time.Time, step time.Duration) FixedImpl {
	return FixedImpl{current: &start, Step: step}
}

func (f FixedImpl) Now() time.Time {
	now := *f.current
	*f.current = now.Add(f.Step)
	return now
}
