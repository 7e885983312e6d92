package clock

import "time"

type Clock interface {
	Now() time.Time
}

type Unix struct{}

var _ Clock = Unix{}

func (u Unix) Now() time.Time {
	return time.Now()
}

// Fixed is a clock pinned to one instant, for tests.
type Fixed struct {
	At time.Time
}

var _ Clock = Fixed{}

func (f Fixed) Now() time.Time {
	return f.At
}
