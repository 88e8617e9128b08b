package txsched

import "errors"

var (
	ErrDuplicateFrame = errors.New("frame already registered")
	ErrFrameNotFound  = errors.New("frame not registered")
	ErrNoPeriod       = errors.New("frame has no period")
	ErrStopped        = errors.New("scheduler stopped")
)
