package channel

import "time"

// Now returns the current wall-clock time as unix seconds.
func (SystemClock) Now() int64 {
	return time.Now().Unix()
}
