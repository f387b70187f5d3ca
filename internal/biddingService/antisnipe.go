package bidding

import "time"

// DefaultExtensionWindow is how close to the end an accepted bid must land to push the end back
const DefaultExtensionWindow = 5 * time.Minute

// extendForSnipe returns the end time after a bid accepted at now. When the
// remaining time is under window the auction is pushed to now+window; the end
// time only ever moves forward.
func extendForSnipe(endTime, now time.Time, window time.Duration) (time.Time, bool) {
	if window <= 0 || endTime.Sub(now) >= window {
		return endTime, false
	}
	extended := now.Add(window)
	if !extended.After(endTime) {
		return endTime, false
	}
	return extended, true
}
