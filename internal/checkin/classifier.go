package checkin

import "time"

// Classify labels a check-in from its timing alone. Early arrivals count as
// on time, and the start+lateThreshold boundary is inclusive on the on-time
// side. Times past endTime never reach this function through the coordinator
// (the session is Closed by then) and classify as late.
func Classify(checkInTime, startTime, endTime time.Time, lateThreshold time.Duration) Status {
	if checkInTime.Before(startTime) {
		return StatusOnTime
	}
	if !checkInTime.After(startTime.Add(lateThreshold)) {
		return StatusOnTime
	}
	return StatusLate
}
