package queue

import "fmt"

// Entry is a work-queue item: either a test identifier or a shutdown sentinel.
type Entry struct {
	testID   string
	sentinel bool
}

// Test wraps a test identifier as a queue entry.
func Test(id string) Entry {
	return Entry{testID: id}
}

// Sentinel returns the entry that tells whichever worker dequeues it to stop.
func Sentinel() Entry {
	return Entry{sentinel: true}
}

// IsSentinel reports whether e closes a worker loop.
func (e Entry) IsSentinel() bool { return e.sentinel }

// TestID returns the wrapped identifier. It is empty for a sentinel.
func (e Entry) TestID() string { return e.testID }

func (e Entry) String() string {
	if e.sentinel {
		return "<sentinel>"
	}
	return fmt.Sprintf("test(%s)", e.testID)
}
