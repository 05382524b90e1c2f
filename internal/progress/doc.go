// Package progress fans job progress events out to subscribers, one topic
// per job.
//
// Publish never fails and never blocks longer than the configured timeout:
// a subscriber whose buffer stays full past the deadline misses the event
// and its drop counter increments. Delivery is at-most-once and advisory;
// the result store remains the record of truth. The last event of every
// recent job is retained so late subscribers start from the current state,
// and a terminal event closes the topic.
package progress
