package testutil

import "github.com/0m3kk/eventlog/eventsrc"

// UserCreated builds a creation event at version 1.
func UserCreated(aggregateID, name string) eventsrc.StoredEvent {
	return eventsrc.NewEvent(aggregateID, "UserCreated", 1, eventsrc.Payload{"name": name, "email": name + "@example.com"})
}

// Sequence builds n consecutive events of eventType starting at version from.
func Sequence(aggregateID, eventType string, from int64, n int) []eventsrc.StoredEvent {
	events := make([]eventsrc.StoredEvent, n)
	for i := range n {
		events[i] = eventsrc.NewEvent(aggregateID, eventType, from+int64(i), eventsrc.Payload{"seq": i})
	}
	return events
}
