// Package events fans alarm incidents out to handlers: the log, the incident
// journal and an optional Redis pub/sub channel.
//
// The Dispatcher implements the alarm controller's Observer. It never blocks
// the caller: events are queued and delivered by a single background
// goroutine, and dropped with a warning when the queue is full.
package events
