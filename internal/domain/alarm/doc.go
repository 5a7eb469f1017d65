// Package alarm contains the domain types of alarm episodes.
//
// It defines Incident (one sustained-closure episode that fired the alarm)
// and Outcome (what happened to its sound), with Clone helpers to avoid
// leaking internal references.
package alarm
