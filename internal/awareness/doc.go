// Package awareness tracks ephemeral presence state of room members.
//
// Presence (cursor, selection, display name) is never persisted and never
// merged into the document. Each session owns one entry with a clock that
// grows on every change; receivers keep the entry with the highest clock.
// Updates are JSON arrays of entries. A removed entry is announced with
// Removed set so that peers drop it right away instead of waiting for it
// to time out.
package awareness
