// Package classifier turns raw dispatch text messages into domain alarm events.
//
// Classification is a pure function: untrusted senders, missing header
// markers, and incomplete messages yield nil rather than errors. A separate
// test-mode path accepts any message containing the word "larm" for drills.
package classifier
