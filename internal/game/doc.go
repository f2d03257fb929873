// Package game sequences quiz instructions over a supervised recognition
// session. The Controller judges finalized utterances through the quiz API,
// records every attempt, and builds the end-of-game report from merged
// recordings.
package game
