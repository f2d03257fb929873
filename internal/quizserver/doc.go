// Package quizserver is an in-memory stand-in for the quiz server. It serves
// the instruction, judge and merge endpoints so the client can be exercised
// locally without the real judging backend.
package quizserver
