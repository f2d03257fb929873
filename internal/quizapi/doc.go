// Package quizapi implements the HTTP client for the quiz server: the
// instruction list, the multipart judge call carrying the recorded clip and
// the transcript, and the JSON merge call used by the final report.
package quizapi
