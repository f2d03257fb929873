// Package engine defines the speech recognition engine contract used by the supervisor.
// It provides an Azure Speech continuous recognizer and a line-driven text engine
// that turns each input line into interim and final results.
package engine
