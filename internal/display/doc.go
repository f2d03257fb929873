// Package display renders the player-facing status, prompts and live
// transcript on a terminal.
package display
