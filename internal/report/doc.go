// Package report renders the end-of-game summary as styled terminal text
// or JSON.
package report
