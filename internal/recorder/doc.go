// Package recorder captures microphone audio into per-attempt clips.
// It wraps a PortAudio input stream (or a paced silence source), keeps frames
// between Start and Stop, and encodes each clip as mono PCM-16 WAV.
package recorder
