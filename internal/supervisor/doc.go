// Package supervisor keeps a speech recognition engine alive through a game
// session.
//
// A Supervisor owns one engine and one recorder and moves between the
// Idle, Listening, Checking, Resetting and Fatal states. Transient engine
// errors are counted; a run of them triggers a soft reset that rebuilds the
// engine from the same configuration. An engine that ends is restarted in
// place, then reset, then declared fatal. A periodic health check resets an
// engine that has gone silent. Finalized utterances stop the recorder and are
// judged one at a time on a single worker; recording resumes once the judge
// call settles.
//
// Every transition runs on the goroutine executing Run. Engine callbacks,
// the health ticker and judge completions are delivered to it as messages.
package supervisor
