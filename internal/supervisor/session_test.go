package supervisor

import "testing"

func TestSessionProgress(t *testing.T) {
	sess := NewSession([]string{"say hello", "say goodbye"})

	if sess.ID == "" {
		t.Error("Expected session ID")
	}
	if current, ok := sess.Current(); !ok || current != "say hello" {
		t.Errorf("Expected first instruction, got %q", current)
	}

	// Passing an instruction other than the current one does not advance.
	sess.Pass(1)
	if sess.CurrentIndex != 0 {
		t.Errorf("Expected index 0, got %d", sess.CurrentIndex)
	}

	sess.Pass(0)
	if current, _ := sess.Current(); current != "say goodbye" {
		t.Errorf("Expected second instruction, got %q", current)
	}
	if sess.CurrentIndex != 1 {
		t.Errorf("Expected index 1, got %d", sess.CurrentIndex)
	}

	sess.Pass(5)
	if sess.PassedCount() != 2 {
		t.Errorf("Expected 2 passed, got %d", sess.PassedCount())
	}
}

func TestSessionFinished(t *testing.T) {
	sess := NewSession([]string{"keep going"})
	if sess.Finished() || sess.AllPassed() {
		t.Fatal("Expected fresh session to be unfinished")
	}

	sess.Pass(0)
	if !sess.Finished() || !sess.AllPassed() {
		t.Error("Expected session finished after passing its only instruction")
	}
	if _, ok := sess.Current(); ok {
		t.Error("Expected no current instruction")
	}
}

func TestSessionCopiesInstructions(t *testing.T) {
	instructions := []string{"a", "b"}
	sess := NewSession(instructions)
	instructions[0] = "changed"

	if sess.Instructions[0] != "a" {
		t.Errorf("Expected session to own its instructions, got %q", sess.Instructions[0])
	}
	for i, st := range sess.Statuses {
		if st != StatusPending {
			t.Errorf("Instruction %d: expected pending, got %s", i, st)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:      "idle",
		StateListening: "listening",
		StateChecking:  "checking",
		StateResetting: "resetting",
		StateFatal:     "fatal",
		State(42):      "unknown(42)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}
