package post

import "testing"

func TestTransitionTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{name: "claim", from: StatusScheduled, to: StatusPosting, ok: true},
		{name: "publish success", from: StatusPosting, to: StatusPosted, ok: true},
		{name: "publish failure", from: StatusPosting, to: StatusFailed, ok: true},
		{name: "retry", from: StatusFailed, to: StatusScheduled, ok: true},
		{name: "cancel scheduled", from: StatusScheduled, to: StatusCancelled, ok: true},
		{name: "cancel failed", from: StatusFailed, to: StatusCancelled, ok: true},
		{name: "cancel draft", from: StatusDraft, to: StatusCancelled, ok: true},
		{name: "promote draft", from: StatusDraft, to: StatusScheduled, ok: true},

		{name: "cancel posting", from: StatusPosting, to: StatusCancelled, ok: false},
		{name: "cancel posted", from: StatusPosted, to: StatusCancelled, ok: false},
		{name: "repost posted", from: StatusPosted, to: StatusScheduled, ok: false},
		{name: "claim draft", from: StatusDraft, to: StatusPosting, ok: false},
		{name: "claim failed", from: StatusFailed, to: StatusPosting, ok: false},
		{name: "resurrect cancelled", from: StatusCancelled, to: StatusScheduled, ok: false},
		{name: "unknown status", from: Status("bogus"), to: StatusScheduled, ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.ok && err != nil {
				t.Fatalf("Transition(%s, %s) = %v, want nil", tt.from, tt.to, err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatalf("Transition(%s, %s) = nil, want error", tt.from, tt.to)
				}
				if !IsIllegalTransition(err) {
					t.Fatalf("error %v is not an IllegalTransitionError", err)
				}
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()
	if !StatusPosted.Terminal() {
		t.Fatal("posted must be terminal")
	}
	if !StatusCancelled.Terminal() {
		t.Fatal("cancelled must be terminal")
	}
	if StatusFailed.Terminal() {
		t.Fatal("failed must not be terminal (retryable)")
	}
}
