package model

import (
	"fmt"
	"testing"
)

func TestPhase_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from Phase
		to   Phase
		want bool
	}{
		{PhaseLobby, PhaseSetupQuestions, true},
		{PhaseSetupQuestions, PhaseWriteQuestions, true},
		{PhaseWriteQuestions, PhaseAnswering, true},
		{PhaseAnswering, PhaseVoting, true},
		{PhaseVoting, PhaseReveal, true},
		{PhaseReveal, PhaseAnswering, true},
		{PhaseReveal, PhaseFinished, true},
		{PhaseLobby, PhaseAnswering, false},
		{PhaseAnswering, PhaseReveal, false},
		{PhaseVoting, PhaseAnswering, false},
		{PhaseFinished, PhaseLobby, false},
		{PhaseFinished, PhaseAnswering, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhase_HasActiveRound(t *testing.T) {
	active := map[Phase]bool{
		PhaseAnswering: true,
		PhaseVoting:    true,
		PhaseReveal:    true,
	}
	for _, p := range []Phase{PhaseLobby, PhaseSetupQuestions, PhaseWriteQuestions, PhaseAnswering, PhaseVoting, PhaseReveal, PhaseFinished} {
		if got := p.HasActiveRound(); got != active[p] {
			t.Errorf("%s.HasActiveRound() = %v, want %v", p, got, active[p])
		}
	}
}

func TestPhase_IsValid(t *testing.T) {
	if !PhaseReveal.IsValid() {
		t.Error("reveal should be valid")
	}
	if Phase("paused").IsValid() {
		t.Error("unknown phase should be invalid")
	}
}

func TestAnswer_IsImpostor(t *testing.T) {
	pid := "player-1"
	human := &Answer{ID: "a1", PlayerID: &pid}
	ai := &Answer{ID: "a2"}

	if human.IsImpostor() {
		t.Error("human answer reported as impostor")
	}
	if !ai.IsImpostor() {
		t.Error("null-author answer should be impostor")
	}
}
