package constants

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	forward := []ProcessingStage{
		StageUploaded,
		StageOCRRunning,
		StageOCRDone,
		StageStructuringRunning,
		StageStructuringDone,
	}
	for i := 0; i < len(forward)-1; i++ {
		if !CanTransition(forward[i], forward[i+1]) {
			t.Errorf("expected %s -> %s to be legal", forward[i], forward[i+1])
		}
		if CanTransition(forward[i+1], forward[i]) {
			t.Errorf("expected %s -> %s (backward) to be illegal", forward[i+1], forward[i])
		}
	}
}

func TestCanTransitionSkipsAreIllegal(t *testing.T) {
	if CanTransition(StageUploaded, StageOCRDone) {
		t.Error("skipping OCR_RUNNING must be illegal")
	}
	if CanTransition(StageOCRRunning, StageStructuringRunning) {
		t.Error("skipping OCR_DONE must be illegal")
	}
}

func TestFailedReachableFromAnyNonTerminal(t *testing.T) {
	for s := range stageRank {
		if IsTerminalStage(s) {
			if CanTransition(s, StageFailed) {
				t.Errorf("terminal stage %s must not transition to FAILED", s)
			}
			continue
		}
		if !CanTransition(s, StageFailed) {
			t.Errorf("expected %s -> FAILED to be legal", s)
		}
	}
}

func TestApprovalOnlyAfterStructuring(t *testing.T) {
	if !CanTransition(StageStructuringDone, StageApproved) {
		t.Error("STRUCTURING_DONE -> APPROVED should be legal")
	}
	if !CanTransition(StageStructuringDone, StageRejected) {
		t.Error("STRUCTURING_DONE -> REJECTED should be legal")
	}
	if CanTransition(StageOCRDone, StageApproved) {
		t.Error("OCR_DONE -> APPROVED must be illegal")
	}
	if CanTransition(StageApproved, StageRejected) {
		t.Error("terminal stages must not move")
	}
}

func TestAdapterOrderStable(t *testing.T) {
	want := []AdapterKind{AdapterDocAI, AdapterTesseract, AdapterGemini}
	if len(AdapterOrder) != len(want) {
		t.Fatalf("adapter order length = %d, want %d", len(AdapterOrder), len(want))
	}
	for i, k := range want {
		if AdapterOrder[i] != k {
			t.Errorf("AdapterOrder[%d] = %s, want %s", i, AdapterOrder[i], k)
		}
		if AdapterRank(k) != i {
			t.Errorf("AdapterRank(%s) = %d, want %d", k, AdapterRank(k), i)
		}
	}
	if IsValidAdapter("azure") {
		t.Error("unknown adapter kind must not validate")
	}
}
