package constants

// ProcessingStage is the canonical lifecycle value for an invoice run.
type ProcessingStage string

// Stable values (store these exact strings in DB and stage events).
const (
	StageUploaded           ProcessingStage = "UPLOADED"
	StageOCRRunning         ProcessingStage = "OCR_RUNNING"
	StageOCRDone            ProcessingStage = "OCR_DONE"
	StageStructuringRunning ProcessingStage = "STRUCTURING_RUNNING"
	StageStructuringDone    ProcessingStage = "STRUCTURING_DONE"
	StageApproved           ProcessingStage = "APPROVED"
	StageRejected           ProcessingStage = "REJECTED"
	StageFailed             ProcessingStage = "FAILED"
)

// stageRank orders the forward-only part of the lifecycle. Terminal
// stages share the highest rank so no transition can leave them.
var stageRank = map[ProcessingStage]int{
	StageUploaded:           0,
	StageOCRRunning:         1,
	StageOCRDone:            2,
	StageStructuringRunning: 3,
	StageStructuringDone:    4,
	StageApproved:           5,
	StageRejected:           5,
	StageFailed:             5,
}

// IsValidStage reports whether s is one of the canonical stage values.
func IsValidStage(s ProcessingStage) bool {
	_, ok := stageRank[s]
	return ok
}

// IsTerminalStage reports whether s ends the lifecycle.
func IsTerminalStage(s ProcessingStage) bool {
	return s == StageApproved || s == StageRejected || s == StageFailed
}

// CanTransition reports whether moving from -> to is legal. Stages never
// move backward and terminal stages never move at all. FAILED is
// reachable from any non-terminal stage.
func CanTransition(from, to ProcessingStage) bool {
	if !IsValidStage(from) || !IsValidStage(to) || from == to {
		return false
	}
	if IsTerminalStage(from) {
		return false
	}
	if to == StageFailed {
		return true
	}
	// Approval decisions only apply to fully structured invoices.
	if to == StageApproved || to == StageRejected {
		return from == StageStructuringDone
	}
	return stageRank[to] == stageRank[from]+1
}
