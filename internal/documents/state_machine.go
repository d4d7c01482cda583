package documents

import (
	"fmt"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/workflows"
	lifecycle "github.com/igdrones/ig-docs-backend/pkg/workflows"
)

type Action string

const (
	ActionSubmit    Action = "Submitted"
	ActionAccepted  Action = "Accepted"
	ActionRejected  Action = "Rejected"
	ActionReview    Action = "Review"
	ActionReviewed  Action = "Reviewed"
	ActionCompleted Action = "Completed"
)

// SubmitContent is the ledger note written on submission.
const SubmitContent = "Document Submitted"

var (
	ErrNoFieldsBound        = apperrors.NewSentinel(apperrors.KindState, "No document fields found")
	ErrAlreadySubmitted     = apperrors.NewSentinel(apperrors.KindState, "Document has already been submitted")
	ErrDocumentFinalized    = apperrors.NewSentinel(apperrors.KindState, "Document is already completed or rejected")
	ErrNotYetBound          = apperrors.NewSentinel(apperrors.KindState, "Please set and bind document fields")
	ErrNoFurtherStage       = apperrors.NewSentinel(apperrors.KindState, "No further activity can be done")
	ErrUnauthorizedActor    = apperrors.NewSentinel(apperrors.KindForbidden, "User is not assigned to the current stage")
	ErrInvalidOperation     = apperrors.NewSentinel(apperrors.KindState, "Invalid Operation")
	ErrUnknownAction        = apperrors.NewSentinel(apperrors.KindValidation, "Unknown version action")
	ErrSignatureRequired    = apperrors.NewSentinel(apperrors.KindValidation, "Signature file is required")
	ErrConcurrentTransition = apperrors.NewSentinel(apperrors.KindConflict, "Document was modified by another request")
	ErrRoleMismatch         = apperrors.NewSentinel(apperrors.KindForbidden, "User can not be added to this stage")
)

// Counters is the mutable progress of a document.
type Counters struct {
	Stage   int    `json:"current_stage"`
	Version int    `json:"current_version"`
	Status  Status `json:"status"`
}

func countersOf(doc *Document) Counters {
	return Counters{Stage: doc.CurrentStage, Version: doc.CurrentVersion, Status: doc.Status}
}

// Transition is the outcome of applying an action to a document. It is
// computed without side effects; the service persists it.
type Transition struct {
	Action        Action
	From          Counters
	To            Counters
	LedgerVersion int
	Stage         *workflows.StageSnapshot
}

// RequiresSignature reports whether the action collects a signature.
func (t Transition) RequiresSignature() bool {
	return t.Action == ActionAccepted || t.Action == ActionCompleted
}

// EmbedsSignatures reports whether the stored artifact carries the full
// signature block.
func (t Transition) EmbedsSignatures() bool {
	return t.Action == ActionCompleted
}

// Intent is a request to move a document on.
type Intent struct {
	Action       Action
	Actor        auth.Principal
	HasSignature bool
}

// StateMachine drives documents through their snapshot.
type StateMachine struct {
	statuses *lifecycle.StateMachine
	gate     *Gate
}

func NewStateMachine(gate *Gate) *StateMachine {
	return &StateMachine{
		statuses: lifecycle.NewDocumentStateMachine(),
		gate:     gate,
	}
}

// Submit starts the document at its first stage.
func (m *StateMachine) Submit(doc *Document, fieldCount int64) (Transition, error) {
	if fieldCount < 1 {
		return Transition{}, ErrNoFieldsBound
	}
	if doc.Status != StatusDraft || doc.CurrentStage != 0 {
		return Transition{}, ErrAlreadySubmitted
	}

	to := Counters{Stage: 1, Version: 1, Status: StatusInTransition}
	if err := m.checkStatus(doc.Status, to.Status); err != nil {
		return Transition{}, err
	}
	stage, _ := doc.Stages().StageAt(1)
	return Transition{
		Action:        ActionSubmit,
		From:          countersOf(doc),
		To:            to,
		LedgerVersion: to.Version,
		Stage:         stage,
	}, nil
}

// Apply validates in against doc and computes the resulting counters.
// Preconditions are checked in a fixed order so callers always see the
// most fundamental violation first.
func (m *StateMachine) Apply(doc *Document, in Intent) (Transition, error) {
	if doc.Status.IsFinal() {
		return Transition{}, ErrDocumentFinalized
	}
	if doc.CurrentStage <= 0 {
		return Transition{}, ErrNotYetBound
	}
	stage, ok := doc.Stages().StageAt(doc.CurrentStage)
	if !ok {
		return Transition{}, ErrNoFurtherStage
	}
	if !m.gate.CanAct(stage, in.Actor) {
		return Transition{}, ErrUnauthorizedActor
	}

	from := countersOf(doc)
	t := Transition{Action: in.Action, From: from, Stage: stage}

	switch in.Action {
	case ActionRejected:
		if from.Version <= 1 {
			return Transition{}, ErrInvalidOperation
		}
		t.To = Counters{Stage: from.Stage, Version: from.Version, Status: StatusRejected}
		t.LedgerVersion = from.Version

	case ActionReview:
		if from.Version <= 1 || stage.Sequence <= 1 {
			return Transition{}, ErrInvalidOperation
		}
		t.To = Counters{Stage: stage.Sequence - 1, Version: from.Version + 1, Status: StatusReview}
		t.LedgerVersion = from.Version

	case ActionReviewed, ActionAccepted:
		t.To = Counters{Stage: stage.Sequence + 1, Version: from.Version + 1, Status: StatusInTransition}
		t.LedgerVersion = from.Version

	case ActionCompleted:
		t.To = Counters{Stage: stage.Sequence + 1, Version: from.Version + 1, Status: StatusCompleted}
		t.LedgerVersion = from.Version

	default:
		return Transition{}, ErrUnknownAction
	}

	if t.RequiresSignature() && !in.HasSignature {
		return Transition{}, ErrSignatureRequired
	}
	if err := m.checkStatus(from.Status, t.To.Status); err != nil {
		return Transition{}, err
	}
	return t, nil
}

// AllowedActions lists the actions the status table permits from status.
func (m *StateMachine) AllowedActions(status Status) []Action {
	var out []Action
	for _, next := range m.statuses.GetAllowedTransitions(string(status)) {
		switch Status(next) {
		case StatusInTransition:
			if status == StatusDraft {
				out = append(out, ActionSubmit)
			} else {
				out = append(out, ActionAccepted, ActionReviewed)
			}
		case StatusReview:
			out = append(out, ActionReview)
		case StatusCompleted:
			out = append(out, ActionCompleted)
		case StatusRejected:
			out = append(out, ActionRejected)
		}
	}
	return out
}

func (m *StateMachine) checkStatus(from, to Status) error {
	if !m.statuses.CanTransition(string(from), string(to)) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidOperation, from, to)
	}
	return nil
}
