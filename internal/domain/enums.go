package domain

import "fmt"

// StageType tags a stage with its position in the fixed delivery catalog.
// The integer value is the catalog ordinal; the string form is what gets persisted.
type StageType int

const (
	StageFinanceConfirmation StageType = iota + 1
	StageDealCreation
	StageSiteVisit
	StageMeasurement
	StageInitialDesign
	StageQSHandover
	StageTechnicalReview
	StageAuthorityPackage
	StageFinalDelivery
	StageExecutionHandover
)

var stageTypeNames = map[StageType]string{
	StageFinanceConfirmation: "finance_confirmation",
	StageDealCreation:        "deal_creation",
	StageSiteVisit:           "site_visit",
	StageMeasurement:         "measurement",
	StageInitialDesign:       "initial_design",
	StageQSHandover:          "qs_handover",
	StageTechnicalReview:     "technical_review",
	StageAuthorityPackage:    "authority_package",
	StageFinalDelivery:       "final_delivery",
	StageExecutionHandover:   "execution_handover",
}

var stageTypeLabels = map[StageType]string{
	StageFinanceConfirmation: "Finance Confirmation",
	StageDealCreation:        "Deal Creation",
	StageSiteVisit:           "Design Activation & Site Visit",
	StageMeasurement:         "Measurement Requisition",
	StageInitialDesign:       "Initial Design Development",
	StageQSHandover:          "Forward to QS",
	StageTechnicalReview:     "Technical Review & Coordination",
	StageAuthorityPackage:    "Authority Drawing Package",
	StageFinalDelivery:       "Final Package Delivery",
	StageExecutionHandover:   "Handover to Execution",
}

// StageCatalog returns every stage type in delivery order.
func StageCatalog() []StageType {
	out := make([]StageType, 0, len(stageTypeNames))
	for t := StageFinanceConfirmation; t <= StageExecutionHandover; t++ {
		out = append(out, t)
	}
	return out
}

// Ordinal is the 1-based catalog position.
func (t StageType) Ordinal() int { return int(t) }

func (t StageType) Valid() bool {
	_, ok := stageTypeNames[t]
	return ok
}

func (t StageType) String() string {
	if n, ok := stageTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("stage_type(%d)", int(t))
}

// Label is the human readable stage name.
func (t StageType) Label() string {
	return stageTypeLabels[t]
}

// ParseStageType maps a persisted name back to its catalog entry.
func ParseStageType(s string) (StageType, error) {
	for t, n := range stageTypeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown stage type %q", s)
}

func (t StageType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid stage type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *StageType) UnmarshalText(b []byte) error {
	v, err := ParseStageType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type StageStatus string

const (
	StageLocked     StageStatus = "locked"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
)

func (s StageStatus) rank() int {
	switch s {
	case StageLocked:
		return 0
	case StageInProgress:
		return 1
	case StageCompleted:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next goes strictly forward.
func (s StageStatus) CanAdvanceTo(next StageStatus) bool {
	return s.rank() >= 0 && next.rank() > s.rank()
}

type TaskStatus string

const (
	TaskOpen              TaskStatus = "open"
	TaskSubmitted         TaskStatus = "submitted"
	TaskRevisionRequested TaskStatus = "revision_requested"
	TaskVerified          TaskStatus = "verified"
	TaskDone              TaskStatus = "done"
)

// AtLeastSubmitted reports Submitted or anything past it in the review pipeline.
func (s TaskStatus) AtLeastSubmitted() bool {
	return s == TaskSubmitted || s == TaskVerified || s == TaskDone
}

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskOpen, TaskSubmitted, TaskRevisionRequested, TaskVerified, TaskDone:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

type ApprovalSlot string

const (
	SlotRequisition ApprovalSlot = "requisition"
	SlotPM          ApprovalSlot = "pm"
	SlotQS          ApprovalSlot = "qs"
)

func ParseApprovalSlot(s string) (ApprovalSlot, error) {
	switch ApprovalSlot(s) {
	case SlotRequisition, SlotPM, SlotQS:
		return ApprovalSlot(s), nil
	}
	return "", fmt.Errorf("unknown approval slot %q", s)
}

type ApprovalDecision string

const (
	DecisionPending  ApprovalDecision = "pending"
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
)

type RequisitionStatus string

const (
	RequisitionDraft              RequisitionStatus = "draft"
	RequisitionPending            RequisitionStatus = "pending"
	RequisitionApproved           RequisitionStatus = "approved"
	RequisitionRejected           RequisitionStatus = "rejected"
	RequisitionPartiallyDelivered RequisitionStatus = "partially_delivered"
	RequisitionDelivered          RequisitionStatus = "delivered"
)
