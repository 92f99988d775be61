package domain

import "time"

type ProjectStatus string

const (
	ProjectActive     ProjectStatus = "active"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectHandedOver ProjectStatus = "handed_over"
)

type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Client    string        `json:"client,omitempty"`
	DealRef   string        `json:"deal_ref,omitempty"`
	Status    ProjectStatus `json:"status" enum:"active,completed,handed_over"`
	CreatedBy string        `json:"created_by"`
	CreatedAt string        `json:"created_at" format:"date-time"`
	ClosedAt  *string       `json:"closed_at,omitempty" format:"date-time"`
	Handover  Handover      `json:"handover"`
}

// Handover holds the two execution handover signatures.
type Handover struct {
	DesignSignedBy     *string `json:"design_signed_by,omitempty"`
	DesignSignedAt     *string `json:"design_signed_at,omitempty" format:"date-time"`
	OperationsSignedBy *string `json:"operations_signed_by,omitempty"`
	OperationsSignedAt *string `json:"operations_signed_at,omitempty" format:"date-time"`
}

// Complete reports whether both signatures are present.
func (h Handover) Complete() bool {
	return h.DesignSignedBy != nil && h.DesignSignedAt != nil &&
		h.OperationsSignedBy != nil && h.OperationsSignedAt != nil
}

type Stage struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Type      StageType   `json:"type"`
	Status    StageStatus `json:"status" enum:"locked,in_progress,completed"`
	Order     int         `json:"order"`
	UpdatedAt string      `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID           string     `json:"id"`
	StageID      string     `json:"stage_id"`
	ProjectID    string     `json:"project_id"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status" enum:"open,submitted,revision_requested,verified,done"`
	OwnerID      *string    `json:"owner_id,omitempty"`
	DueDate      *string    `json:"due_date,omitempty" format:"date"`
	SubmittedAt  *string    `json:"submitted_at,omitempty" format:"date-time"`
	FileLink     *string    `json:"file_link,omitempty"`
	VerifiedBy   *string    `json:"verified_by,omitempty"`
	VerifiedAt   *string    `json:"verified_at,omitempty" format:"date-time"`
	SignedOffBy  *string    `json:"signed_off_by,omitempty"`
	SignedOffAt  *string    `json:"signed_off_at,omitempty" format:"date-time"`
	SignOffNotes *string    `json:"sign_off_notes,omitempty"`
	Version      int        `json:"version"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
	Score        *Score     `json:"score,omitempty"`
}

// Due parses the due date, nil when unset or malformed.
func (t Task) Due() *time.Time {
	if t.DueDate == nil || *t.DueDate == "" {
		return nil
	}
	d, err := time.Parse(DateLayout, *t.DueDate)
	if err != nil {
		return nil
	}
	return &d
}

// DateLayout is the calendar-date format used for due dates.
const DateLayout = "2006-01-02"

type Score struct {
	TaskID       string `json:"task_id"`
	Score        int    `json:"score"`
	LatenessDays int    `json:"lateness_days"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SiteVisitLog struct {
	StageID          string  `json:"stage_id"`
	MeetingHeldAt    *string `json:"meeting_held_at,omitempty" format:"date-time"`
	MinutesLink      string  `json:"minutes_link,omitempty"`
	PhotosLink       string  `json:"photos_link,omitempty"`
	UpdatedBriefLink string  `json:"updated_brief_link,omitempty"`
	RecordedBy       string  `json:"recorded_by"`
	RecordedAt       string  `json:"recorded_at" format:"date-time"`
}

const (
	MeasurementPendingUpload = "pending_vendor_upload"
	MeasurementApproved      = "approved"
)

type MeasurementRequisition struct {
	StageID     string `json:"stage_id"`
	VendorID    string `json:"vendor_id"`
	Status      string `json:"status"`
	PackageLink string `json:"package_link,omitempty"`
	RequestedBy string `json:"requested_by"`
	RequestedAt string `json:"requested_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type QSValidation struct {
	StageID                 string `json:"stage_id"`
	CostEstimationSheetLink string `json:"cost_estimation_sheet_link"`
	ValidatedBOQLink        string `json:"validated_boq_link"`
	ValidatedBy             string `json:"validated_by"`
	ValidatedAt             string `json:"validated_at" format:"date-time"`
}

type DisciplineSignoff struct {
	ID          string `json:"id"`
	StageID     string `json:"stage_id"`
	Discipline  string `json:"discipline"`
	SignedOffBy string `json:"signed_off_by"`
	SignedOffAt string `json:"signed_off_at" format:"date-time"`
}

type Requisition struct {
	ID                  string            `json:"id"`
	ProjectID           *string           `json:"project_id,omitempty"`
	Number              string            `json:"number"`
	MaterialType        string            `json:"material_type"`
	Urgency             string            `json:"urgency,omitempty"`
	RequiredBy          *string           `json:"required_by,omitempty" format:"date"`
	RequisitionApproval ApprovalDecision  `json:"requisition_approval" enum:"pending,approved,rejected"`
	PMApproval          ApprovalDecision  `json:"pm_approval" enum:"pending,approved,rejected"`
	QSApproval          ApprovalDecision  `json:"qs_approval" enum:"pending,approved,rejected"`
	Status              RequisitionStatus `json:"status" enum:"draft,pending,approved,rejected,partially_delivered,delivered"`
	RequestedBy         string            `json:"requested_by"`
	CreatedAt           string            `json:"created_at" format:"date-time"`
	UpdatedAt           string            `json:"updated_at" format:"date-time"`
}

// Decision returns the decision held by the given slot.
func (r Requisition) Decision(slot ApprovalSlot) ApprovalDecision {
	switch slot {
	case SlotRequisition:
		return r.RequisitionApproval
	case SlotPM:
		return r.PMApproval
	case SlotQS:
		return r.QSApproval
	}
	return ""
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
