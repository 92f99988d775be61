package server

import (
	"time"

	"gateline/internal/approval"
	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/gate"
)

// Request payloads

type CreateProjectRequest struct {
	Name    string `json:"name" minLength:"1"`
	Client  string `json:"client,omitempty"`
	DealRef string `json:"deal_ref,omitempty" doc:"Originating deal; at most one project per deal"`
}

type SiteVisitRequest struct {
	MeetingHeldAt    *time.Time `json:"meeting_held_at,omitempty"`
	MinutesLink      string     `json:"minutes_link,omitempty"`
	PhotosLink       string     `json:"photos_link,omitempty"`
	UpdatedBriefLink string     `json:"updated_brief_link,omitempty"`
}

type MeasurementRequestRequest struct {
	VendorID string `json:"vendor_id"`
}

type MeasurementRequest struct {
	PackageLink string `json:"package_link,omitempty"`
}

type QSHandoverRequest struct {
	CostEstimationSheetLink string `json:"cost_estimation_sheet_link,omitempty"`
	ValidatedBOQLink        string `json:"validated_boq_link,omitempty"`
}

type SignoffRequest struct {
	Discipline string `json:"discipline"`
}

type CreateTaskRequest struct {
	Title   string `json:"title" minLength:"1"`
	OwnerID string `json:"owner_id,omitempty"`
	DueDate string `json:"due_date,omitempty" format:"date"`
}

type AssignTaskRequest struct {
	OwnerID string `json:"owner_id"`
	DueDate string `json:"due_date,omitempty" format:"date"`
}

type SubmitTaskRequest struct {
	FileLink string `json:"file_link,omitempty"`
}

type ReviewTaskRequest struct {
	Status string `json:"status" enum:"done,revision_requested"`
	Notes  string `json:"notes,omitempty"`
}

type SignOffTaskRequest struct {
	Notes string `json:"notes,omitempty"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

type CreateRequisitionRequest struct {
	ProjectID    string `json:"project_id,omitempty"`
	Number       string `json:"number"`
	MaterialType string `json:"material_type"`
	Urgency      string `json:"urgency,omitempty"`
	RequiredBy   string `json:"required_by,omitempty" format:"date"`
	Draft        bool   `json:"draft,omitempty"`
}

type ApprovalRequest struct {
	Slot     string `json:"slot" enum:"requisition,pm,qs"`
	Decision string `json:"decision" enum:"approved,rejected"`
}

type DeliveryRequest struct {
	Partial bool `json:"partial,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id,omitempty" doc:"Defaults to the caller"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type StageResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Label     string `json:"label"`
	Status    string `json:"status" enum:"locked,in_progress,completed"`
	Order     int    `json:"order"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type StageDetailResponse struct {
	Stage       StageResponse                  `json:"stage"`
	Tasks       []domain.Task                  `json:"tasks"`
	SiteVisit   *domain.SiteVisitLog           `json:"site_visit,omitempty"`
	Measurement *domain.MeasurementRequisition `json:"measurement,omitempty"`
	QS          *domain.QSValidation           `json:"qs_validation,omitempty"`
	Signoffs    []domain.DisciplineSignoff     `json:"signoffs,omitempty"`
	Handover    *domain.Handover               `json:"handover,omitempty"`
	Gate        gate.Result                    `json:"gate"`
}

type SubmitTaskResponse struct {
	Task     domain.Task  `json:"task"`
	Score    domain.Score `json:"score"`
	Sibling  *domain.Task `json:"sibling,omitempty"`
	Replayed bool         `json:"replayed"`
}

type HandoverResponse struct {
	Project    domain.Project `json:"project"`
	Role       string         `json:"role" enum:"design,operations"`
	HandedOver bool           `json:"handed_over"`
}

type PendingApprovalResponse struct {
	Requisition domain.Requisition `json:"requisition"`
	PendingFor  string             `json:"pending_for" enum:"requisition,pm,qs"`
	Actionable  bool               `json:"actionable"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key" doc:"Shown once"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeySummary struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func stageResponse(s domain.Stage) StageResponse {
	return StageResponse{
		ID:        s.ID,
		ProjectID: s.ProjectID,
		Type:      s.Type.String(),
		Label:     s.Type.Label(),
		Status:    string(s.Status),
		Order:     s.Order,
		UpdatedAt: s.UpdatedAt,
	}
}

func mapStages(items []domain.Stage) []StageResponse {
	out := make([]StageResponse, 0, len(items))
	for _, s := range items {
		out = append(out, stageResponse(s))
	}
	return out
}

func stageDetailResponse(v engine.StageView) StageDetailResponse {
	return StageDetailResponse{
		Stage:       stageResponse(v.Stage),
		Tasks:       nonNilSlice(v.Tasks),
		SiteVisit:   v.SiteVisit,
		Measurement: v.Measurement,
		QS:          v.QS,
		Signoffs:    v.Signoffs,
		Handover:    v.Handover,
		Gate:        v.Gate,
	}
}

func submitTaskResponse(r engine.SubmitResult) SubmitTaskResponse {
	return SubmitTaskResponse{Task: r.Task, Score: r.Score, Sibling: r.Sibling, Replayed: r.Replayed}
}

func handoverResponse(r engine.HandoverResult) HandoverResponse {
	return HandoverResponse{Project: r.Project, Role: r.Role, HandedOver: r.HandedOver}
}

func mapPending(items []approval.PendingItem) []PendingApprovalResponse {
	out := make([]PendingApprovalResponse, 0, len(items))
	for _, it := range items {
		out = append(out, PendingApprovalResponse{Requisition: it.Requisition, PendingFor: string(it.PendingFor), Actionable: it.Actionable})
	}
	return out
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
