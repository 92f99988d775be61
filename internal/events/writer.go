package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	ProjectCreated       = "project.created"
	ProjectDeleted       = "project.deleted"
	ProjectCompleted     = "project.completed"
	ProjectHandedOver    = "project.handed_over"
	HandoverSigned       = "handover.signed"
	StageCompleted       = "stage.completed"
	StageUnlocked        = "stage.unlocked"
	SiteVisitRecorded    = "stage.site_visit_recorded"
	MeasurementRequested = "stage.measurement_requested"
	MeasurementApproved  = "stage.measurement_approved"
	QSValidated          = "stage.qs_validated"
	DisciplineSignedOff  = "stage.discipline_signed_off"
	TaskCreated          = "task.created"
	TaskAssigned         = "task.assigned"
	TaskSubmitted        = "task.submitted"
	TaskAutoSubmitted    = "task.auto_submitted"
	TaskReviewed         = "task.reviewed"
	TaskVerified         = "task.verified"
	TaskSignedOff        = "task.signed_off"
	TaskCommented        = "task.commented"
	RequisitionCreated   = "requisition.created"
	RequisitionSubmitted = "requisition.submitted"
	RequisitionDecided   = "requisition.decided"
	RequisitionDelivered = "requisition.delivered"
	RoleGranted          = "rbac.role_granted"
	RoleRevoked          = "rbac.role_revoked"
	APIKeyRevoked        = "rbac.api_key_revoked"
	ConfigImported       = "config.imported"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit row inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
