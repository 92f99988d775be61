package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateline/internal/domain"
	"gateline/internal/engine/auth"
	"gateline/internal/events"
	"gateline/internal/repo"
)

// SiteVisitCommand records the site visit log and closes the stage.
type SiteVisitCommand struct {
	StageID          string
	MeetingHeldAt    *time.Time
	MinutesLink      string
	PhotosLink       string
	UpdatedBriefLink string
}

func (e Engine) CompleteSiteVisit(ctx context.Context, cmd SiteVisitCommand, actor auth.Actor) (err error) {
	const op = "complete_site_visit"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermStagesManage); err != nil {
		return unauthorized(op, err)
	}
	return e.stageCommand(ctx, op, cmd.StageID, actor, func(ctx context.Context, tx *sql.Tx, stage domain.Stage) error {
		if stage.Type != domain.StageSiteVisit {
			return validation(op, "stage %s is not a site visit stage", stage.Type)
		}
		log := domain.SiteVisitLog{
			StageID:          stage.ID,
			MinutesLink:      strings.TrimSpace(cmd.MinutesLink),
			PhotosLink:       strings.TrimSpace(cmd.PhotosLink),
			UpdatedBriefLink: strings.TrimSpace(cmd.UpdatedBriefLink),
			RecordedBy:       actor.ID,
			RecordedAt:       e.stamp(),
		}
		if cmd.MeetingHeldAt != nil && !cmd.MeetingHeldAt.IsZero() {
			log.MeetingHeldAt = ptr(cmd.MeetingHeldAt.UTC().Format(time.RFC3339))
		}
		if err := e.Repo.UpsertSiteVisitTx(ctx, tx, log); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.SiteVisitRecorded, stage.ProjectID, "stage", stage.ID, actor.ID, events.EventPayload{
			"minutes_link": log.MinutesLink, "photos_link": log.PhotosLink, "updated_brief_link": log.UpdatedBriefLink,
		})
	})
}

// RequestMeasurement opens the measurement requisition for a vendor.
func (e Engine) RequestMeasurement(ctx context.Context, stageID, vendorID string, actor auth.Actor) (m domain.MeasurementRequisition, err error) {
	const op = "request_measurement"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermStagesManage); err != nil {
		return m, unauthorized(op, err)
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return m, validation(op, "vendor is required")
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return m, err
	}
	defer cancel()
	defer tx.Rollback()
	stage, err := e.Repo.GetStageTx(ctx, tx, stageID)
	if err != nil {
		return m, classify(op, err)
	}
	if stage.Type != domain.StageMeasurement {
		return m, validation(op, "stage %s is not a measurement stage", stage.Type)
	}
	if stage.Status != domain.StageInProgress {
		return m, invalidState(op, "stage %s is %s, not in_progress", stage.Type, stage.Status)
	}
	if _, err := e.Repo.GetMeasurementTx(ctx, tx, stage.ID); err == nil {
		return m, invalidState(op, "measurement already requested for stage %s", stage.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return m, classify(op, err)
	}
	now := e.stamp()
	m = domain.MeasurementRequisition{
		StageID:     stage.ID,
		VendorID:    vendorID,
		Status:      domain.MeasurementPendingUpload,
		RequestedBy: actor.ID,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertMeasurementTx(ctx, tx, m); err != nil {
		return domain.MeasurementRequisition{}, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.MeasurementRequested, stage.ProjectID, "stage", stage.ID, actor.ID, events.EventPayload{"vendor_id": vendorID}); err != nil {
		return domain.MeasurementRequisition{}, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.MeasurementRequisition{}, classify(op, err)
	}
	return m, nil
}

// MeasurementCommand approves the vendor's package and closes the stage.
type MeasurementCommand struct {
	StageID     string
	PackageLink string
}

func (e Engine) CompleteMeasurement(ctx context.Context, cmd MeasurementCommand, actor auth.Actor) (err error) {
	const op = "complete_measurement"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermStagesManage); err != nil {
		return unauthorized(op, err)
	}
	return e.stageCommand(ctx, op, cmd.StageID, actor, func(ctx context.Context, tx *sql.Tx, stage domain.Stage) error {
		if stage.Type != domain.StageMeasurement {
			return validation(op, "stage %s is not a measurement stage", stage.Type)
		}
		m, err := e.Repo.GetMeasurementTx(ctx, tx, stage.ID)
		if errors.Is(err, repo.ErrNotFound) {
			// Leave it to the gate to report the missing requisition.
			return nil
		}
		if err != nil {
			return err
		}
		m.PackageLink = strings.TrimSpace(cmd.PackageLink)
		if m.PackageLink != "" {
			m.Status = domain.MeasurementApproved
		}
		m.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateMeasurementTx(ctx, tx, *m); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.MeasurementApproved, stage.ProjectID, "stage", stage.ID, actor.ID, events.EventPayload{
			"vendor_id": m.VendorID, "package_link": m.PackageLink, "status": m.Status,
		})
	})
}

// QSHandoverCommand records the QS validation and closes the stage.
type QSHandoverCommand struct {
	StageID                 string
	CostEstimationSheetLink string
	ValidatedBOQLink        string
}

func (e Engine) CompleteQSHandover(ctx context.Context, cmd QSHandoverCommand, actor auth.Actor) (err error) {
	const op = "complete_qs_handover"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermStagesQSValidate); err != nil {
		return unauthorized(op, err)
	}
	return e.stageCommand(ctx, op, cmd.StageID, actor, func(ctx context.Context, tx *sql.Tx, stage domain.Stage) error {
		if stage.Type != domain.StageQSHandover {
			return validation(op, "stage %s is not a QS handover stage", stage.Type)
		}
		v := domain.QSValidation{
			StageID:                 stage.ID,
			CostEstimationSheetLink: strings.TrimSpace(cmd.CostEstimationSheetLink),
			ValidatedBOQLink:        strings.TrimSpace(cmd.ValidatedBOQLink),
			ValidatedBy:             actor.ID,
			ValidatedAt:             e.stamp(),
		}
		if err := e.Repo.UpsertQSValidationTx(ctx, tx, v); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.QSValidated, stage.ProjectID, "stage", stage.ID, actor.ID, events.EventPayload{
			"cost_estimation_sheet_link": v.CostEstimationSheetLink, "validated_boq_link": v.ValidatedBOQLink,
		})
	})
}

// AddDisciplineSignoff records one interdisciplinary signoff on a technical review stage.
func (e Engine) AddDisciplineSignoff(ctx context.Context, stageID, discipline string, actor auth.Actor) (s domain.DisciplineSignoff, err error) {
	const op = "add_discipline_signoff"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermStagesDisciplineSignoff); err != nil {
		return s, unauthorized(op, err)
	}
	discipline = strings.TrimSpace(discipline)
	if discipline == "" {
		return s, validation(op, "discipline is required")
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return s, err
	}
	defer cancel()
	defer tx.Rollback()
	stage, err := e.Repo.GetStageTx(ctx, tx, stageID)
	if err != nil {
		return s, classify(op, err)
	}
	if stage.Type != domain.StageTechnicalReview {
		return s, validation(op, "stage %s is not a technical review stage", stage.Type)
	}
	if stage.Status != domain.StageInProgress {
		return s, invalidState(op, "stage %s is %s, not in_progress", stage.Type, stage.Status)
	}
	s = domain.DisciplineSignoff{
		ID:          uuid.NewString(),
		StageID:     stage.ID,
		Discipline:  discipline,
		SignedOffBy: actor.ID,
		SignedOffAt: e.stamp(),
	}
	if err := e.Repo.InsertSignoffTx(ctx, tx, s); err != nil {
		return domain.DisciplineSignoff{}, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.DisciplineSignedOff, stage.ProjectID, "stage", stage.ID, actor.ID, events.EventPayload{"discipline": discipline}); err != nil {
		return domain.DisciplineSignoff{}, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.DisciplineSignoff{}, classify(op, err)
	}
	return s, nil
}
