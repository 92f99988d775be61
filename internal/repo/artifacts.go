package repo

import (
	"context"
	"database/sql"

	"gateline/internal/domain"
)

func (r Repo) UpsertSiteVisitTx(ctx context.Context, tx *sql.Tx, l domain.SiteVisitLog) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO site_visit_logs(stage_id,meeting_held_at,minutes_link,photos_link,updated_brief_link,recorded_by,recorded_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(stage_id) DO UPDATE SET meeting_held_at=excluded.meeting_held_at, minutes_link=excluded.minutes_link,
photos_link=excluded.photos_link, updated_brief_link=excluded.updated_brief_link, recorded_by=excluded.recorded_by, recorded_at=excluded.recorded_at`,
		l.StageID, nullableStringPtr(l.MeetingHeldAt), nullable(l.MinutesLink), nullable(l.PhotosLink), nullable(l.UpdatedBriefLink), l.RecordedBy, l.RecordedAt)
	return err
}

func (r Repo) GetSiteVisitTx(ctx context.Context, tx *sql.Tx, stageID string) (*domain.SiteVisitLog, error) {
	return getSiteVisit(ctx, tx, stageID)
}

func getSiteVisit(ctx context.Context, q queryer, stageID string) (*domain.SiteVisitLog, error) {
	var l domain.SiteVisitLog
	var held sql.NullString
	err := q.QueryRowContext(ctx, `SELECT stage_id,meeting_held_at,COALESCE(minutes_link,''),COALESCE(photos_link,''),COALESCE(updated_brief_link,''),recorded_by,recorded_at
FROM site_visit_logs WHERE stage_id=?`, stageID).
		Scan(&l.StageID, &held, &l.MinutesLink, &l.PhotosLink, &l.UpdatedBriefLink, &l.RecordedBy, &l.RecordedAt)
	if err != nil {
		return nil, translate(err)
	}
	l.MeetingHeldAt = strPtr(held)
	return &l, nil
}

func (r Repo) InsertMeasurementTx(ctx context.Context, tx *sql.Tx, m domain.MeasurementRequisition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO measurement_requisitions(stage_id,vendor_id,status,package_link,requested_by,requested_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		m.StageID, m.VendorID, m.Status, nullable(m.PackageLink), m.RequestedBy, m.RequestedAt, m.UpdatedAt)
	return translate(err)
}

func (r Repo) UpdateMeasurementTx(ctx context.Context, tx *sql.Tx, m domain.MeasurementRequisition) error {
	res, err := tx.ExecContext(ctx, `UPDATE measurement_requisitions SET status=?, package_link=?, updated_at=? WHERE stage_id=?`,
		m.Status, nullable(m.PackageLink), m.UpdatedAt, m.StageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetMeasurementTx(ctx context.Context, tx *sql.Tx, stageID string) (*domain.MeasurementRequisition, error) {
	return getMeasurement(ctx, tx, stageID)
}

func getMeasurement(ctx context.Context, q queryer, stageID string) (*domain.MeasurementRequisition, error) {
	var m domain.MeasurementRequisition
	err := q.QueryRowContext(ctx, `SELECT stage_id,vendor_id,status,COALESCE(package_link,''),requested_by,requested_at,updated_at
FROM measurement_requisitions WHERE stage_id=?`, stageID).
		Scan(&m.StageID, &m.VendorID, &m.Status, &m.PackageLink, &m.RequestedBy, &m.RequestedAt, &m.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r Repo) UpsertQSValidationTx(ctx context.Context, tx *sql.Tx, v domain.QSValidation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO qs_validations(stage_id,cost_estimation_sheet_link,validated_boq_link,validated_by,validated_at) VALUES (?,?,?,?,?)
ON CONFLICT(stage_id) DO UPDATE SET cost_estimation_sheet_link=excluded.cost_estimation_sheet_link,
validated_boq_link=excluded.validated_boq_link, validated_by=excluded.validated_by, validated_at=excluded.validated_at`,
		v.StageID, v.CostEstimationSheetLink, v.ValidatedBOQLink, v.ValidatedBy, v.ValidatedAt)
	return err
}

func (r Repo) GetQSValidationTx(ctx context.Context, tx *sql.Tx, stageID string) (*domain.QSValidation, error) {
	return getQSValidation(ctx, tx, stageID)
}

func getQSValidation(ctx context.Context, q queryer, stageID string) (*domain.QSValidation, error) {
	var v domain.QSValidation
	err := q.QueryRowContext(ctx, `SELECT stage_id,cost_estimation_sheet_link,validated_boq_link,validated_by,validated_at FROM qs_validations WHERE stage_id=?`, stageID).
		Scan(&v.StageID, &v.CostEstimationSheetLink, &v.ValidatedBOQLink, &v.ValidatedBy, &v.ValidatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (r Repo) InsertSignoffTx(ctx context.Context, tx *sql.Tx, s domain.DisciplineSignoff) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO discipline_signoffs(id,stage_id,discipline,signed_off_by,signed_off_at) VALUES (?,?,?,?,?)`,
		s.ID, s.StageID, s.Discipline, s.SignedOffBy, s.SignedOffAt)
	return translate(err)
}

func (r Repo) ListSignoffsTx(ctx context.Context, tx *sql.Tx, stageID string) ([]domain.DisciplineSignoff, error) {
	return listSignoffs(ctx, tx, stageID)
}

func listSignoffs(ctx context.Context, q queryer, stageID string) ([]domain.DisciplineSignoff, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,stage_id,discipline,signed_off_by,signed_off_at FROM discipline_signoffs WHERE stage_id=? ORDER BY signed_off_at, id`, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DisciplineSignoff
	for rows.Next() {
		var s domain.DisciplineSignoff
		if err := rows.Scan(&s.ID, &s.StageID, &s.Discipline, &s.SignedOffBy, &s.SignedOffAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
