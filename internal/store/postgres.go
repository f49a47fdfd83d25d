package store

import (
	"context"
	"database/sql"
	"time"

	"sonta/internal/auth"
	"sonta/internal/checkin"
	"sonta/internal/meeting"
	"sonta/internal/model"
)

// Postgres implements the persistence surfaces of the qrcode, meeting,
// checkin, and auth packages on one database handle.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection.
func NewPostgres(db *DB) *Postgres {
	return &Postgres{db: db.Client}
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meetings (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'scheduled',
			location_name TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			geofence_radius_meters DOUBLE PRECISION NOT NULL,
			scheduled_start TIMESTAMPTZ NOT NULL,
			actual_start TIMESTAMPTZ,
			late_arrival_cutoff_minutes INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS qr_codes (
			id UUID PRIMARY KEY,
			meeting_id UUID NOT NULL REFERENCES meetings(id),
			token TEXT NOT NULL UNIQUE,
			scan_count INT NOT NULL DEFAULT 0,
			max_scans INT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMPTZ,
			invalidated_at TIMESTAMPTZ,
			invalidated_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_qr_codes_meeting_active ON qr_codes (meeting_id) WHERE active`,
		`CREATE TABLE IF NOT EXISTS sonta_heads (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			sonta_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			profile_image_url TEXT NOT NULL DEFAULT '',
			enrollment_date TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			id UUID PRIMARY KEY,
			meeting_id UUID NOT NULL REFERENCES meetings(id),
			sonta_head_id UUID NOT NULL REFERENCES sonta_heads(id),
			check_in_timestamp TIMESTAMPTZ NOT NULL,
			check_in_method TEXT NOT NULL,
			facial_confidence_score DOUBLE PRECISION,
			is_late BOOLEAN NOT NULL DEFAULT FALSE,
			verification_attempts INT NOT NULL DEFAULT 1,
			checked_in_by_admin_id TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (meeting_id, sonta_head_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_verifications (
			id UUID PRIMARY KEY,
			meeting_id UUID NOT NULL REFERENCES meetings(id),
			sonta_head_id UUID,
			qr_code_id UUID,
			captured_image_url TEXT NOT NULL DEFAULT '',
			facial_confidence_score DOUBLE PRECISION NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			device JSONB,
			status TEXT NOT NULL DEFAULT 'pending',
			reviewed_by TEXT NOT NULL DEFAULT '',
			reviewed_at TIMESTAMPTZ,
			review_notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS verification_attempts (
			id UUID PRIMARY KEY,
			meeting_id UUID NOT NULL,
			sonta_head_id UUID,
			qr_code_id UUID,
			attempted_at TIMESTAMPTZ NOT NULL,
			result TEXT NOT NULL,
			facial_confidence_score DOUBLE PRECISION,
			captured_image_url TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			device JSONB,
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS magic_link_tokens (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			expires_at TIMESTAMPTZ NOT NULL,
			used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- meetings ---

func (p *Postgres) InsertMeeting(ctx context.Context, m model.Meeting) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO meetings (id, title, status, location_name, latitude, longitude,
			geofence_radius_meters, scheduled_start, actual_start,
			late_arrival_cutoff_minutes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.Title, m.Status, m.LocationName, m.Latitude, m.Longitude,
		m.GeofenceRadiusMeters, m.ScheduledStart, m.ActualStart,
		m.LateArrivalCutoffMinutes, m.CreatedAt)
	return err
}

func (p *Postgres) FindMeeting(ctx context.Context, id string) (*model.Meeting, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, title, status, location_name, latitude, longitude,
			geofence_radius_meters, scheduled_start, actual_start,
			late_arrival_cutoff_minutes, created_at
		FROM meetings WHERE id = $1`, id)
	return scanMeeting(row)
}

func (p *Postgres) UpdateMeeting(ctx context.Context, m *model.Meeting) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE meetings SET title=$2, status=$3, location_name=$4, latitude=$5,
			longitude=$6, geofence_radius_meters=$7, scheduled_start=$8,
			actual_start=$9, late_arrival_cutoff_minutes=$10
		WHERE id=$1`,
		m.ID, m.Title, m.Status, m.LocationName, m.Latitude, m.Longitude,
		m.GeofenceRadiusMeters, m.ScheduledStart, m.ActualStart,
		m.LateArrivalCutoffMinutes)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return meeting.ErrNotFound
	}
	return nil
}

func (p *Postgres) ListMeetings(ctx context.Context) ([]model.Meeting, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, status, location_name, latitude, longitude,
			geofence_radius_meters, scheduled_start, actual_start,
			late_arrival_cutoff_minutes, created_at
		FROM meetings ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(r rowScanner) (*model.Meeting, error) {
	var m model.Meeting
	err := r.Scan(&m.ID, &m.Title, &m.Status, &m.LocationName, &m.Latitude,
		&m.Longitude, &m.GeofenceRadiusMeters, &m.ScheduledStart,
		&m.ActualStart, &m.LateArrivalCutoffMinutes, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// --- qr codes ---

func (p *Postgres) ReplaceActiveQrCode(ctx context.Context, code model.QrCode) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE qr_codes SET active = FALSE WHERE meeting_id = $1 AND active`,
		code.MeetingID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO qr_codes (id, meeting_id, token, scan_count, max_scans,
			active, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		code.ID, code.MeetingID, code.Token, code.ScanCount, code.MaxScans,
		code.Active, code.ExpiresAt, code.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

const qrSelect = `
	SELECT id, meeting_id, token, scan_count, max_scans, active,
		expires_at, invalidated_at, invalidated_by, created_at
	FROM qr_codes`

func (p *Postgres) FindQrCode(ctx context.Context, id string) (*model.QrCode, error) {
	return scanQrCode(p.db.QueryRowContext(ctx, qrSelect+` WHERE id = $1`, id))
}

func (p *Postgres) FindQrCodeByToken(ctx context.Context, token string) (*model.QrCode, error) {
	return scanQrCode(p.db.QueryRowContext(ctx, qrSelect+` WHERE token = $1`, token))
}

func (p *Postgres) FindActiveQrCodeForMeeting(ctx context.Context, meetingID string) (*model.QrCode, error) {
	return scanQrCode(p.db.QueryRowContext(ctx,
		qrSelect+` WHERE meeting_id = $1 AND active ORDER BY created_at DESC LIMIT 1`,
		meetingID))
}

func (p *Postgres) IncrementScanCount(ctx context.Context, id string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`UPDATE qr_codes SET scan_count = scan_count + 1 WHERE id = $1 RETURNING scan_count`,
		id).Scan(&count)
	return count, err
}

func (p *Postgres) InvalidateQrCode(ctx context.Context, id, adminID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE qr_codes SET active = FALSE, invalidated_at = $2, invalidated_by = $3
		WHERE id = $1 AND invalidated_at IS NULL`,
		id, at, adminID)
	return err
}

func scanQrCode(r rowScanner) (*model.QrCode, error) {
	var q model.QrCode
	err := r.Scan(&q.ID, &q.MeetingID, &q.Token, &q.ScanCount, &q.MaxScans,
		&q.Active, &q.ExpiresAt, &q.InvalidatedAt, &q.InvalidatedBy, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// --- sonta heads ---

func (p *Postgres) InsertSontaHead(ctx context.Context, sh model.SontaHead) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sonta_heads (id, name, phone, sonta_name, email, notes,
			status, profile_image_url, enrollment_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sh.ID, sh.Name, sh.Phone, sh.SontaName, sh.Email, sh.Notes,
		sh.Status, sh.ProfileImageURL, sh.EnrollmentDate, sh.CreatedAt)
	return err
}

const sontaHeadSelect = `
	SELECT id, name, phone, sonta_name, email, notes, status,
		profile_image_url, enrollment_date, created_at
	FROM sonta_heads`

func (p *Postgres) FindSontaHead(ctx context.Context, id string) (*model.SontaHead, error) {
	var sh model.SontaHead
	err := p.db.QueryRowContext(ctx, sontaHeadSelect+` WHERE id = $1`, id).
		Scan(&sh.ID, &sh.Name, &sh.Phone, &sh.SontaName, &sh.Email, &sh.Notes,
			&sh.Status, &sh.ProfileImageURL, &sh.EnrollmentDate, &sh.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

func (p *Postgres) ListActiveSontaHeads(ctx context.Context) ([]model.SontaHead, error) {
	rows, err := p.db.QueryContext(ctx, sontaHeadSelect+` WHERE status = 'active' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SontaHead
	for rows.Next() {
		var sh model.SontaHead
		if err := rows.Scan(&sh.ID, &sh.Name, &sh.Phone, &sh.SontaName, &sh.Email,
			&sh.Notes, &sh.Status, &sh.ProfileImageURL, &sh.EnrollmentDate,
			&sh.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// --- attendance ---

func (p *Postgres) FindAttendance(ctx context.Context, meetingID, sontaHeadID string) (*model.Attendance, error) {
	return scanAttendance(p.db.QueryRowContext(ctx,
		attendanceSelect+` WHERE meeting_id = $1 AND sonta_head_id = $2`,
		meetingID, sontaHeadID))
}

// InsertAttendance relies on the (meeting_id, sonta_head_id) unique
// constraint: ON CONFLICT DO NOTHING makes the database arbitrate races and
// the loser gets checkin.ErrAlreadyCheckedIn.
func (p *Postgres) InsertAttendance(ctx context.Context, att model.Attendance) (*model.Attendance, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance (id, meeting_id, sonta_head_id, check_in_timestamp,
			check_in_method, facial_confidence_score, is_late, verification_attempts,
			checked_in_by_admin_id, notes, latitude, longitude, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (meeting_id, sonta_head_id) DO NOTHING`,
		att.ID, att.MeetingID, att.SontaHeadID, att.CheckInTimestamp,
		att.Method, att.FacialConfidenceScore, att.IsLate, att.VerificationAttempts,
		att.CheckedInByAdminID, att.Notes, att.Latitude, att.Longitude, att.CreatedAt)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, checkin.ErrAlreadyCheckedIn
	}
	return &att, nil
}

const attendanceSelect = `
	SELECT id, meeting_id, sonta_head_id, check_in_timestamp, check_in_method,
		facial_confidence_score, is_late, verification_attempts,
		checked_in_by_admin_id, notes, latitude, longitude, created_at
	FROM attendance`

func (p *Postgres) ListAttendanceForMeeting(ctx context.Context, meetingID string) ([]model.Attendance, error) {
	rows, err := p.db.QueryContext(ctx,
		attendanceSelect+` WHERE meeting_id = $1 ORDER BY check_in_timestamp`,
		meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Attendance
	for rows.Next() {
		att, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *att)
	}
	return out, rows.Err()
}

func scanAttendance(r rowScanner) (*model.Attendance, error) {
	var a model.Attendance
	err := r.Scan(&a.ID, &a.MeetingID, &a.SontaHeadID, &a.CheckInTimestamp,
		&a.Method, &a.FacialConfidenceScore, &a.IsLate, &a.VerificationAttempts,
		&a.CheckedInByAdminID, &a.Notes, &a.Latitude, &a.Longitude, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// --- pending verifications ---

func (p *Postgres) InsertPendingVerification(ctx context.Context, pv model.PendingVerification) error {
	device, err := model.MarshalDevice(pv.Device)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO pending_verifications (id, meeting_id, sonta_head_id, qr_code_id,
			captured_image_url, facial_confidence_score, latitude, longitude, device,
			status, created_at)
		VALUES ($1,$2,nullif($3,''),nullif($4,''),$5,$6,$7,$8,$9,$10,$11)`,
		pv.ID, pv.MeetingID, pv.SontaHeadID, pv.QrCodeID, pv.CapturedImageURL,
		pv.FacialConfidenceScore, pv.Latitude, pv.Longitude, device,
		pv.Status, pv.CreatedAt)
	return err
}

const pendingSelect = `
	SELECT id, meeting_id, coalesce(sonta_head_id::text,''), coalesce(qr_code_id::text,''),
		captured_image_url, facial_confidence_score, latitude, longitude, device,
		status, reviewed_by, reviewed_at, review_notes, created_at
	FROM pending_verifications`

func (p *Postgres) FindPendingVerification(ctx context.Context, id string) (*model.PendingVerification, error) {
	return scanPending(p.db.QueryRowContext(ctx, pendingSelect+` WHERE id = $1`, id))
}

func (p *Postgres) UpdatePendingVerification(ctx context.Context, pv *model.PendingVerification) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE pending_verifications SET status=$2, reviewed_by=$3, reviewed_at=$4,
			review_notes=$5
		WHERE id=$1`,
		pv.ID, pv.Status, pv.ReviewedBy, pv.ReviewedAt, pv.ReviewNotes)
	return err
}

func (p *Postgres) ListPendingForMeeting(ctx context.Context, meetingID string) ([]model.PendingVerification, error) {
	rows, err := p.db.QueryContext(ctx,
		pendingSelect+` WHERE meeting_id = $1 ORDER BY created_at`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PendingVerification
	for rows.Next() {
		pv, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pv)
	}
	return out, rows.Err()
}

func scanPending(r rowScanner) (*model.PendingVerification, error) {
	var pv model.PendingVerification
	var device []byte
	err := r.Scan(&pv.ID, &pv.MeetingID, &pv.SontaHeadID, &pv.QrCodeID,
		&pv.CapturedImageURL, &pv.FacialConfidenceScore, &pv.Latitude,
		&pv.Longitude, &device, &pv.Status, &pv.ReviewedBy, &pv.ReviewedAt,
		&pv.ReviewNotes, &pv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if pv.Device, err = model.UnmarshalDevice(device); err != nil {
		return nil, err
	}
	return &pv, nil
}

// --- verification attempts ---

func (p *Postgres) InsertVerificationAttempt(ctx context.Context, a model.VerificationAttempt) error {
	device, err := model.MarshalDevice(a.Device)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO verification_attempts (id, meeting_id, sonta_head_id, qr_code_id,
			attempted_at, result, facial_confidence_score, captured_image_url,
			latitude, longitude, device, error_message)
		VALUES ($1,$2,nullif($3,''),nullif($4,''),$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.MeetingID, a.SontaHeadID, a.QrCodeID, a.Timestamp, a.Result,
		a.FacialConfidenceScore, a.CapturedImageURL, a.Latitude, a.Longitude,
		device, a.ErrorMessage)
	return err
}

// --- magic links ---

func (p *Postgres) InsertMagicLink(ctx context.Context, t model.MagicLinkToken) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO magic_link_tokens (id, email, token, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.Email, t.Token, t.ExpiresAt, t.CreatedAt)
	return err
}

func (p *Postgres) FindMagicLinkByToken(ctx context.Context, token string) (*model.MagicLinkToken, error) {
	var t model.MagicLinkToken
	err := p.db.QueryRowContext(ctx, `
		SELECT id, email, token, expires_at, used_at, created_at
		FROM magic_link_tokens WHERE token = $1`, token).
		Scan(&t.ID, &t.Email, &t.Token, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) MarkMagicLinkUsed(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE magic_link_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Zero rows means either a lost single-use race or an unknown id.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM magic_link_tokens WHERE id = $1)`, id).
			Scan(&exists); err != nil {
			return err
		}
		if exists {
			return auth.ErrLinkUsed
		}
		return auth.ErrLinkNotFound
	}
	return nil
}
