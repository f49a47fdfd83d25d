package checkin

import (
	"context"
	"math"

	"sonta/internal/model"
	"sonta/internal/qrcode"
)

// MemberSummary is the slim member view embedded in attendance listings.
type MemberSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

// Statistics aggregates a meeting's attendance for the dashboard.
type Statistics struct {
	TotalExpected  int `json:"total_expected"`
	CheckedIn      int `json:"checked_in"`
	NotCheckedIn   int `json:"not_checked_in"`
	Pending        int `json:"pending"`
	LateArrivals   int `json:"late_arrivals"`
	ManualCheckIns int `json:"manual_check_ins"`
	AttendanceRate int `json:"attendance_rate"`
}

// Summary is the full attendance picture for one meeting.
type Summary struct {
	CheckedIn    []model.Attendance          `json:"checked_in"`
	NotCheckedIn []MemberSummary             `json:"not_checked_in"`
	Pending      []model.PendingVerification `json:"pending"`
	Statistics   Statistics                  `json:"statistics"`
}

// MeetingAttendance builds the checked-in / not-checked-in / pending view
// of a meeting from the ledger and the active member registry.
func (e *Engine) MeetingAttendance(ctx context.Context, meetingID string) (*Summary, error) {
	meeting, err := e.meetings.FindMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, qrcode.ErrMeetingNotFound
	}

	attendance, err := e.attendance.ListAttendanceForMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	members, err := e.members.ListActiveSontaHeads(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := e.PendingVerifications(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	checkedIn := make(map[string]bool, len(attendance))
	late, manual := 0, 0
	for _, a := range attendance {
		checkedIn[a.SontaHeadID] = true
		if a.IsLate {
			late++
		}
		if a.Method == model.MethodManualAdmin {
			manual++
		}
	}

	notCheckedIn := make([]MemberSummary, 0)
	for _, m := range members {
		if !checkedIn[m.ID] {
			notCheckedIn = append(notCheckedIn, MemberSummary{
				ID:              m.ID,
				Name:            m.Name,
				Phone:           m.Phone,
				ProfileImageURL: m.ProfileImageURL,
			})
		}
	}

	rate := 0
	if len(members) > 0 {
		rate = int(math.Round(float64(len(attendance)) / float64(len(members)) * 100))
	}

	return &Summary{
		CheckedIn:    attendance,
		NotCheckedIn: notCheckedIn,
		Pending:      pending,
		Statistics: Statistics{
			TotalExpected:  len(members),
			CheckedIn:      len(attendance),
			NotCheckedIn:   len(notCheckedIn),
			Pending:        len(pending),
			LateArrivals:   late,
			ManualCheckIns: manual,
			AttendanceRate: rate,
		},
	}, nil
}
