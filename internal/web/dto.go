package web

import (
	"time"

	"calview/internal/calendar"
	"calview/internal/model"
)

type appointmentDTO struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	Notes          string    `json:"notes,omitempty"`
	Location       string    `json:"location,omitempty"`
	Color          string    `json:"color,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	AllDay         bool      `json:"all_day"`
	RecurrenceRule string    `json:"recurrence_rule,omitempty"`
	IsOccurrence   bool      `json:"is_occurrence,omitempty"`
	RecurrenceID   string    `json:"recurrence_id,omitempty"`
	ResourceIDs    []string  `json:"resource_ids,omitempty"`
}

// slotDTO references its appointment by index into the response's
// appointment list; occurrences share their master's ID.
type slotDTO struct {
	Appointment  int `json:"appointment"`
	StartIndex   int `json:"start_index"`
	EndIndex     int `json:"end_index"`
	Position     int `json:"position"`
	MaxPositions int `json:"max_positions"`
}

type regionDTO struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Text        string    `json:"text,omitempty"`
	Color       string    `json:"color,omitempty"`
	Interactive bool      `json:"interactive"`
}

type viewResponse struct {
	Pending         bool             `json:"pending"`
	View            string           `json:"view,omitempty"`
	DisplayDate     string           `json:"display_date,omitempty"`
	TimeZone        string           `json:"timezone,omitempty"`
	Dates           []string         `json:"dates,omitempty"`
	Appointments    []appointmentDTO `json:"appointments,omitempty"`
	AllDay          []slotDTO        `json:"all_day,omitempty"`
	Days            [][]slotDTO      `json:"days,omitempty"`
	Regions         []regionDTO      `json:"regions,omitempty"`
	Resource        string           `json:"resource,omitempty"`
	CanMoveNext     bool             `json:"can_move_next"`
	CanMovePrevious bool             `json:"can_move_previous"`
}

type entryDTO struct {
	WeekStart         string  `json:"week_start"`
	BlockHeight       float64 `json:"block_height"`
	Height            float64 `json:"height"`
	IntersectionPoint float64 `json:"intersection_point"`
}

type scheduleResponse struct {
	Pending         bool       `json:"pending"`
	Entries         []entryDTO `json:"entries"`
	LoadingForward  bool       `json:"loading_forward"`
	LoadingBackward bool       `json:"loading_backward"`
}

type ruleResponse struct {
	Rule        string      `json:"rule"`
	Frequency   string      `json:"frequency"`
	Interval    int         `json:"interval"`
	WeekDays    []string    `json:"week_days,omitempty"`
	Range       string      `json:"range"`
	Count       int         `json:"count,omitempty"`
	Until       string      `json:"until,omitempty"`
	Occurrences []time.Time `json:"occurrences"`
}

func newViewResponse(st calendar.State) viewResponse {
	resp := viewResponse{
		View:            st.Settings.View.String(),
		DisplayDate:     st.DisplayDate.Format(time.DateOnly),
		TimeZone:        st.Settings.TimeZone,
		Resource:        st.ResourceID(),
		CanMoveNext:     st.CanMoveNext,
		CanMovePrevious: st.CanMovePrevious,
	}
	for _, d := range st.VisibleDates {
		resp.Dates = append(resp.Dates, d.Format(time.DateOnly))
	}

	index := make(map[*model.Appointment]int, len(st.Appointments))
	for i, a := range st.Appointments {
		index[a] = i
		resp.Appointments = append(resp.Appointments, appointmentDTO{
			ID:             a.ID,
			Subject:        a.Subject,
			Notes:          a.Notes,
			Location:       a.Location,
			Color:          a.Color,
			Start:          a.ActualStartTime,
			End:            a.ActualEndTime,
			AllDay:         a.IsAllDay,
			RecurrenceRule: a.RecurrenceRule,
			IsOccurrence:   a.IsOccurrence,
			RecurrenceID:   a.RecurrenceID,
			ResourceIDs:    a.ResourceIDs,
		})
	}

	slots := func(views []*model.AppointmentView) []slotDTO {
		out := make([]slotDTO, 0, len(views))
		for _, v := range views {
			out = append(out, slotDTO{
				Appointment:  index[v.Appointment],
				StartIndex:   v.StartIndex,
				EndIndex:     v.EndIndex,
				Position:     v.Position,
				MaxPositions: v.MaxPositions,
			})
		}
		return out
	}
	if len(st.AllDay) > 0 {
		resp.AllDay = slots(st.AllDay)
	}
	for _, day := range st.Days {
		resp.Days = append(resp.Days, slots(day))
	}
	for _, r := range st.Regions {
		resp.Regions = append(resp.Regions, regionDTO{
			Start:       r.ActualStartTime,
			End:         r.ActualEndTime,
			Text:        r.Text,
			Color:       r.Color,
			Interactive: r.EnablePointerInteraction,
		})
	}
	return resp
}
