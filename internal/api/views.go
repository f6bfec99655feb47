package api

import (
	"time"

	"github.com/kalambet/jobtrack/internal/pipeline"
	"github.com/kalambet/jobtrack/internal/tracker"
)

type noteView struct {
	ID            string    `json:"id"`
	At            time.Time `json:"at"`
	Source        string    `json:"source"`
	Text          string    `json:"text"`
	KeyPoints     []string  `json:"key_points,omitempty"`
	CompanyGuess  string    `json:"company_guess,omitempty"`
	IgnoredStatus string    `json:"ignored_status,omitempty"`
	Synced        bool      `json:"synced"`
}

type companyView struct {
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	NextStep            string     `json:"next_step"`
	LastInteractionType string     `json:"last_interaction_type,omitempty"`
	LastInteractionAt   time.Time  `json:"last_interaction_at"`
	RemoteRef           string     `json:"remote_ref,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Notes               []noteView `json:"notes,omitempty"`
}

func toCompanyView(r tracker.CompanyRecord, withNotes bool) companyView {
	v := companyView{
		Name:                r.Name,
		Status:              r.Status.String(),
		NextStep:            r.Status.NextStep(),
		LastInteractionType: string(r.LastInteractionType),
		LastInteractionAt:   r.LastInteractionAt,
		RemoteRef:           r.RemoteRef,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if !withNotes {
		return v
	}
	for _, n := range r.Notes {
		nv := noteView{
			ID:           n.ID,
			At:           n.At,
			Source:       string(n.Source),
			Text:         n.Text,
			KeyPoints:    n.KeyPoints,
			CompanyGuess: n.CompanyGuess,
			Synced:       n.Synced,
		}
		if n.IgnoredStatus != nil {
			nv.IgnoredStatus = n.IgnoredStatus.String()
		}
		v.Notes = append(v.Notes, nv)
	}
	return v
}

type trackView struct {
	Company        companyView `json:"company"`
	Created        bool        `json:"created"`
	PreviousStatus string      `json:"previous_status,omitempty"`
	StatusGuess    string      `json:"status_guess,omitempty"`
	Trigger        string      `json:"trigger,omitempty"`
	KeyPoints      []string    `json:"key_points,omitempty"`
	Pushed         bool        `json:"pushed"`
	Drift          []string    `json:"drift,omitempty"`
}

func toTrackView(res *pipeline.Result) trackView {
	v := trackView{
		Company:   toCompanyView(res.Record, false),
		Created:   res.Created,
		Trigger:   res.Evidence.Trigger,
		KeyPoints: res.Evidence.KeyPoints,
		Pushed:    res.Pushed,
		Drift:     res.Drift,
	}
	if !res.Created {
		v.PreviousStatus = res.PreviousStatus.String()
	}
	if res.Evidence.StatusGuess != nil {
		v.StatusGuess = res.Evidence.StatusGuess.String()
	}
	return v
}

type statsView struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	Unsynced int            `json:"unsynced"`
}

func toStatsView(st pipeline.Stats) statsView {
	v := statsView{Total: st.Total, ByStatus: make(map[string]int, len(st.ByStatus)), Unsynced: st.Unsynced}
	for s, n := range st.ByStatus {
		v.ByStatus[s.String()] = n
	}
	return v
}
