package sqlite

import (
	"time"

	"github.com/zjrosen/qprofile/internal/identity"
	"github.com/zjrosen/qprofile/internal/profile"
)

// SelectionModel is a row of the active_profiles table.
type SelectionModel struct {
	Component    string
	ConnectionID string
	ProfileName  string
	AccountID    string
	Region       string
	ARN          string
	Endpoint     string
	UpdatedAt    int64 // Unix timestamp
}

func toSelectionModel(component string, id identity.ID, p profile.Profile, now time.Time) SelectionModel {
	return SelectionModel{
		Component:    component,
		ConnectionID: string(id),
		ProfileName:  p.Name,
		AccountID:    p.AccountID,
		Region:       p.Region,
		ARN:          p.ARN,
		Endpoint:     p.Endpoint,
		UpdatedAt:    now.Unix(),
	}
}

func (m SelectionModel) toDomain() (identity.ID, profile.Profile) {
	return identity.ID(m.ConnectionID), profile.Profile{
		Name:      m.ProfileName,
		AccountID: m.AccountID,
		Region:    m.Region,
		ARN:       m.ARN,
		Endpoint:  m.Endpoint,
	}
}
