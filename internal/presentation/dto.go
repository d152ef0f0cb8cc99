package presentation

import "github.com/zjrosen/qprofile/internal/profile"

// ProfileDTO is the printable form of a profile.
type ProfileDTO struct {
	Name      string `json:"name" yaml:"name"`
	AccountID string `json:"accountId" yaml:"accountId"`
	Region    string `json:"region" yaml:"region"`
	ARN       string `json:"arn" yaml:"arn"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Active    bool   `json:"active" yaml:"active"`
}

// FromProfiles converts profiles, marking the one whose ARN is activeARN.
func FromProfiles(profiles []profile.Profile, activeARN string) []ProfileDTO {
	out := make([]ProfileDTO, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, FromProfile(p, p.ARN == activeARN))
	}
	return out
}

// FromProfile converts one profile.
func FromProfile(p profile.Profile, active bool) ProfileDTO {
	return ProfileDTO{
		Name:      p.Name,
		AccountID: p.AccountID,
		Region:    p.Region,
		ARN:       p.ARN,
		Endpoint:  p.Endpoint,
		Active:    active,
	}
}
