// Package profile discovers the backend profiles visible to an identity
// connection and owns the per-identity active selection.
package profile

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/zjrosen/qprofile/internal/backend"
)

// ErrInvalidProfileARN is returned when an ARN is not a profile ARN.
var ErrInvalidProfileARN = errors.New("profile: invalid profile ARN")

const (
	arnPartition = "aws"
	arnService   = "codewhisperer"
	arnResource  = "profile/"
)

var (
	regionPattern    = regexp.MustCompile(`^[-.a-z0-9]{1,63}$`)
	accountPattern   = regexp.MustCompile(`^\d{12}$`)
	profileIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{12}$`)
)

// ARN is the parsed form of a profile ARN,
// arn:aws:codewhisperer:<region>:<account>:profile/<id>.
type ARN struct {
	Region    string
	AccountID string
	ProfileID string
}

// ParseARN validates s as a profile ARN. Anything that is not an exact
// match is rejected with ErrInvalidProfileARN.
func ParseARN(s string) (ARN, error) {
	if !arn.IsARN(s) {
		return ARN{}, fmt.Errorf("%w: %q", ErrInvalidProfileARN, s)
	}
	a, err := arn.Parse(s)
	if err != nil {
		return ARN{}, fmt.Errorf("%w: %w", ErrInvalidProfileARN, err)
	}
	id, ok := strings.CutPrefix(a.Resource, arnResource)
	if a.Partition != arnPartition ||
		a.Service != arnService ||
		!ok ||
		!regionPattern.MatchString(a.Region) ||
		!accountPattern.MatchString(a.AccountID) ||
		!profileIDPattern.MatchString(id) {
		return ARN{}, fmt.Errorf("%w: %q", ErrInvalidProfileARN, s)
	}
	return ARN{Region: a.Region, AccountID: a.AccountID, ProfileID: id}, nil
}

// Profile is one selectable backend tenant context.
type Profile struct {
	Name      string `json:"name" yaml:"name"`
	AccountID string `json:"accountId" yaml:"accountId"`
	Region    string `json:"region" yaml:"region"`
	ARN       string `json:"arn" yaml:"arn"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
}

// Selected is the payload announced when a profile becomes active.
type Selected struct {
	Endpoint   string
	Region     string
	ProfileARN string
}

// Binding converts the event into a client binding.
func (s Selected) Binding() backend.Binding {
	return backend.Binding{Endpoint: s.Endpoint, Region: s.Region, ProfileARN: s.ProfileARN}
}

// Endpoint is one regional service endpoint queried during discovery.
type Endpoint struct {
	Name   string `mapstructure:"name"`
	Region string `mapstructure:"region"`
	URL    string `mapstructure:"url"`
}

// DefaultEndpoints returns the fixed primary and secondary endpoints.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "primary", Region: "us-east-1", URL: "https://codewhisperer.us-east-1.amazonaws.com/"},
		{Name: "secondary", Region: "eu-central-1", URL: "https://q.eu-central-1.amazonaws.com/"},
	}
}

// EndpointForRegion finds the endpoint serving region.
func EndpointForRegion(endpoints []Endpoint, region string) (Endpoint, bool) {
	for _, ep := range endpoints {
		if ep.Region == region {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Parse turns raw records into profiles, dropping records whose ARN does
// not validate. Each profile's endpoint comes from its ARN region, or from
// source when no endpoint serves that region.
func Parse(records []backend.ProfileRecord, endpoints []Endpoint, source Endpoint) []Profile {
	out := make([]Profile, 0, len(records))
	for _, rec := range records {
		parsed, err := ParseARN(rec.ARN)
		if err != nil {
			continue
		}
		ep, ok := EndpointForRegion(endpoints, parsed.Region)
		if !ok {
			ep = source
		}
		out = append(out, Profile{
			Name:      rec.ProfileName,
			AccountID: parsed.AccountID,
			Region:    parsed.Region,
			ARN:       rec.ARN,
			Endpoint:  ep.URL,
		})
	}
	return out
}
