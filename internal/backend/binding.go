// Package backend implements the HTTP clients for the code assistant
// service: a request/response runtime client and a streaming client. Both
// speak AWS JSON 1.0 with bearer authorization and are bound to one
// (endpoint, region, profile) triple for their whole life.
package backend

import "fmt"

// Binding is the immutable routing target of a client.
type Binding struct {
	Endpoint   string
	Region     string
	ProfileARN string
}

// IsZero reports whether b names no endpoint.
func (b Binding) IsZero() bool {
	return b.Endpoint == ""
}

func (b Binding) String() string {
	if b.ProfileARN == "" {
		return fmt.Sprintf("%s (%s)", b.Endpoint, b.Region)
	}
	return fmt.Sprintf("%s (%s) %s", b.Endpoint, b.Region, b.ProfileARN)
}
