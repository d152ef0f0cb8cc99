// Package identity models the active identity-provider connection that
// profile discovery and selection run under.
package identity

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go/auth/bearer"
)

// ErrNoConnection is returned by operations that require an active
// connection when there is none.
var ErrNoConnection = errors.New("identity: no active connection")

// BuilderIDStartURL is the start URL shared by every personal Builder ID
// connection. Anything else with a bearer token is IAM Identity Center.
const BuilderIDStartURL = "https://view.awsapps.com/start"

// ID identifies which logical user session a selection belongs to.
type ID string

// String returns the string form of the ID.
func (id ID) String() string {
	return string(id)
}

// Kind is the flavor of an identity connection.
type Kind string

const (
	KindIdentityCenter Kind = "identity-center"
	KindBuilderID      Kind = "builder-id"
	KindIAM            Kind = "iam"
)

// Connection is one authenticated identity-provider session.
type Connection struct {
	ID       ID
	Kind     Kind
	StartURL string
	Region   string
	Token    bearer.TokenProvider
}

// ConnectionID derives the stable identity key for a bearer connection.
func ConnectionID(startURL, region string) ID {
	return ID("sso;" + region + ";" + strings.TrimRight(startURL, "/"))
}

// NewBearerConnection builds a bearer-token connection and classifies it
// by start URL.
func NewBearerConnection(startURL, region string, token bearer.TokenProvider) Connection {
	kind := KindIdentityCenter
	if strings.TrimRight(startURL, "/") == BuilderIDStartURL {
		kind = KindBuilderID
	}
	return Connection{
		ID:       ConnectionID(startURL, region),
		Kind:     kind,
		StartURL: startURL,
		Region:   region,
		Token:    token,
	}
}

// IsIdentityCenter reports whether profile discovery applies to c.
func (c Connection) IsIdentityCenter() bool {
	return c.Kind == KindIdentityCenter && c.Token != nil
}
