package backend

import (
	"context"

	"github.com/aws/smithy-go/auth/bearer"
)

const runtimeTargetPrefix = "AmazonCodeWhispererService."

// ListProfilesInput is one page request of ListAvailableProfiles.
type ListProfilesInput struct {
	MaxResults int    `json:"maxResults,omitempty"`
	NextToken  string `json:"nextToken,omitempty"`
}

// ProfileRecord is a raw profile as the service reports it.
type ProfileRecord struct {
	ARN         string `json:"arn"`
	ProfileName string `json:"profileName"`
}

// ListProfilesOutput is one page of profiles.
type ListProfilesOutput struct {
	Profiles  []ProfileRecord `json:"profiles"`
	NextToken string          `json:"nextToken,omitempty"`
}

// ProgrammingLanguage names the language of a file.
type ProgrammingLanguage struct {
	LanguageName string `json:"languageName"`
}

// FileContext is the editor state a completion is requested for.
type FileContext struct {
	Filename            string              `json:"filename"`
	ProgrammingLanguage ProgrammingLanguage `json:"programmingLanguage"`
	LeftFileContent     string              `json:"leftFileContent"`
	RightFileContent    string              `json:"rightFileContent"`
}

// CompletionsInput requests inline completions.
type CompletionsInput struct {
	FileContext FileContext `json:"fileContext"`
	MaxResults  int         `json:"maxResults,omitempty"`
	NextToken   string      `json:"nextToken,omitempty"`
	ProfileARN  string      `json:"profileArn,omitempty"`
}

// Completion is a single suggestion.
type Completion struct {
	Content string `json:"content"`
}

// CompletionsOutput is one page of suggestions.
type CompletionsOutput struct {
	Completions []Completion `json:"completions"`
	NextToken   string       `json:"nextToken,omitempty"`
}

// ProfileLister lists profiles on one endpoint and is closed after use.
type ProfileLister interface {
	ListAvailableProfiles(ctx context.Context, in ListProfilesInput) (*ListProfilesOutput, error)
	Close() error
}

// RuntimeClient is the request/response client.
type RuntimeClient struct {
	conn *conn
}

var _ ProfileLister = (*RuntimeClient)(nil)

// NewRuntimeClient creates a client bound to b.
func NewRuntimeClient(b Binding, token bearer.TokenProvider, opts Options) (*RuntimeClient, error) {
	c, err := newConn(b, token, opts, opts.MaxRetries, opts.RequestTimeout, runtimeTargetPrefix)
	if err != nil {
		return nil, err
	}
	return &RuntimeClient{conn: c}, nil
}

// ListAvailableProfiles fetches one page of profiles.
func (c *RuntimeClient) ListAvailableProfiles(ctx context.Context, in ListProfilesInput) (*ListProfilesOutput, error) {
	var out ListProfilesOutput
	if err := c.conn.call(ctx, "ListAvailableProfiles", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateCompletions fetches one page of completions. The bound profile is
// used when in names none.
func (c *RuntimeClient) GenerateCompletions(ctx context.Context, in CompletionsInput) (*CompletionsOutput, error) {
	if in.ProfileARN == "" {
		in.ProfileARN = c.conn.binding.ProfileARN
	}
	var out CompletionsOutput
	if err := c.conn.call(ctx, "GenerateCompletions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Binding returns the routing target the client was built for.
func (c *RuntimeClient) Binding() Binding {
	return c.conn.binding
}

// Close waits for in-flight calls and releases idle connections. Calls
// started afterwards fail with ErrClientClosed.
func (c *RuntimeClient) Close() error {
	c.conn.close()
	return nil
}
