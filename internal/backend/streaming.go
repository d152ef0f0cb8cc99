package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aws/smithy-go/auth/bearer"
	"github.com/cenkalti/backoff/v5"

	"github.com/zjrosen/qprofile/internal/log"
)

const streamingTargetPrefix = "AmazonCodeWhispererStreamingService."

var errMalformedStream = errors.New("malformed export stream")

// ExportIntent says what an exported archive is for.
type ExportIntent string

const (
	ExportIntentTransformation ExportIntent = "TRANSFORMATION"
	ExportIntentTaskAssist     ExportIntent = "TASK_ASSIST"
)

// TransformationExportContext selects a transformation artifact.
type TransformationExportContext struct {
	DownloadArtifactID   string `json:"downloadArtifactId"`
	DownloadArtifactType string `json:"downloadArtifactType"`
}

// ExportContext narrows what an export returns.
type ExportContext struct {
	TransformationExportContext *TransformationExportContext `json:"transformationExportContext,omitempty"`
}

// ExportInput requests an archive export.
type ExportInput struct {
	ExportID      string         `json:"exportId"`
	ExportIntent  ExportIntent   `json:"exportIntent"`
	ExportContext *ExportContext `json:"exportContext,omitempty"`
	ProfileARN    string         `json:"profileArn,omitempty"`
}

// ExportHandlers observe an export. OnError receives the error that ends
// the export; OnFinished always runs with the start time.
type ExportHandlers struct {
	OnError    func(err error)
	OnFinished func(start time.Time)
}

// ExportResult is the reassembled archive.
type ExportResult struct {
	Checksum string
	Chunks   [][]byte
}

// Size returns the total payload length.
func (r *ExportResult) Size() int {
	n := 0
	for _, c := range r.Chunks {
		n += len(c)
	}
	return n
}

// streamEvent is one newline-delimited event of the export stream.
type streamEvent struct {
	BinaryMetadataEvent *struct {
		ContentChecksum string `json:"contentChecksum"`
	} `json:"binaryMetadataEvent,omitempty"`
	BinaryPayloadEvent *struct {
		Bytes []byte `json:"bytes"`
	} `json:"binaryPayloadEvent,omitempty"`
	InternalServerException *struct {
		Message string `json:"message"`
	} `json:"internalServerException,omitempty"`
}

// StreamingClient is the event-stream client.
type StreamingClient struct {
	conn        *conn
	maxTries    uint
	backoffInit time.Duration
}

// NewStreamingClient creates a streaming client bound to b. Stream calls
// are retried as a whole, so the transport itself does not retry. Archives
// may take longer than RequestTimeout to arrive; only ctx bounds them.
func NewStreamingClient(b Binding, token bearer.TokenProvider, opts Options) (*StreamingClient, error) {
	c, err := newConn(b, token, opts, 0, 0, streamingTargetPrefix)
	if err != nil {
		return nil, err
	}
	init := opts.RetryWaitMin
	if init <= 0 {
		init = 500 * time.Millisecond
	}
	return &StreamingClient{conn: c, maxTries: 3, backoffInit: init}, nil
}

// ExportResultArchive streams an archive. Throttling, validation, server,
// transport and timeout failures are retried up to three attempts; each
// attempt starts from an empty result.
func (c *StreamingClient) ExportResultArchive(ctx context.Context, in ExportInput, h ExportHandlers) (*ExportResult, error) {
	start := time.Now()
	defer func() {
		if h.OnFinished != nil {
			h.OnFinished(start)
		}
	}()

	if err := c.conn.acquire(); err != nil {
		return nil, err
	}
	defer c.conn.release()

	if in.ProfileARN == "" {
		in.ProfileARN = c.conn.binding.ProfileARN
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffInit

	attempt := 0
	res, err := backoff.Retry(ctx, func() (*ExportResult, error) {
		attempt++
		res, err := c.exportOnce(ctx, in)
		if err == nil {
			return res, nil
		}
		if !retryable(ctx, err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn(log.CatClient, "Retrying export", "exportId", in.ExportID, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		log.ErrorErr(log.CatClient, "Export failed", err, "exportId", in.ExportID, "attempts", attempt)
		if h.OnError != nil {
			h.OnError(err)
		}
		return nil, err
	}
	return res, nil
}

func (c *StreamingClient) exportOnce(ctx context.Context, in ExportInput) (*ExportResult, error) {
	resp, err := c.conn.post(ctx, "ExportResultArchive", in)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	res := &ExportResult{}
	dec := json.NewDecoder(resp.Body)
	for {
		var ev streamEvent
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return nil, fmt.Errorf("%w: %w", errMalformedStream, err)
			}
			return nil, fmt.Errorf("reading export stream: %w", err)
		}

		switch {
		case ev.BinaryMetadataEvent != nil:
			res.Checksum = ev.BinaryMetadataEvent.ContentChecksum
		case ev.BinaryPayloadEvent != nil:
			res.Chunks = append(res.Chunks, ev.BinaryPayloadEvent.Bytes)
		case ev.InternalServerException != nil:
			return nil, &ServiceError{
				StatusCode: 500,
				Type:       ErrTypeInternalServer,
				Message:    ev.InternalServerException.Message,
			}
		default:
			log.Warn(log.CatClient, "Unknown export stream event", "exportId", in.ExportID)
		}
	}
}

// retryable decides whether an export attempt may be repeated.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Throttling() || se.Validation() || se.Server()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, errMalformedStream) || errors.Is(err, ErrToken) || errors.Is(err, ErrClientClosed) {
		return false
	}
	// Remaining failures come from the transport.
	return true
}

// Binding returns the routing target the client was built for.
func (c *StreamingClient) Binding() Binding {
	return c.conn.binding
}

// Close waits for in-flight streams and releases idle connections.
func (c *StreamingClient) Close() error {
	c.conn.close()
	return nil
}
