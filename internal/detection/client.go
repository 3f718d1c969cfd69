// Package detection wraps the remote PII detection engine behind a small
// gRPC client. No .proto-generated stub ships with this corpus, so
// requests and responses are carried as protobuf's well-known Struct type
// against a single generic Analyze method — a normal shape when the wire
// contract is loosely typed across interchangeable detector backends.
package detection

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
)

// unimplementedServiceIdentity is the service-identity string the remote
// reports in its UNIMPLEMENTED status when a single-use channel reconnect
// is warranted, per spec §4.5.
const unimplementedServiceIdentity = "pii.detection.v1.DetectionService"

// Entity is one detected span, mirroring the detector's wire shape.
type Entity struct {
	Type       string
	Start      int
	End        int
	Score      float64
	Text       string
}

// PerTypeCounts maps a PII type to how many entities of that type were found.
type PerTypeCounts map[string]int

// Result is the outcome of one Analyze call.
type Result struct {
	Entities      []Entity
	PerTypeCounts PerTypeCounts
}

// Client is a long-lived gRPC connection to the detection engine, safe
// for concurrent use: every call is a single blocking unary RPC.
type Client struct {
	conn       *grpc.ClientConn
	target     string
	logger     *logrus.Logger
	maxRetries uint64

	reconnectedOnce bool
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Dial establishes the long-lived connection used for every subsequent
// Analyze call. Keepalive parameters are left to grpc.WithDefaultCallOptions
// callers supply via dialOpts, matching the teacher's pattern of passing
// transport concerns in at the construction site rather than hard-coding them.
func Dial(ctx context.Context, target string, opts []Option, dialOpts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:       conn,
		target:     target,
		logger:     logrus.StandardLogger(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Analyze submits text to the detection engine at the given confidence
// threshold, returning entities above it. All-whitespace text short-circuits
// to an empty result without making a call, per spec §4.5/§8.
func (c *Client) Analyze(ctx context.Context, text string, threshold float64, timeout time.Duration) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{PerTypeCounts: PerTypeCounts{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"text":      text,
		"threshold": threshold,
	})
	if err != nil {
		return Result{}, err
	}

	var resp *structpb.Struct
	operation := func() error {
		var invokeErr error
		resp, invokeErr = c.invoke(ctx, req)
		if invokeErr == nil {
			return nil
		}
		mapped := c.mapError(ctx, invokeErr)
		if mapped != domain.ErrTransientTransport {
			return backoff.Permanent(mapped)
		}
		c.logger.WithField("target", c.target).Warn("detection: retrying after transient transport error")
		return mapped
	}

	// A fresh backoff per call: the policy is stateful (tracks elapsed
	// retries), so sharing one instance across concurrent Analyze calls
	// would corrupt its retry count.
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return Result{}, err
	}
	return decodeResult(resp), nil
}

func (c *Client) invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resp := new(structpb.Struct)
	err := c.conn.Invoke(ctx, "/pii.detection.v1.DetectionService/Analyze", req, resp)
	if err == nil {
		return resp, nil
	}

	st, ok := status.FromError(err)
	if ok && st.Code() == codes.Unimplemented && !c.reconnectedOnce && strings.Contains(st.Message(), unimplementedServiceIdentity) {
		c.logger.WithField("target", c.target).Warn("detection: reconnecting once after UNIMPLEMENTED from remote")
		c.reconnectedOnce = true
		if dialErr := c.reconnect(ctx); dialErr != nil {
			return nil, err
		}
		err = c.conn.Invoke(ctx, "/pii.detection.v1.DetectionService/Analyze", req, resp)
		if err == nil {
			return resp, nil
		}
	}
	return nil, err
}

func (c *Client) reconnect(ctx context.Context) error {
	conn, err := grpc.DialContext(ctx, c.target, grpc.WithDefaultCallOptions())
	if err != nil {
		return err
	}
	_ = c.conn.Close()
	c.conn = conn
	return nil
}

func (c *Client) mapError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return domain.ErrTimeout
	}
	if ctx.Err() == context.Canceled {
		return domain.ErrCancelled
	}

	st, ok := status.FromError(err)
	if !ok {
		return domain.ErrTransientTransport
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return domain.ErrTimeout
	case codes.Canceled:
		return domain.ErrCancelled
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return domain.ErrTransientTransport
	default:
		return err
	}
}

func decodeResult(resp *structpb.Struct) Result {
	result := Result{PerTypeCounts: PerTypeCounts{}}
	if resp == nil {
		return result
	}

	entitiesVal, ok := resp.Fields["entities"]
	if !ok {
		return result
	}
	for _, v := range entitiesVal.GetListValue().GetValues() {
		fields := v.GetStructValue().GetFields()
		entity := Entity{
			Type:  fields["type"].GetStringValue(),
			Start: int(fields["start"].GetNumberValue()),
			End:   int(fields["end"].GetNumberValue()),
			Score: fields["score"].GetNumberValue(),
			Text:  fields["text"].GetStringValue(),
		}
		result.Entities = append(result.Entities, entity)
		result.PerTypeCounts[entity.Type]++
	}
	return result
}
