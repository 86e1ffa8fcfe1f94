package voxcpm

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/loqalabs/loqa-voxcpm/internal/gradio"
)

// Session is an open handle on the synthesis app.
type Session interface {
	// Choices lists the selectable values of the control carrying label.
	Choices(label string) ([]string, bool)
	// Predict runs job with positional inputs and returns its output data.
	Predict(ctx context.Context, job string, data ...any) ([]json.RawMessage, error)
}

// Connector opens sessions against an endpoint.
type Connector interface {
	Connect(ctx context.Context, endpoint string) (Session, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, endpoint string) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, endpoint string) (Session, error) {
	return f(ctx, endpoint)
}

// GradioConnector talks to a VoxCPM Gradio app over HTTP.
type GradioConnector struct {
	// HTTPClient overrides the instrumented default client when set.
	HTTPClient *http.Client
}

func (g GradioConnector) Connect(ctx context.Context, endpoint string) (Session, error) {
	var opts []gradio.Option
	if g.HTTPClient != nil {
		opts = append(opts, gradio.WithHTTPClient(g.HTTPClient))
	}
	client, err := gradio.Connect(ctx, endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}
