// ABOUTME: MCP resource handlers for exposing pipeline data
// ABOUTME: Provides read-only access to clients, their timelines and stage counts via funnel:// URIs
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/models"
	"github.com/harperreed/funnel/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const resourceScheme = "funnel://"

type ResourceHandlers struct {
	svc *pipeline.Service
}

func NewResourceHandlers(svc *pipeline.Service) *ResourceHandlers {
	return &ResourceHandlers{svc: svc}
}

// ReadResource handles funnel://pipeline, funnel://clients/{id} and
// funnel://clients/{id}/timeline.
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")
	switch {
	case len(parts) == 1 && parts[0] == "pipeline":
		return h.readPipeline(ctx, uri)
	case len(parts) == 2 && parts[0] == "clients":
		return h.readClient(ctx, uri, parts[1])
	case len(parts) == 3 && parts[0] == "clients" && parts[2] == "timeline":
		return h.readTimeline(ctx, uri, parts[1])
	default:
		return nil, mcp.ResourceNotFoundError(uri)
	}
}

func (h *ResourceHandlers) readClient(ctx context.Context, uri, rawID string) (*mcp.ReadResourceResult, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid client id: %w", err)
	}
	c, err := h.svc.GetClient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch client: %w", err)
	}
	return jsonResource(uri, clientToOutput(c))
}

func (h *ResourceHandlers) readTimeline(ctx context.Context, uri, rawID string) (*mcp.ReadResourceResult, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid client id: %w", err)
	}
	activities, err := h.svc.Timeline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch timeline: %w", err)
	}
	out := make([]ActivityOutput, len(activities))
	for i := range activities {
		out[i] = activityToOutput(&activities[i])
	}
	return jsonResource(uri, out)
}

func (h *ResourceHandlers) readPipeline(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	clients, err := h.svc.Store().Clients.List(ctx, db.ClientFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch clients: %w", err)
	}

	counts := make(map[string]int, len(models.AllStages))
	for _, s := range models.AllStages {
		counts[string(s)] = 0
	}
	for _, c := range clients {
		counts[string(c.Stage)]++
	}
	return jsonResource(uri, map[string]any{
		"total":  len(clients),
		"stages": counts,
	})
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
