package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"extendvps/internal/recorder"
)

const (
	resourceMIMEJSON = "application/json"

	aboutURI       = "extendvps://about"
	latestTraceURI = "extendvps://trace/latest"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			aboutURI,
			"extendvps About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, target site and route table."),
		),
		s.handleAboutResource,
	)

	if !s.cfg.Recorder.Enable {
		return
	}
	s.mcpServer.AddResource(
		mcp.NewResource(
			latestTraceURI,
			"Latest Workflow Trace",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Every event of the newest workflow trace."),
		),
		s.handleLatestTraceResource,
	)
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"extendvps://trace/{name}",
			"Workflow Trace",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Every event of a named trace file."),
		),
		s.handleTraceResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	routes := make([]map[string]string, 0, len(s.cfg.Site.Routes))
	for _, r := range s.cfg.Site.Routes {
		routes = append(routes, map[string]string{"prefix": r.Prefix, "step": r.Step})
	}
	payload := map[string]interface{}{
		"name":      s.cfg.Server.Name,
		"version":   s.cfg.Server.Version,
		"login_url": s.cfg.Site.LoginURL(),
		"time_zone": s.cfg.Workflow.TimeZone,
		"routes":    routes,
		"notes": []string{
			"Use run-renewal to drive one workflow; renewal-status to inspect the last one.",
			"Resources are read-only; traces are written by the runner.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleLatestTraceResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	trace, err := latestTrace(s.cfg.Recorder.Dir, maxStatusEvents)
	if err != nil {
		return nil, err
	}
	return jsonContents(request.Params.URI, trace)
}

func (s *Server) handleTraceResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	name := argString(request.Params.Arguments["name"])
	if name == "" {
		return nil, errors.New("missing trace name")
	}
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid trace name %q", name)
	}

	path := filepath.Join(s.cfg.Recorder.Dir, name)
	events, err := recorder.Read(path)
	if err != nil {
		return nil, err
	}
	return jsonContents(request.Params.URI, &traceTail{Name: name, Path: path, Total: len(events), Events: events})
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// argString unwraps template arguments, which arrive as []string.
func argString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	case []interface{}:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
