package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/cwygoda/songbridge/internal/domain"
)

// Tool names exposed to agents.
const (
	GenerateTool = "generate-music"
	ResultTool   = "get-music-result"
)

// StillGeneratingMessage is returned when a poll exhausts its attempts.
const StillGeneratingMessage = "Still generating music. Try again in a few minutes!"

// Tools exposes the bridge as MCP tools.
type Tools struct {
	svc    *domain.BridgeService
	poll   domain.PollPolicy
	logger zerolog.Logger
}

// NewTools creates the tool set. poll is the policy get-music-result waits with.
func NewTools(svc *domain.BridgeService, poll domain.PollPolicy, logger zerolog.Logger) *Tools {
	return &Tools{
		svc:    svc,
		poll:   poll,
		logger: logger.With().Str("component", "mcp").Logger(),
	}
}

// NewServer builds an MCP server with the bridge tools registered.
func NewServer(version string, tools *Tools) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "songbridge", Version: version}, nil)
	tools.Register(srv)
	return srv
}

// Register adds the bridge tools to srv.
func (t *Tools) Register(srv *mcp.Server) {
	srv.AddTool(&mcp.Tool{
		Name:        GenerateTool,
		Description: "Generates music with Suno. Returns a job id to pass to " + ResultTool + ".",
		InputSchema: inputSchema(map[string]any{
			"prompt":       map[string]any{"type": "string", "description": "Lyrics or description of the song"},
			"style":        map[string]any{"type": "string", "description": "Musical style"},
			"title":        map[string]any{"type": "string", "description": "Song title"},
			"instrumental": map[string]any{"type": "boolean", "description": "Generate without vocals"},
		}, []string{"prompt", "instrumental"}),
	}, t.handleGenerate)

	srv.AddTool(&mcp.Tool{
		Name:        ResultTool,
		Description: "Checks the music generation status and returns the audio link once ready.",
		InputSchema: inputSchema(map[string]any{
			"jobId": map[string]any{"type": "string", "description": "Job id from " + GenerateTool + "; defaults to the latest job"},
		}, nil),
	}, t.handleResult)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type generateArgs struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style"`
	Title        string `json:"title"`
	Instrumental *bool  `json:"instrumental"`
}

type resultArgs struct {
	JobID string `json:"jobId"`
}

func (t *Tools) handleGenerate(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args generateArgs
	if err := decodeArgs(req, &args); err != nil {
		return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if args.Instrumental == nil {
		return toolError(errors.New("invalid arguments: instrumental is required")), nil
	}

	gr := domain.GenerateRequest{
		Prompt:       args.Prompt,
		Style:        args.Style,
		Title:        args.Title,
		Instrumental: *args.Instrumental,
	}
	job, err := t.svc.Submit(ctx, gr)
	if err != nil {
		t.logger.Warn().Err(err).Msg("generation failed")
		return toolError(fmt.Errorf("Music generation failed: %w", err)), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: renderSubmitted(job, gr)}},
		StructuredContent: map[string]any{
			"jobId":  job.ID,
			"status": string(domain.StatusPending),
		},
	}, nil
}

func (t *Tools) handleResult(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args resultArgs
	if err := decodeArgs(req, &args); err != nil {
		return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	job, err := t.svc.Await(ctx, args.JobID, t.poll)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStillPending):
		return toolError(errors.New(StillGeneratingMessage)), nil
	case errors.Is(err, domain.ErrJobFailed):
		var jf *domain.JobFailedError
		errors.As(err, &jf)
		return toolError(fmt.Errorf("Music generation failed: %s", jf.Reason)), nil
	case errors.Is(err, domain.ErrJobNotFound):
		return toolError(fmt.Errorf("No music generation found. Use %s first.", GenerateTool)), nil
	default:
		t.logger.Error().Err(err).Str("job_id", args.JobID).Msg("result lookup failed")
		return toolError(err), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: renderComplete(job)}},
		StructuredContent: map[string]any{
			"jobId":    job.ID,
			"audioUrl": job.Result.AudioURL,
			"imageUrl": job.Result.ImageURL,
			"title":    job.Result.Title,
		},
	}, nil
}

func decodeArgs(req *mcp.CallToolRequest, v any) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, v)
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
