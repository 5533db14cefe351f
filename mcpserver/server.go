// Package mcpserver exposes the dialectic operations as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/dialectic"
	"github.com/c360studio/concepteng/metrics"
)

// ConceptArgs identifies the concept a tool operates on.
type ConceptArgs struct {
	ID          string   `json:"id" jsonschema:"Identifier of the concept, e.g. planet."`
	Label       string   `json:"label" jsonschema:"The term being defined."`
	Definition  string   `json:"definition" jsonschema:"The current intensional definition."`
	Variable    string   `json:"variable,omitempty" jsonschema:"Bound variable used in the definition's phrasing."`
	Reference   string   `json:"reference,omitempty" jsonschema:"URL of the definition's source."`
	ModelName   string   `json:"model_name,omitempty" jsonschema:"Model to run the operation with (default gpt-4)."`
	Temperature *float64 `json:"temperature,omitempty" jsonschema:"Decoding temperature between 0 and 2 (default 0.1)."`
}

// Concept converts the arguments, filling defaults.
func (a ConceptArgs) Concept() concept.Concept {
	c := concept.New(a.ID, a.Label, a.Definition)
	c.Variable = a.Variable
	c.Reference = a.Reference
	if a.ModelName != "" {
		c.ModelName = a.ModelName
	}
	if a.Temperature != nil {
		c.Temperature = *a.Temperature
	}
	return c
}

// ClassifyArgs are the arguments of the classify tool.
type ClassifyArgs struct {
	Concept     ConceptArgs `json:"concept" jsonschema:"The concept to classify against."`
	Entity      string      `json:"entity" jsonschema:"Name of the entity to classify."`
	EntityID    string      `json:"entity_id,omitempty" jsonschema:"Optional identifier of the entity."`
	Description string      `json:"description,omitempty" jsonschema:"Optional description of the entity."`
}

// ProposeArgs are the arguments of the propose_counterexample tool.
type ProposeArgs struct {
	Concept ConceptArgs `json:"concept" jsonschema:"The concept to challenge."`
}

// CounterexampleArgs are the arguments of the validate_counterexample and
// revise_definition tools.
type CounterexampleArgs struct {
	Concept        ConceptArgs `json:"concept" jsonschema:"The challenged concept."`
	Counterexample string      `json:"counterexample" jsonschema:"Name of the counterexample."`
	Description    string      `json:"description,omitempty" jsonschema:"Optional description of the counterexample. Looked up when omitted and a describer is configured."`
}

// Server wraps an MCP server bound to a set of engines.
type Server struct {
	server   *mcp.Server
	engines  *dialectic.Engines
	describe dialectic.DescribeFunc
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithDescriber sets how missing counterexample descriptions are looked up.
func WithDescriber(fn dialectic.DescribeFunc) Option {
	return func(s *Server) { s.describe = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates the MCP server and registers its tools.
func NewServer(engines *dialectic.Engines, version string, opts ...Option) (*Server, error) {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "concepteng",
			Version: version,
		}, nil),
		engines: engines,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.setupToolHandlers(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setupToolHandlers() error {
	classifyInputSchema, err := jsonschema.For[ClassifyArgs]()
	if err != nil {
		return fmt.Errorf("classify schema: %w", err)
	}
	proposeInputSchema, err := jsonschema.For[ProposeArgs]()
	if err != nil {
		return fmt.Errorf("propose schema: %w", err)
	}
	validateInputSchema, err := jsonschema.For[CounterexampleArgs]()
	if err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}
	// AddTool resolves schemas in place, so each tool gets its own.
	reviseInputSchema, err := jsonschema.For[CounterexampleArgs]()
	if err != nil {
		return fmt.Errorf("revise schema: %w", err)
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "classify",
		Title:       "Classify Entity",
		Description: "Decide whether an entity falls under a concept's definition. Returns true, false or unknown with a rationale.",
		InputSchema: classifyInputSchema,
	}, s.handleClassify)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "propose_counterexample",
		Title:       "Propose Counterexample",
		Description: "Name an entity an opponent would offer as a counterexample to the definition.",
		InputSchema: proposeInputSchema,
	}, s.handlePropose)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "validate_counterexample",
		Title:       "Validate Counterexample",
		Description: "Judge whether a counterexample really defeats the definition.",
		InputSchema: validateInputSchema,
	}, s.handleValidate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "revise_definition",
		Title:       "Revise Definition",
		Description: "Propose a new definition that accounts for a counterexample. The concept itself is not changed.",
		InputSchema: reviseInputSchema,
	}, s.handleRevise)

	return nil
}

// Run serves the tools over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, mcp.NewStdioTransport())
}

func (s *Server) engineFor(c concept.Concept) (*dialectic.Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return s.engines.For(c.ModelName)
}

// handleClassify handles the classify tool call
func (s *Server) handleClassify(
	ctx context.Context,
	_ *mcp.ServerSession,
	params *mcp.CallToolParamsFor[ClassifyArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeOp("mcp_classify")
	args := params.Arguments
	if args.Entity == "" {
		done(false)
		return nil, fmt.Errorf("entity is required")
	}
	c := args.Concept.Concept()
	engine, err := s.engineFor(c)
	if err != nil {
		done(false)
		return nil, err
	}
	result, err := engine.Classify(ctx, c, concept.Entity{ID: args.EntityID, Label: args.Entity, Description: args.Description})
	if err != nil {
		done(false)
		return nil, fmt.Errorf("classify failed: %w", err)
	}
	done(true)
	return textResult(result)
}

// handlePropose handles the propose_counterexample tool call
func (s *Server) handlePropose(
	ctx context.Context,
	_ *mcp.ServerSession,
	params *mcp.CallToolParamsFor[ProposeArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeOp("mcp_propose_counterexample")
	c := params.Arguments.Concept.Concept()
	engine, err := s.engineFor(c)
	if err != nil {
		done(false)
		return nil, err
	}
	result, err := engine.ProposeCounterexample(ctx, c)
	if err != nil {
		done(false)
		return nil, fmt.Errorf("propose counterexample failed: %w", err)
	}
	done(true)
	return textResult(result)
}

// handleValidate handles the validate_counterexample tool call
func (s *Server) handleValidate(
	ctx context.Context,
	_ *mcp.ServerSession,
	params *mcp.CallToolParamsFor[CounterexampleArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeOp("mcp_validate_counterexample")
	c, engine, description, err := s.counterexampleInputs(ctx, params.Arguments)
	if err != nil {
		done(false)
		return nil, err
	}
	result, err := engine.ValidateCounterexample(ctx, c, params.Arguments.Counterexample, description)
	if err != nil {
		done(false)
		return nil, fmt.Errorf("validate counterexample failed: %w", err)
	}
	done(true)
	return textResult(result)
}

// handleRevise handles the revise_definition tool call
func (s *Server) handleRevise(
	ctx context.Context,
	_ *mcp.ServerSession,
	params *mcp.CallToolParamsFor[CounterexampleArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeOp("mcp_revise_definition")
	c, engine, description, err := s.counterexampleInputs(ctx, params.Arguments)
	if err != nil {
		done(false)
		return nil, err
	}
	result, err := engine.ReviseDefinition(ctx, c, params.Arguments.Counterexample, description)
	if err != nil {
		done(false)
		return nil, fmt.Errorf("revise definition failed: %w", err)
	}
	done(true)
	return textResult(result)
}

func (s *Server) counterexampleInputs(ctx context.Context, args CounterexampleArgs) (concept.Concept, *dialectic.Engine, string, error) {
	if args.Counterexample == "" {
		return concept.Concept{}, nil, "", fmt.Errorf("counterexample is required")
	}
	c := args.Concept.Concept()
	engine, err := s.engineFor(c)
	if err != nil {
		return concept.Concept{}, nil, "", err
	}
	description := args.Description
	if description == "" && s.describe != nil {
		d, err := s.describe(ctx, args.Counterexample)
		if err != nil {
			s.logger.Warn("Counterexample lookup failed", "counterexample", args.Counterexample, "error", err)
		} else {
			description = d
		}
	}
	return c, engine, description, nil
}

// textResult renders v as indented JSON text content.
func textResult(v any) (*mcp.CallToolResultFor[any], error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}
