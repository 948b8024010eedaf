package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/flexigpt/llmtools-go"
	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"
)

// ArgumentValidationError is the structured failure the spec calls
// invalid_tool_arguments: AgentLoop surfaces it back into the conversation
// as a retry nudge rather than treating it as a fatal dispatch error.
type ArgumentValidationError struct {
	Detail string
	Got    string
}

func (e *ArgumentValidationError) Error() string {
	return fmt.Sprintf("invalid_tool_arguments: %s", e.Detail)
}

// Envelope renders the error in the spec's {error, detail, got} shape, fed
// back to the model as a tool-result message.
func (e *ArgumentValidationError) Envelope() map[string]any {
	return map[string]any{
		"error":  "invalid_tool_arguments",
		"detail": e.Detail,
		"got":    e.Got,
	}
}

var errNilDispatcher = errors.New("toolregistry: nil dispatcher")

// compiled pairs a tool descriptor with its compiled argument schema.
type compiled struct {
	tool   llmtoolsgoSpec.Tool
	schema *jsonschema.Schema
}

// compileSchemas compiles every tool's draft-07 ArgSchema once, so Bind and
// Register never re-parse JSON schema text per call.
func compileSchemas() (map[llmtoolsgoSpec.FuncID]compiled, error) {
	compiler := jsonschema.NewCompiler()
	out := make(map[llmtoolsgoSpec.FuncID]compiled, len(Tools()))
	for _, t := range Tools() {
		url := "mem://toolregistry/" + string(t.GoImpl.FuncID)
		if err := compiler.AddResource(url, strings.NewReader(string(t.ArgSchema))); err != nil {
			return nil, fmt.Errorf("toolregistry: add schema resource for %s: %w", t.Slug, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("toolregistry: compile schema for %s: %w", t.Slug, err)
		}
		out[t.GoImpl.FuncID] = compiled{tool: t, schema: schema}
	}
	return out, nil
}

// validateArgs decodes raw generically and validates it against schema,
// returning an *ArgumentValidationError (not a generic error) on failure so
// callers can distinguish "bad arguments" from "schema/IO failure".
func validateArgs(schema *jsonschema.Schema, raw json.RawMessage) error {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return &ArgumentValidationError{Detail: err.Error(), Got: string(raw)}
	}
	if err := schema.Validate(generic); err != nil {
		return &ArgumentValidationError{Detail: err.Error(), Got: string(raw)}
	}
	return nil
}

// decodeStrict decodes raw into T, rejecting unknown fields and any
// trailing data after the first JSON value. Ported from the teacher's
// skilltool.decodeStrict.
func decodeStrict[T any](raw json.RawMessage) (T, error) {
	var zero T

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var v T
	if err := dec.Decode(&v); err != nil {
		return zero, fmt.Errorf("invalid input: %w", err)
	}

	var extra any
	if err := dec.Decode(&extra); err == nil {
		return zero, errors.New("invalid input: trailing data")
	} else if !errors.Is(err, io.EOF) {
		return zero, errors.New("invalid input: trailing data")
	}

	return v, nil
}

// textJSON wraps v as a single text-kind tool output, matching the
// teacher's skilltool.textJSON helper.
func textJSON(v any) ([]llmtoolsgoSpec.ToolStoreOutputUnion, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	s := string(raw)
	if s == "" || s == "null" {
		return nil, nil
	}
	return []llmtoolsgoSpec.ToolStoreOutputUnion{
		{
			Kind: llmtoolsgoSpec.ToolStoreOutputKindText,
			TextItem: &llmtoolsgoSpec.ToolStoreOutputText{
				Text: s,
			},
		},
	}, nil
}

// Bind compiles schemas and wires each tool's FuncID to a ToolFunc that
// validates arguments, decodes them strictly, dispatches to d, and encodes
// the result as a single text output.
func Bind(d Dispatcher) (map[llmtoolsgoSpec.FuncID]llmtoolsgoSpec.ToolFunc, error) {
	if d == nil {
		return nil, errNilDispatcher
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	out := map[llmtoolsgoSpec.FuncID]llmtoolsgoSpec.ToolFunc{}

	wrap := func(funcID llmtoolsgoSpec.FuncID, call func(ctx context.Context, raw json.RawMessage) (any, error)) {
		c := schemas[funcID]
		out[funcID] = func(ctx context.Context, raw json.RawMessage) ([]llmtoolsgoSpec.ToolStoreOutputUnion, error) {
			if err := validateArgs(c.schema, raw); err != nil {
				var ve *ArgumentValidationError
				if errors.As(err, &ve) {
					return textJSON(ve.Envelope())
				}
				return nil, err
			}
			result, err := call(ctx, raw)
			if err != nil {
				return nil, err
			}
			return textJSON(result)
		}
	}

	wrap(funcIDGetSessionContext, func(ctx context.Context, raw json.RawMessage) (any, error) {
		if _, err := decodeStrict[GetSessionContextArgs](raw); err != nil {
			return nil, err
		}
		return d.GetSessionContext(ctx)
	})

	wrap(funcIDGetSkillMetadata, func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decodeStrict[GetSkillMetadataArgs](raw)
		if err != nil {
			return nil, err
		}
		return d.GetSkillMetadata(ctx, args.SkillName)
	})

	wrap(funcIDListSkillFiles, func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decodeStrict[ListSkillFilesArgs](raw)
		if err != nil {
			return nil, err
		}
		return d.ListSkillFiles(ctx, args.SkillName, args.MaxDepth)
	})

	wrap(funcIDReadSkillFile, func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decodeStrict[ReadSkillFileArgs](raw)
		if err != nil {
			return nil, err
		}
		return d.ReadSkillFile(ctx, args.SkillName, args.RelativePath, args.MaxChars)
	})

	wrap(funcIDRunSkillCommand, func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decodeStrict[RunSkillCommandArgs](raw)
		if err != nil {
			return nil, err
		}
		return d.RunSkillCommand(ctx, args.SkillName, args.Command, args.CWDRelative, args.AutoInstall)
	})

	wrap(funcIDWriteTempFile, func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decodeStrict[WriteTempFileArgs](raw)
		if err != nil {
			return nil, err
		}
		return d.WriteTempFile(ctx, args.RelativePath, args.Content)
	})

	wrap(funcIDReadTempFile, func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decodeStrict[ReadTempFileArgs](raw)
		if err != nil {
			return nil, err
		}
		return d.ReadTempFile(ctx, args.RelativePath, args.MaxChars)
	})

	wrap(funcIDListTempFiles, func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decodeStrict[ListTempFilesArgs](raw)
		if err != nil {
			return nil, err
		}
		return d.ListTempFiles(ctx, args.MaxDepth)
	})

	wrap(funcIDRunTempCommand, func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decodeStrict[RunTempCommandArgs](raw)
		if err != nil {
			return nil, err
		}
		return d.RunTempCommand(ctx, args.Command, args.CWDRelative, args.AutoInstall)
	})

	wrap(funcIDExportTempFile, func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decodeStrict[ExportTempFileArgs](raw)
		if err != nil {
			return nil, err
		}
		return d.ExportTempFile(ctx, args.TempRelativePath, args.WorkspaceRelativePath, args.Overwrite)
	})

	return out, nil
}

// Register binds d and registers every tool descriptor into r.
func Register(r *llmtools.Registry, d Dispatcher) error {
	if r == nil {
		return errors.New("toolregistry: nil registry")
	}
	bound, err := Bind(d)
	if err != nil {
		return err
	}
	for _, t := range Tools() {
		fn := bound[t.GoImpl.FuncID]
		if fn == nil {
			return fmt.Errorf("toolregistry: missing bound tool func for %s", t.GoImpl.FuncID)
		}
		if err := r.RegisterTool(t, fn); err != nil {
			return err
		}
	}
	return nil
}
