// Package spec loads and validates pipeline declarations.
//
// Declarations are JSON documents; YAML is accepted for .yaml/.yml paths.
// Decoding is strict: unknown keys are rejected so a typoed field fails the
// run instead of silently changing behavior. Validation aggregates every
// issue into one error rather than stopping at the first.
package spec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/stagehand/internal/model"
)

// ErrInvalid marks any pipeline declaration failure. Match with errors.Is.
var ErrInvalid = errors.New("spec: invalid pipeline")

// ValidationError aggregates declaration validation issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid pipeline declaration"
	}
	return "invalid pipeline declaration: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

func (e *ValidationError) add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

var stageNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Wire types for the declaration document. Pointers distinguish an absent
// key from a zero value for required and defaulted fields.
type pipelineDecl struct {
	Name    string       `json:"name" yaml:"name"`
	Version string       `json:"version" yaml:"version"`
	Stages  *[]stageDecl `json:"stages" yaml:"stages"`
}

type stageDecl struct {
	Name        string           `json:"name" yaml:"name"`
	Processor   string           `json:"processor" yaml:"processor"`
	Inputs      *[]string        `json:"inputs" yaml:"inputs"`
	OutputDir   string           `json:"outputDir" yaml:"outputDir"`
	Params      map[string]any   `json:"params" yaml:"params"`
	Idempotency *idempotencyDecl `json:"idempotency" yaml:"idempotency"`
	Checkpoint  *checkpointDecl  `json:"checkpoint" yaml:"checkpoint"`
	Retry       *retryDecl       `json:"retry" yaml:"retry"`
	Resources   *resourcesDecl   `json:"resources" yaml:"resources"`
}

type idempotencyDecl struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type checkpointDecl struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	LineInterval int  `json:"lineInterval" yaml:"lineInterval"`
}

type retryDecl struct {
	MaxAttempts int     `json:"maxAttempts" yaml:"maxAttempts"`
	BaseDelay   float64 `json:"baseDelay" yaml:"baseDelay"`
	Jitter      float64 `json:"jitter" yaml:"jitter"`
}

type resourcesDecl struct {
	CPUCores      int `json:"cpuCores" yaml:"cpuCores"`
	MemoryMB      int `json:"memoryMB" yaml:"memoryMB"`
	IOConcurrency int `json:"ioConcurrency" yaml:"ioConcurrency"`
}

// Load reads, decodes, and validates the declaration at path. Neither
// processor nor input paths are required to exist at load time: inputs may
// be produced by earlier stages within the same run, and a missing
// processor is an execution-time stage failure, not a declaration error.
func Load(path string) (model.PipelineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.PipelineSpec{}, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
	}

	var decl pipelineDecl
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&decl); err != nil {
			return model.PipelineSpec{}, fmt.Errorf("%w: decode %s: %v", ErrInvalid, path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&decl); err != nil {
			return model.PipelineSpec{}, fmt.Errorf("%w: decode %s: %v", ErrInvalid, path, err)
		}
	}

	return validate(decl)
}

// validate checks the decoded declaration and converts it into the
// immutable model form with defaults applied.
func validate(decl pipelineDecl) (model.PipelineSpec, error) {
	issues := &ValidationError{}

	if strings.TrimSpace(decl.Name) == "" {
		issues.add("name is required")
	}
	if decl.Stages == nil {
		issues.add("stages is required")
		return model.PipelineSpec{}, issues.orNil()
	}

	out := model.PipelineSpec{
		Name:    decl.Name,
		Version: decl.Version,
		Stages:  make([]model.StageSpec, 0, len(*decl.Stages)),
	}

	seen := make(map[string]struct{}, len(*decl.Stages))
	for i, sd := range *decl.Stages {
		name := strings.TrimSpace(sd.Name)
		if name == "" {
			issues.add("stage[%d] name is required", i)
			continue
		}
		if !stageNamePattern.MatchString(name) {
			issues.add("stage[%s] name must match %s", name, stageNamePattern.String())
		}
		if _, dup := seen[name]; dup {
			issues.add("duplicate stage name %q", name)
		}
		seen[name] = struct{}{}

		// Processor existence is deliberately not checked here: a processor
		// removed between runs must surface as a stage-level ProcessorMissing
		// failure with metrics, not as a declaration error.
		if strings.TrimSpace(sd.Processor) == "" {
			issues.add("stage[%s] processor is required", name)
		}
		if sd.Inputs == nil {
			issues.add("stage[%s] inputs is required", name)
		}
		if strings.TrimSpace(sd.OutputDir) == "" {
			issues.add("stage[%s] outputDir is required", name)
		}

		out.Stages = append(out.Stages, buildStage(sd, name))
	}

	if err := issues.orNil(); err != nil {
		return model.PipelineSpec{}, err
	}
	return out, nil
}

func buildStage(sd stageDecl, name string) model.StageSpec {
	st := model.StageSpec{
		Name:      name,
		Processor: sd.Processor,
		OutputDir: sd.OutputDir,
		Params:    sd.Params,
		// Idempotency defaults to enabled: re-running an unchanged
		// pipeline should be a no-op unless a stage opts out.
		Idempotency: model.IdempotencyConfig{Enabled: true},
		Retry:       model.DefaultRetryPolicy,
	}
	if sd.Inputs != nil {
		st.Inputs = *sd.Inputs
	}
	if st.Params == nil {
		st.Params = map[string]any{}
	}
	if sd.Idempotency != nil {
		st.Idempotency = model.IdempotencyConfig{Enabled: sd.Idempotency.Enabled}
	}
	if sd.Checkpoint != nil {
		st.Checkpoint = model.CheckpointConfig{
			Enabled:      sd.Checkpoint.Enabled,
			LineInterval: sd.Checkpoint.LineInterval,
		}
	}
	if sd.Retry != nil {
		st.Retry = model.RetryPolicy{
			MaxAttempts: sd.Retry.MaxAttempts,
			BaseDelay:   time.Duration(sd.Retry.BaseDelay * float64(time.Second)),
			Jitter:      sd.Retry.Jitter,
		}
		if st.Retry.MaxAttempts < 1 {
			st.Retry.MaxAttempts = 1
		}
	}
	if sd.Resources != nil {
		st.Resources = model.ResourceHints{
			CPUCores:      sd.Resources.CPUCores,
			MemoryMB:      sd.Resources.MemoryMB,
			IOConcurrency: sd.Resources.IOConcurrency,
		}
	}
	return st
}
