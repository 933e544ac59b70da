package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"orchestrator-core/internal/pipelineir"
)

// LoadPipeline reads a pipeline IR from a JSON file. The wire format is the
// direct JSON encoding of pipelineir.Pipeline; it is a deterministic,
// human-editable substitute for whatever compiler-emitted IR format a
// production deployment would read instead.
func LoadPipeline(path string) (*pipelineir.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, invalidInvocationf(fmt.Sprintf("reading pipeline IR %q: %v", path, err))
	}
	var p pipelineir.Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, invalidInvocationf(fmt.Sprintf("parsing pipeline IR %q: %v", path, err))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// WritePipeline writes a pipeline IR back out as indented JSON, for the
// `mark` subcommand to hand a marked IR to a later `tick`/`recycle` call.
func WritePipeline(path string, p *pipelineir.Pipeline) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("cli: marshalling pipeline IR: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
