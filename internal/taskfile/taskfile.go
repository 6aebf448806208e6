// Package taskfile reads distributed tasks and their coordination strategy
// from YAML documents.
//
// A task file has two sections:
//
//	task:
//	  id: build-index
//	  complexity: moderate
//	  decomposable: true
//	  parallelizable: true
//	  time_limit: 10m
//	strategy:
//	  type: parallel
//	  max_concurrent_agents: 3
//	  failure_handling: graceful-degradation
//
// Durations use Go duration syntax. Strategy fields left out are filled from
// the caller's defaults by File.StrategyOr.
package taskfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// File is a parsed task file.
type File struct {
	Task     models.DistributedTask      `yaml:"task"`
	Strategy models.CoordinationStrategy `yaml:"strategy,omitempty"`
}

// Load reads and parses the task file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a task file. Unknown keys are rejected so typos in field
// names surface instead of silently planning a different task.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, swarmerr.Invalid("task", "task file is empty")
		}
		return nil, fmt.Errorf("decode task file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Task.ID == "" {
		return swarmerr.Invalid("task.id", "is required")
	}
	if f.Task.Complexity != "" && !f.Task.Complexity.Valid() {
		return swarmerr.Invalid("task.complexity", "unknown complexity %q", f.Task.Complexity)
	}
	if t := f.Strategy.Type; t != "" && !t.Valid() {
		return swarmerr.Invalid("strategy.type", "unknown strategy %q", t)
	}
	if p := f.Strategy.FailureHandling; p != "" && !p.Valid() {
		return swarmerr.Invalid("strategy.failure_handling", "unknown policy %q", p)
	}
	if p := f.Strategy.Protocol; p != "" && !p.Valid() {
		return swarmerr.Invalid("strategy.protocol", "unknown protocol %q", p)
	}
	if f.Strategy.MaxConcurrentAgents < 0 {
		return swarmerr.Invalid("strategy.max_concurrent_agents", "must not be negative")
	}
	return nil
}

// StrategyOr returns the file's strategy with unset fields taken from def.
// Sync points are never inherited.
func (f *File) StrategyOr(def models.CoordinationStrategy) models.CoordinationStrategy {
	s := f.Strategy
	if s.Type == "" {
		s.Type = def.Type
	}
	if s.MaxConcurrentAgents == 0 {
		s.MaxConcurrentAgents = def.MaxConcurrentAgents
	}
	if s.FailureHandling == "" {
		s.FailureHandling = def.FailureHandling
	}
	if s.Protocol == "" {
		s.Protocol = def.Protocol
	}
	return s
}

// Marshal encodes a task file, for example to scaffold a new one.
func Marshal(f *File) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode task file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode task file: %w", err)
	}
	return buf.Bytes(), nil
}
