package flowctx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint is the durable restartable-state snapshot written after every
// stage. Field names and shape are self-describing on disk.
type Checkpoint struct {
	Timestamp      string                 `json:"timestamp"`
	CurrentNode    string                 `json:"currentNode"`
	CompletedNodes []string               `json:"completedNodes"`
	NodeRetries    map[string]int         `json:"nodeRetries"`
	NodeOutcomes   map[string]StageStatus `json:"nodeOutcomes"`
	ContextValues  map[string]string      `json:"contextValues"`
	Logs           []string               `json:"logs"`
}

// rawCheckpoint is used to validate shape before decoding strictly, so that
// malformed documents produce a descriptive error instead of a zero-value
// silent success.
type rawCheckpoint struct {
	Timestamp      *string                `json:"timestamp"`
	CurrentNode    *string                `json:"currentNode"`
	CompletedNodes []string               `json:"completedNodes"`
	NodeRetries    map[string]int         `json:"nodeRetries"`
	NodeOutcomes   map[string]StageStatus `json:"nodeOutcomes"`
	ContextValues  map[string]string      `json:"contextValues"`
	Logs           []string               `json:"logs"`
}

// DecodeCheckpoint validates and decodes a checkpoint document. Older
// checkpoints missing nodeOutcomes are accepted and back-filled with an
// empty mapping.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	var raw rawCheckpoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("checkpoint: invalid JSON: %w", err)
	}
	if raw.Timestamp == nil {
		return nil, fmt.Errorf("checkpoint: missing required field %q", "timestamp")
	}
	if raw.CurrentNode == nil {
		return nil, fmt.Errorf("checkpoint: missing required field %q", "currentNode")
	}
	cp := &Checkpoint{
		Timestamp:      *raw.Timestamp,
		CurrentNode:    *raw.CurrentNode,
		CompletedNodes: raw.CompletedNodes,
		NodeRetries:    raw.NodeRetries,
		NodeOutcomes:   raw.NodeOutcomes,
		ContextValues:  raw.ContextValues,
		Logs:           raw.Logs,
	}
	if cp.CompletedNodes == nil {
		cp.CompletedNodes = []string{}
	}
	if cp.NodeRetries == nil {
		cp.NodeRetries = map[string]int{}
	}
	if cp.NodeOutcomes == nil {
		cp.NodeOutcomes = map[string]StageStatus{}
	}
	if cp.ContextValues == nil {
		cp.ContextValues = map[string]string{}
	}
	if cp.Logs == nil {
		cp.Logs = []string{}
	}
	return cp, nil
}

// Encode serializes the checkpoint to indented JSON.
func (c *Checkpoint) Encode() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// WriteAtomic writes the checkpoint to path via a temp-file-then-rename so a
// crash never leaves a half-written checkpoint.json behind.
func (c *Checkpoint) WriteAtomic(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: creating directory: %w", err)
	}
	data, err := c.Encode()
	if err != nil {
		return fmt.Errorf("checkpoint: encoding: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: renaming into place: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and decodes a checkpoint file from disk.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: reading %s: %w", path, err)
	}
	return DecodeCheckpoint(data)
}
