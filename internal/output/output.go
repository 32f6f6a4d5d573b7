// Package output writes jvminstr results to files.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/cpool"
	"jvminstr/internal/passes"
)

// ClassReport is the per-class summary written to report.json.
type ClassReport struct {
	Class     string        `json:"class"`
	Path      string        `json:"path"`
	Passes    []string      `json:"passes"`
	Rewritten []string      `json:"rewritten"`
	Sites     int           `json:"sites"`
	Diags     []passes.Diag `json:"diags,omitempty"`
	SizeIn    int           `json:"size_in"`
	SizeOut   int           `json:"size_out"`
}

// WriteReportJSON writes class summaries to report.json.
func WriteReportJSON(dir string, reports []ClassReport) error {
	return writeJSON(filepath.Join(dir, "report.json"), reports)
}

// WriteSitesJSONL writes one JSON object per rewritten instruction to
// sites.jsonl.
func WriteSitesJSONL(dir string, sites []passes.Site) error {
	path := filepath.Join(dir, "sites.jsonl")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, s := range sites {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("output: encode %s: %w", path, err)
		}
	}
	return f.Close()
}

// WriteListing writes a method listing to listing/<name>.txt.
// name may contain path separators (e.g., "pkg/Owner/method") for directory grouping.
func WriteListing(dir string, name string, s *bytecode.Stream, pool *cpool.Pool, annotators ...bytecode.Annotator) error {
	path := filepath.Join(dir, "listing", name+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir listing: %w", err)
	}
	text := bytecode.Format(s, pool, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

// WriteDOT writes a rendered graph to <name>.dot.
func WriteDOT(dir string, name string, dot string) error {
	path := filepath.Join(dir, name+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir dot: %w", err)
	}
	return os.WriteFile(path, []byte(dot), 0644)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
