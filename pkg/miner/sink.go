package miner

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// RuleRecord is an accepted rule with image names resolved.
type RuleRecord struct {
	Target       string   `json:"target"`
	Antecedent   []string `json:"antecedent"`
	Confidence   float64  `json:"confidence"`
	Significance float64  `json:"significance"`
}

// String renders "{a,b}->{t}".
func (r RuleRecord) String() string {
	return "{" + strings.Join(r.Antecedent, ",") + "}->{" + r.Target + "}"
}

// Sink receives accepted rules. Emit is called concurrently by every
// worker; an error stops the run.
type Sink interface {
	Emit(r RuleRecord) error
}

// WriterSink writes one "rule: (conf, sig) {a,b}->{t}" line per rule.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink on w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit implements Sink.
func (s *WriterSink) Emit(r RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "rule: (%f, %f) %s\n", r.Confidence, r.Significance, r.String())
	return err
}

// JSONSink writes one JSON object per rule.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink creates a JSONSink on w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// Emit implements Sink.
func (s *JSONSink) Emit(r RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(r)
}

// CollectSink keeps every rule in memory.
type CollectSink struct {
	mu    sync.Mutex
	rules []RuleRecord
}

// Emit implements Sink.
func (s *CollectSink) Emit(r RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, r)
	return nil
}

// Rules returns the collected rules sorted by their rendering.
func (s *CollectSink) Rules() []RuleRecord {
	s.mu.Lock()
	out := slices.Clone(s.rules)
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b RuleRecord) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// NewSink returns the sink for an output format: "text" or "json".
func NewSink(format string, w io.Writer) (Sink, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewWriterSink(w), nil
	case "json":
		return NewJSONSink(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
