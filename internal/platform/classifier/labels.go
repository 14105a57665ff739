package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LabelMap maps model output indices to clinical labels. Index order is
// expected to follow clinical severity, which is what makes the
// worse-of-two combined label meaningful.
type LabelMap struct {
	labels []string
}

// NewLabelMap builds a map from labels listed in index order.
func NewLabelMap(labels ...string) (LabelMap, error) {
	if len(labels) == 0 {
		return LabelMap{}, fmt.Errorf("label map is empty")
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return LabelMap{}, fmt.Errorf("label %d is empty", i)
		}
		out[i] = l
	}
	return LabelMap{labels: out}, nil
}

// LoadLabelMap reads a class_indices.json file of the form
// {"0": "No_DR", "1": "Mild", ...}. Keys must cover 0..n-1 exactly.
func LoadLabelMap(path string) (LabelMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return LabelMap{}, fmt.Errorf("read class mapping %s: %w", path, err)
	}
	return ParseLabelMap(raw)
}

// ParseLabelMap parses the JSON body of a class mapping file.
func ParseLabelMap(raw []byte) (LabelMap, error) {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return LabelMap{}, fmt.Errorf("parse class mapping: %w", err)
	}
	labels := make([]string, len(m))
	seen := make([]bool, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return LabelMap{}, fmt.Errorf("class mapping key %q is not an integer", k)
		}
		if idx < 0 || idx >= len(m) {
			return LabelMap{}, fmt.Errorf("class mapping key %d outside 0..%d", idx, len(m)-1)
		}
		if seen[idx] {
			return LabelMap{}, fmt.Errorf("class mapping key %d repeated", idx)
		}
		seen[idx] = true
		labels[idx] = v
	}
	return NewLabelMap(labels...)
}

// Len returns the number of classes.
func (m LabelMap) Len() int { return len(m.labels) }

// Label returns the label for idx.
func (m LabelMap) Label(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.labels) {
		return "", false
	}
	return m.labels[idx], true
}

// Labels returns a copy of the labels in index order.
func (m LabelMap) Labels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// CheckSeverityOrder verifies that index order equals the given clinical
// severity order, least severe first. Labels compare case-insensitively.
func (m LabelMap) CheckSeverityOrder(order []string) error {
	if len(order) != len(m.labels) {
		return fmt.Errorf("severity order lists %d labels, model has %d", len(order), len(m.labels))
	}
	for i, want := range order {
		if !strings.EqualFold(strings.TrimSpace(want), m.labels[i]) {
			return fmt.Errorf("index %d is %q, severity order expects %q", i, m.labels[i], want)
		}
	}
	return nil
}
