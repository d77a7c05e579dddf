package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
)

// The SQL adapters keep run kinds as a comma separated list and counts as
// a JSON object so both fit in a text column.

// EncodeKinds joins kinds with commas
func EncodeKinds(kinds []domain.EntityKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

// DecodeKinds splits a list written by EncodeKinds
func DecodeKinds(s string) []domain.EntityKind {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	kinds := make([]domain.EntityKind, len(parts))
	for i, p := range parts {
		kinds[i] = domain.EntityKind(p)
	}
	return kinds
}

// EncodeCounts marshals per-kind counts
func EncodeCounts(counts map[domain.EntityKind]int) (string, error) {
	if counts == nil {
		counts = map[domain.EntityKind]int{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeCounts unmarshals counts written by EncodeCounts
func DecodeCounts(s string) (map[domain.EntityKind]int, error) {
	counts := map[domain.EntityKind]int{}
	if s == "" {
		return counts, nil
	}
	if err := json.Unmarshal([]byte(s), &counts); err != nil {
		return nil, fmt.Errorf("decoding run counts: %w", err)
	}
	return counts, nil
}

// EncodeComments marshals a thread for a JSON column
func EncodeComments(comments []domain.Comment) (string, error) {
	if comments == nil {
		comments = []domain.Comment{}
	}
	b, err := json.Marshal(comments)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeComments unmarshals a thread read from a JSON column
func DecodeComments(s string) ([]domain.Comment, error) {
	var comments []domain.Comment
	if s == "" {
		return comments, nil
	}
	if err := json.Unmarshal([]byte(s), &comments); err != nil {
		return nil, fmt.Errorf("decoding comments: %w", err)
	}
	return comments, nil
}

// RunWindow rebuilds a window from the two stored dates
func RunWindow(start, end string) (domain.DateWindow, error) {
	if start == "" && end == "" {
		return domain.DateWindow{}, nil
	}
	return domain.NewDateWindow(start, end)
}
