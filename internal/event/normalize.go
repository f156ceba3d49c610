// Package event turns raw bus payloads into event fields.
//
// Publishers are not always strict: some emit JavaScript-style object literals
// such as {to:42, msg:hello}. Normalize accepts strict JSON first and falls back
// to a lossy textual repair that quotes bare keys and non-numeric values.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pscheid92/relay/internal/domain"
)

var (
	bareKeyPattern   = regexp.MustCompile(`([{\s,])([A-Za-z_][\p{L}\p{N}\p{Mn}_]*)\s*:`)
	bareValuePattern = regexp.MustCompile(`:\s*([^,"\[\]{}\p{Nd}][^,}\]]*)`)
)

// Result is the outcome of a successful normalization.
type Result struct {
	Fields *domain.Fields
	// Repaired holds the rewritten payload when the strict parse failed.
	// Empty when the payload was already valid JSON.
	Repaired string
}

// Normalize parses payload as a JSON object, repairing it if needed.
// It returns domain.ErrUnparseable when the payload cannot be recovered.
func Normalize(payload string) (Result, error) {
	fields, strictErr := parseObject(payload)
	if strictErr == nil {
		return Result{Fields: fields}, nil
	}

	repaired := Repair(payload)
	fields, err := parseObject(repaired)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrUnparseable, err)
	}
	return Result{Fields: fields, Repaired: repaired}, nil
}

// Repair quotes bare identifier keys and values that do not start with a digit,
// a quote, '{' or '['. Keys may contain non-ASCII letters after the first
// character. Values such as true, null or -1 become strings.
func Repair(payload string) string {
	s := strings.TrimSpace(payload)
	s = bareKeyPattern.ReplaceAllString(s, `$1"$2":`)
	s = bareValuePattern.ReplaceAllStringFunc(s, func(match string) string {
		value := bareValuePattern.FindStringSubmatch(match)[1]
		return `:"` + strings.TrimSpace(value) + `"`
	})
	return s
}

func parseObject(payload string) (*domain.Fields, error) {
	data := bytes.TrimSpace([]byte(payload))
	if !utf8.Valid(data) {
		return nil, errors.New("invalid UTF-8")
	}
	if !json.Valid(data) {
		return nil, errors.New("invalid JSON")
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, errors.New("top-level value is not an object")
	}
	fields := domain.NewFields()
	if err := json.Unmarshal(data, fields); err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	return fields, nil
}
