package schema

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationSeverity separates blocking issues from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one finding, located by a path into the definition such
// as "nodes[2].retry.delay" or "edges[0].to".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// ValidationResult collects the issues of every check run over a definition.
// Only errors make it invalid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge appends other's issues. A nil other is a no-op.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Errors = append(r.Errors, other.Errors...)
		r.Warnings = append(r.Warnings, other.Warnings...)
	}
}

// HasCode reports whether any error or warning carries code.
func (r *ValidationResult) HasCode(code string) bool {
	match := func(i ValidationIssue) bool { return i.Code == code }
	return slices.ContainsFunc(r.Errors, match) || slices.ContainsFunc(r.Warnings, match)
}

// Summary lists errors then warnings, one per line, each group sorted by
// path.
func (r *ValidationResult) Summary() string {
	var b strings.Builder
	for _, group := range [][]ValidationIssue{r.Errors, r.Warnings} {
		sorted := slices.Clone(group)
		slices.SortStableFunc(sorted, func(a, b ValidationIssue) int { return strings.Compare(a.Path, b.Path) })
		for _, is := range sorted {
			b.WriteString(is.String())
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ToError returns nil for a valid result. Otherwise it returns a
// VALIDATION_ERROR whose message is the lone error, or a count when there are
// several, and whose details list every issue.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := fmt.Sprintf("%d validation errors", len(r.Errors))
	if len(r.Errors) == 1 {
		first := r.Errors[0]
		msg = first.Message
		if first.Path != "" {
			msg = first.Path + ": " + msg
		}
	}
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}
