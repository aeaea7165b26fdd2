package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_Severities(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.Empty(t, r.Summary())

	r.AddWarning("nodes[3]", ErrCodeValidation, "node is unreachable from entry")
	assert.True(t, r.Valid(), "warnings never invalidate")
	assert.Nil(t, r.ToError())

	r.AddError("nodes[0].type", ErrCodeNotFound, `unknown node type "fetch"`)
	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_MergeAndHasCode(t *testing.T) {
	a := &ValidationResult{}
	a.AddError("entry", ErrCodeNoEntryNode, "entry is required")

	b := &ValidationResult{}
	b.AddError("edges[0]", ErrCodeDuplicateEdge, "edge (a, default) already defined")
	b.AddWarning("nodes[1]", ErrCodeValidation, "unreachable")

	a.Merge(b)
	a.Merge(nil)

	assert.Len(t, a.Errors, 2)
	assert.Len(t, a.Warnings, 1)
	assert.True(t, a.HasCode(ErrCodeDuplicateEdge))
	assert.True(t, a.HasCode(ErrCodeValidation))
	assert.False(t, a.HasCode(ErrCodeUndeclaredLabel))
}

func TestValidationResult_SummarySortsByPath(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("nodes[1]", ErrCodeValidation, "unreachable")
	r.AddError("nodes[0].type", ErrCodeNotFound, "unknown type")
	r.AddError("entry", ErrCodeNotFound, `entry node "x" is not defined`)

	want := "error: entry: entry node \"x\" is not defined\n" +
		"error: nodes[0].type: unknown type\n" +
		"warning: nodes[1]: unreachable\n"
	assert.Equal(t, want, r.Summary())
	assert.Equal(t, "entry", r.Errors[1].Path, "summary leaves the result untouched")
}

func TestValidationResult_ToError(t *testing.T) {
	t.Run("single error keeps its path and message", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddError("edges[2].label", ErrCodeUndeclaredLabel, `label "retry" is not declared`)

		err := r.ToError()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))

		fe, ok := AsFlowError(err)
		require.True(t, ok)
		assert.Equal(t, `edges[2].label: label "retry" is not declared`, fe.Message)
		assert.Len(t, fe.Details["errors"], 1)
	})

	t.Run("several errors are counted", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddError("", ErrCodeValidation, "err1")
		r.AddError("", ErrCodeValidation, "err2")
		r.AddWarning("", ErrCodeValidation, "warn1")

		fe, ok := AsFlowError(r.ToError())
		require.True(t, ok)
		assert.Equal(t, "2 validation errors", fe.Message)
		assert.Len(t, fe.Details["warnings"], 1)
	})
}
