package flow

import (
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// message returns the node's own message, without a FlowError's code prefix.
func message(err error) string {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe.Message
	}
	return err.Error()
}

// prepareError keeps the code of a FlowError returned by Prepare, so a
// missing key stays MISSING_CONTEXT_KEY. Anything else is PREPARE_FAILED.
func prepareError(nodeID string, err error) error {
	if fe, ok := schema.AsFlowError(err); ok && !engine.IsPanic(err) {
		return &schema.FlowError{Code: fe.Code, Message: fe.Message, NodeID: nodeID, Details: fe.Details, Cause: err}
	}
	return schema.NewError(schema.ErrCodePrepareFailed, message(err)).WithNode(nodeID).WithCause(err)
}

// executionError wraps the last attempt's error. Cancellation keeps its code.
func executionError(nodeID string, attempts int, err error) *schema.FlowError {
	if schema.CodeOf(err) == schema.ErrCodeCancelled {
		return schema.NewError(schema.ErrCodeCancelled, message(err)).
			WithNode(nodeID).WithAttempts(attempts).WithCause(err)
	}
	return schema.NewError(schema.ErrCodeExecutionFailed, message(err)).
		WithNode(nodeID).WithAttempts(attempts).WithCause(err)
}

func finalizeError(nodeID string, err error) error {
	return schema.NewError(schema.ErrCodeFinalize, message(err)).WithNode(nodeID).WithCause(err)
}

func isCancelled(err error) bool {
	return schema.CodeOf(err) == schema.ErrCodeCancelled
}
