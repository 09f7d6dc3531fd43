// Package errors provides standardized error handling for sparkbridge components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, skip and continue) and Fatal (stop the session). The class tells
// a caller what to do without string matching:
//
//   - Invalid: a malformed Sparkplug payload. Log it, skip the message, keep ingesting.
//   - Transient: a failed rebirth publish or a failed subscriber push. Log it,
//     move on to the next target, prune the subscriber.
//   - Fatal: the upstream connection could not be established or was lost
//     without reconnect. Surface it to the operator.
//
// # Wrapping
//
// All helpers produce messages of the form "Component.Method: action failed: cause"
// and keep the cause reachable through errors.Is and errors.As:
//
//	if err := d.decode(buf); err != nil {
//	    return errors.WrapInvalid(err, "Handler", "Handle", "decode payload")
//	}
//
// # Retry
//
// Retry runs an operation with exponential backoff and stops early on any
// error that does not classify as transient:
//
//	err := errors.Retry(ctx, cfg, func() error {
//	    return client.connectOnce(ctx)
//	})
package errors
