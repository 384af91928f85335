// Package schedule interprets and validates an instance's start/stop cron
// expressions.
//
// Given the typed Input read from an instance's tags and a reference time,
// Validator.Validate computes the previous (at or before now) and next
// (strictly after now) occurrence of each expression in the configured zone and
// applies the policy checks:
//   - protected environments (prod/production) are never managed
//   - every minute an expression fires on must be a multiple of the minute step
//   - with both expressions present, the running and stopped windows around now
//     must each be at least the configured minimum
//
// The resulting Validated carries a Mode telling the reconciler whether to use
// schedule detection (both expressions) or trigger detection (one expression).
package schedule
