// Package condition evaluates attribute conditions attached to permissions.
//
// A Condition compares a dot-separated field of the target resource against
// an Operand. Operands are either literal values or references to the
// request context (written as "{name}" in configuration). Conditions fail
// closed: an absent field or an unresolved context reference never satisfies
// a comparison.
package condition
