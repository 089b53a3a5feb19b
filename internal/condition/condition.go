package condition

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operator identifies a comparison applied by a condition.
type Operator string

// Supported operators.
const (
	Equals      Operator = "equals"
	NotEquals   Operator = "not_equals"
	Contains    Operator = "contains"
	In          Operator = "in"
	NotIn       Operator = "not_in"
	GreaterThan Operator = "greater_than"
	LessThan    Operator = "less_than"
)

// Valid reports whether the operator is known.
func (o Operator) Valid() bool {
	switch o {
	case Equals, NotEquals, Contains, In, NotIn, GreaterThan, LessThan:
		return true
	default:
		return false
	}
}

// Operand is the right-hand side of a condition.
// It is either a Literal or a ContextRef.
type Operand interface {
	// wire returns the configuration form of the operand.
	wire() any
}

// Literal is a constant operand.
type Literal struct {
	Value any
}

func (l Literal) wire() any { return l.Value }

// ContextRef refers to a value supplied in the evaluation context.
type ContextRef struct {
	Name string
}

func (r ContextRef) wire() any { return "{" + r.Name + "}" }

// ParseOperand converts a configuration value into an Operand.
// Strings of the form "{name}" become context references.
func ParseOperand(v any) Operand {
	switch val := v.(type) {
	case Operand:
		return val
	case string:
		if len(val) > 2 && strings.HasPrefix(val, "{") && strings.HasSuffix(val, "}") {
			name := val[1 : len(val)-1]
			if !strings.ContainsAny(name, "{} ") {
				return ContextRef{Name: name}
			}
		}
	}
	return Literal{Value: v}
}

// Condition restricts when a granted permission applies.
type Condition struct {
	Field    string
	Operator Operator
	Value    Operand
}

// New builds a condition, parsing value with ParseOperand.
func New(field string, op Operator, value any) Condition {
	return Condition{Field: field, Operator: op, Value: ParseOperand(value)}
}

// Validate checks that the condition can be evaluated.
func (c Condition) Validate() error {
	if c.Field == "" {
		return &EvaluationError{Operator: c.Operator, Reason: "field is required"}
	}
	if !c.Operator.Valid() {
		return &EvaluationError{Field: c.Field, Operator: c.Operator, Reason: "unknown operator"}
	}
	if c.Value == nil {
		return &EvaluationError{Field: c.Field, Operator: c.Operator, Reason: "value is required"}
	}
	return nil
}

// String renders the condition for logs and audit reasons.
func (c Condition) String() string {
	var v any
	if c.Value != nil {
		v = c.Value.wire()
	}
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, v)
}

type wireCondition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}

func (c Condition) toWire() wireCondition {
	w := wireCondition{Field: c.Field, Operator: c.Operator}
	if c.Value != nil {
		w.Value = c.Value.wire()
	}
	return w
}

// MarshalJSON encodes the condition in its configuration form.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.toWire())
}

// UnmarshalJSON decodes a condition, resolving "{name}" placeholders once.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var w wireCondition
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = New(w.Field, w.Operator, w.Value)
	return nil
}

// MarshalYAML encodes the condition in its configuration form.
func (c Condition) MarshalYAML() (any, error) {
	return c.toWire(), nil
}

// UnmarshalYAML decodes a condition, resolving "{name}" placeholders once.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var w wireCondition
	if err := node.Decode(&w); err != nil {
		return err
	}
	*c = New(w.Field, w.Operator, w.Value)
	return nil
}
