package schema

import (
	"fmt"
)

// Canonical field names shared by every record. The identity fields drive
// duplicate detection; the comment field is always last and is the only
// column allowed to absorb overflow tokens.
const (
	FieldScouter     = "scouter"
	FieldEvent       = "event"
	FieldMatchLevel  = "matchLevel"
	FieldMatchNumber = "matchNumber"
	FieldTeamNumber  = "teamNumber"
	FieldComment     = "comment"
)

// defaultMetricFields are the performance columns used when the config
// does not override them.
var defaultMetricFields = []string{
	"autoMobility",
	"autoScored",
	"teleopScored",
	"teleopMissed",
	"defensePlayed",
	"endgameClimb",
}

// Schema is the static ordered list of canonical field names for a run.
// The order is the transmission order: identity fields first, then the
// metric columns, then the comment. A Schema never changes once built.
type Schema struct {
	fields  []string
	indexOf map[string]int
}

// Default returns the schema with the built-in metric columns.
func Default() *Schema {
	s, err := New(defaultMetricFields)
	if err != nil {
		// The built-in field list is known valid.
		panic(err)
	}
	return s
}

// New builds a schema from the identity fields, the given metric columns,
// and the trailing comment field. Metric names must be non-empty and must
// not collide with each other or with the fixed fields.
func New(metricFields []string) (*Schema, error) {
	fields := []string{
		FieldScouter,
		FieldEvent,
		FieldMatchLevel,
		FieldMatchNumber,
		FieldTeamNumber,
	}
	fields = append(fields, metricFields...)
	fields = append(fields, FieldComment)

	indexOf := make(map[string]int, len(fields))
	for i, name := range fields {
		if name == "" {
			return nil, fmt.Errorf("schema field %d has an empty name", i)
		}
		if prev, ok := indexOf[name]; ok {
			return nil, fmt.Errorf("schema field %q appears at both position %d and %d", name, prev, i)
		}
		indexOf[name] = i
	}

	return &Schema{fields: fields, indexOf: indexOf}, nil
}

// Fields returns a copy of the ordered field names.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// Arity returns the number of columns, comment included.
func (s *Schema) Arity() int {
	return len(s.fields)
}

// CommentIndex returns the position of the comment column (always the last).
func (s *Schema) CommentIndex() int {
	return len(s.fields) - 1
}

// IndexOf returns the position of the named field.
func (s *Schema) IndexOf(name string) (int, bool) {
	i, ok := s.indexOf[name]
	return i, ok
}

// FieldAt returns the field name at position i.
func (s *Schema) FieldAt(i int) string {
	return s.fields[i]
}
