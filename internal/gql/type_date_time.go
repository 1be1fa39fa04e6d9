package gql

import (
	"fmt"
	"time"
)

// DateTime is the RFC3339 scalar used for run and step timestamps.
type DateTime struct {
	time.Time
}

// ImplementsGraphQLType returns the GraphQL type name
func (DateTime) ImplementsGraphQLType(name string) bool {
	return name == "DateTime"
}

// UnmarshalGraphQL unmarshals a GraphQL DateTime value
func (t *DateTime) UnmarshalGraphQL(input interface{}) error {
	switch input := input.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, input)
		if err != nil {
			return fmt.Errorf("failed to parse DateTime: %w", err)
		}
		t.Time = parsed
		return nil
	case time.Time:
		t.Time = input
		return nil
	default:
		return fmt.Errorf("invalid DateTime type: %T", input)
	}
}

// MarshalJSON marshals DateTime to JSON (RFC3339 format)
func (t DateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(time.RFC3339) + `"`), nil
}

// NewDateTimeFromUnix creates a DateTime from a Unix timestamp.
func NewDateTimeFromUnix(timestamp int64) DateTime {
	return DateTime{Time: time.Unix(timestamp, 0)}
}

// NewDateTimePtrFromUnix creates a *DateTime from an optional Unix timestamp.
// Zero and nil both map to nil, matching how the DAOs store "not finished".
func NewDateTimePtrFromUnix(timestamp *int64) *DateTime {
	if timestamp == nil || *timestamp == 0 {
		return nil
	}
	dt := DateTime{Time: time.Unix(*timestamp, 0)}
	return &dt
}
