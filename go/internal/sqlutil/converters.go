package sqlutil

import (
	"database/sql"
	"time"
)

// NullString converts an optional string-kinded value (statuses, outcomes) to sql.NullString.
func NullString[T ~string](val *T) sql.NullString {
	if val == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*val), Valid: true}
}

// StringPtr converts sql.NullString back to an optional string-kinded value.
func StringPtr[T ~string](val sql.NullString) *T {
	if !val.Valid {
		return nil
	}
	v := T(val.String)
	return &v
}

func NullTime(val *time.Time) sql.NullTime {
	if val == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: val.UTC(), Valid: true}
}

func TimePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}
