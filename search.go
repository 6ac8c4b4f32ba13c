package fieldcrypt

import "fmt"

// PlaceholderStyle selects how SQL bind parameters are written.
type PlaceholderStyle int

const (
	// PlaceholderDollar writes PostgreSQL style parameters ($1, $2, ...).
	PlaceholderDollar PlaceholderStyle = iota
	// PlaceholderQuestion writes SQLite/MySQL style parameters (?).
	PlaceholderQuestion
)

// maxParamNumber is the PostgreSQL maximum parameter number.
const maxParamNumber = 65535

// HashColumnSuffix is appended to a column name to form its blind index column.
const HashColumnSuffix = "_hash"

// ValidColumnName checks if a table or column name is safe for SQL interpolation.
// Must start with letter or underscore, followed by alphanumeric/underscore.
func ValidColumnName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		letter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		if i == 0 && !letter {
			return false
		}
		if !letter && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// SearchCondition holds a SQL WHERE clause fragment and its arguments
// for an exact-match blind index lookup.
type SearchCondition struct {
	SQL  string        // SQL fragment like "email_hash = $1"
	Args []interface{} // the blind index, or nothing for "FALSE"
}

// SearchCondition builds the WHERE fragment matching rows whose
// {column}_hash equals the blind index of norm(value).
//
// paramOffset is the parameter number to use ($paramOffset) and is ignored with
// PlaceholderQuestion. An empty normalized value can never match and yields "FALSE".
//
// Example:
//
//	cond := svc.SearchCondition("email", "Alice@Example.com", 1, fieldcrypt.NormalizeEmail)
//	rows, _ := db.Query("SELECT id FROM users WHERE "+cond.SQL, cond.Args...)
func (s *Service) SearchCondition(column string, value string, paramOffset int, norm Normalizer) *SearchCondition {
	if !ValidColumnName(column) {
		panic("fieldcrypt: invalid column name (must start with letter/underscore, contain only alphanumeric/underscore)")
	}
	if paramOffset < 1 || paramOffset > maxParamNumber {
		panic(fmt.Sprintf("fieldcrypt: invalid paramOffset (must be 1-%d)", maxParamNumber))
	}
	if norm == nil {
		norm = NormalizeNone
	}

	idx := s.BlindIndex(norm(value))
	if idx == "" {
		return &SearchCondition{SQL: "FALSE"}
	}

	placeholder := "?"
	if s.placeholder == PlaceholderDollar {
		placeholder = fmt.Sprintf("$%d", paramOffset)
	}

	return &SearchCondition{
		SQL:  fmt.Sprintf("%s%s = %s", column, HashColumnSuffix, placeholder),
		Args: []interface{}{idx},
	}
}
