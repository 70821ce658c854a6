package dialect

import (
	"strings"

	"github.com/jmoiron/sqlx"
)

// Op tags a Statement with the kind of work it performs.
type Op int

const (
	OpUnknown Op = iota
	OpSelect
	OpInsert
	OpUpdate
	OpDelete
	// OpExec covers everything that is not row DML: DDL, SET, CALL, etc.
	OpExec
)

func (o Op) String() string {
	switch o {
	case OpSelect:
		return "select"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpExec:
		return "exec"
	default:
		return "unknown"
	}
}

// Statement is SQL text plus its positional arguments, tagged with the
// operation it is meant for. Executors check Op instead of parsing SQL.
type Statement struct {
	Op   Op
	SQL  string
	Args []any
}

// With returns a copy of s bound to args.
func (s Statement) With(args ...any) Statement {
	s.Args = args
	return s
}

func (s Statement) String() string { return s.SQL }

// Raw builds a Statement from free SQL text, classifying it by its leading keyword.
func Raw(query string, args ...any) Statement {
	return Statement{Op: Classify(query), SQL: query, Args: args}
}

func SelectStmt(query string, args ...any) Statement {
	return Statement{Op: OpSelect, SQL: query, Args: args}
}

func InsertStmt(query string, args ...any) Statement {
	return Statement{Op: OpInsert, SQL: query, Args: args}
}

func UpdateStmt(query string, args ...any) Statement {
	return Statement{Op: OpUpdate, SQL: query, Args: args}
}

func DeleteStmt(query string, args ...any) Statement {
	return Statement{Op: OpDelete, SQL: query, Args: args}
}

func ExecStmt(query string, args ...any) Statement {
	return Statement{Op: OpExec, SQL: query, Args: args}
}

// Named binds :name parameters from a struct or map and returns a
// ?-style Statement classified like Raw.
func Named(query string, arg any) (Statement, error) {
	bound, args, err := sqlx.Named(query, arg)
	if err != nil {
		return Statement{}, buildError("bind named parameters: %v", err)
	}
	return Raw(bound, args...), nil
}

var leadingOps = map[string]Op{
	"SELECT":   OpSelect,
	"SHOW":     OpSelect,
	"DESCRIBE": OpSelect,
	"DESC":     OpSelect,
	"EXPLAIN":  OpSelect,
	"VALUES":   OpSelect,
	"PRAGMA":   OpSelect,
	"INSERT":   OpInsert,
	"REPLACE":  OpInsert,
	"UPDATE":   OpUpdate,
	"DELETE":   OpDelete,
}

// Classify reports the operation of query from its first keyword,
// case-insensitively. Leading whitespace, parentheses and SQL comments are
// skipped. A WITH clause is classified by the statement that follows its
// common table expressions. Empty text is OpUnknown, any other keyword is
// OpExec.
func Classify(query string) Op {
	word, rest := firstKeyword(query)
	if word == "" {
		return OpUnknown
	}
	word = strings.ToUpper(word)
	if word == "WITH" {
		return cteBodyOp(rest)
	}
	if op, ok := leadingOps[word]; ok {
		return op
	}
	return OpExec
}

var cteBodyOps = map[string]Op{
	"SELECT":  OpSelect,
	"VALUES":  OpSelect,
	"TABLE":   OpSelect,
	"INSERT":  OpInsert,
	"REPLACE": OpInsert,
	"UPDATE":  OpUpdate,
	"DELETE":  OpDelete,
}

// cteBodyOp finds the first statement keyword outside parentheses and
// quotes, skipping the CTE names and bodies.
func cteBodyOp(s string) Op {
	depth := 0
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := strings.IndexByte(s[i+1:], c)
			if j < 0 {
				return OpSelect
			}
			i += j + 2
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			if depth == 0 {
				if op, ok := cteBodyOps[strings.ToUpper(s[i:j])]; ok {
					return op
				}
			}
			i = j
		default:
			i++
		}
	}
	return OpSelect
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func firstKeyword(query string) (string, string) {
	s := query
	for {
		s = strings.TrimLeft(s, " \t\r\n(")
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return "", ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return "", ""
			}
			s = s[i+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				return s, ""
			}
			return s[:end], s[end:]
		}
	}
}
