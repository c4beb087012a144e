// Package sqlexec implements the safe SQL executor: a thin
// pass-through that classifies a user-supplied statement by its
// leading keyword (opcode classification, not a full SQL parser),
// rejects everything outside SELECT/INSERT/UPDATE/DELETE before
// execution, rejects multiple statements unless explicitly allowed,
// and can redact named result columns. The read/write split is a
// generalization of `strings.HasPrefix(trimmed, keyword)` into an
// allow-list plus a disallow-list, so unrecognized opcodes fail closed
// rather than falling through to "assume it's a write".
package sqlexec

import (
	"context"
	"database/sql"
	"strings"
	"unicode"

	"github.com/cinchdb/cinchdb/internal/cerrors"
)

// RedactionSentinel replaces a masked column's value when it is
// non-null: named columns can be redacted with a fixed sentinel
// rather than returned in the clear.
const RedactionSentinel = "***REDACTED***"

// allowedOpcodes is the closed set of statement kinds the executor
// will run.
var allowedOpcodes = map[string]bool{
	"SELECT": true,
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
}

// disallowedOpcodes lists operations explicitly rejected, used only to
// produce a precise error message; any keyword not in allowedOpcodes
// is rejected regardless of whether it appears here.
var disallowedOpcodes = []string{
	"CREATE", "ALTER", "DROP", "TRUNCATE", "ATTACH", "DETACH",
	"PRAGMA", "VACUUM", "REINDEX", "SAVEPOINT",
}

// Options configures one Execute call.
type Options struct {
	// AllowMultiStatement permits more than one statement per call;
	// multiple statements are rejected unless this is set. Each
	// statement is still individually opcode-classified.
	AllowMultiStatement bool
	// MaskColumns names result columns whose non-null values are
	// replaced with RedactionSentinel before being returned.
	MaskColumns []string
}

// Row is one result row, column name to value, after any masking.
type Row map[string]any

// Result is the outcome of Execute: Rows is populated for a SELECT,
// RowsAffected for INSERT/UPDATE/DELETE.
type Result struct {
	Columns      []string
	Rows         []Row
	RowsAffected int64
}

// Validate classifies query and returns an error if it is not safe to
// run: an opcode outside the allow-list, or (absent
// Options.AllowMultiStatement) more than one statement. No SQL is
// executed.
func Validate(query string, opts Options) error {
	stmts := splitStatements(query)
	if len(stmts) == 0 {
		return cerrors.Of(cerrors.ErrSQLValidation, "empty query", nil)
	}
	if len(stmts) > 1 && !opts.AllowMultiStatement {
		return cerrors.Of(cerrors.ErrSQLValidation, "multiple statements require AllowMultiStatement", nil)
	}
	for _, s := range stmts {
		if err := validateOne(s); err != nil {
			return err
		}
	}
	return nil
}

func validateOne(stmt string) error {
	op := leadingOpcode(stmt)
	if op == "" {
		return cerrors.Of(cerrors.ErrSQLValidation, "statement has no recognizable opcode", nil)
	}
	if allowedOpcodes[op] {
		return nil
	}
	for _, bad := range disallowedOpcodes {
		if op == bad {
			return cerrors.Of(cerrors.ErrSQLValidation, "operation "+op+" is not permitted through the safe executor", nil)
		}
	}
	return cerrors.Of(cerrors.ErrSQLValidation, "unrecognized or unsupported operation "+op, nil)
}

// leadingOpcode returns the statement's first keyword, uppercased. A
// leading "WITH" is special-cased: a CTE prefix defers classification
// to the first keyword after the CTE's own column/AS clauses,
// approximated here as a disallowed keyword appearing as a whole word
// anywhere in the statement (SQLite has no DDL-bearing CTEs, so in
// practice this only catches pathologically crafted input).
func leadingOpcode(stmt string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(stmt))
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "WITH") {
		words := strings.FieldsFunc(trimmed, func(r rune) bool {
			return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, bad := range disallowedOpcodes {
			for _, w := range words {
				if w == bad {
					return bad
				}
			}
		}
		return "SELECT"
	}
	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// splitStatements breaks query on every semicolon, including one
// inside a string literal or comment, and drops segments that are
// empty or whitespace only.
func splitStatements(query string) []string {
	parts := strings.Split(query, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// Execute validates query, then runs it against db (typically a
// tenant connection opened via the read or write path: SELECT routes
// to the read path, everything else to the write path). A SELECT's
// rows are collected into Result.Rows with masked columns redacted;
// any other statement returns its RowsAffected.
func Execute(ctx context.Context, db *sql.DB, query string, args []any, opts Options) (Result, error) {
	if err := Validate(query, opts); err != nil {
		return Result{}, err
	}

	stmts := splitStatements(query)
	var last Result
	for i, stmt := range stmts {
		stmtArgs := args
		if i > 0 {
			stmtArgs = nil
		}
		op := leadingOpcode(stmt)
		if op == "SELECT" {
			res, err := runSelect(ctx, db, stmt, stmtArgs, opts.MaskColumns)
			if err != nil {
				return Result{}, err
			}
			last = res
			continue
		}
		res, err := db.ExecContext(ctx, stmt, stmtArgs...)
		if err != nil {
			return Result{}, cerrors.Wrap("execute statement", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return Result{}, cerrors.Wrap("read rows affected", err)
		}
		last = Result{RowsAffected: affected}
	}
	return last, nil
}

func runSelect(ctx context.Context, db *sql.DB, query string, args []any, maskColumns []string) (Result, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, cerrors.Wrap("execute select", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, cerrors.Wrap("read result columns", err)
	}
	mask := make(map[string]bool, len(maskColumns))
	for _, c := range maskColumns {
		mask[c] = true
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, cerrors.Wrap("scan result row", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			if mask[col] && v != nil {
				v = RedactionSentinel
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, cerrors.Wrap("iterate result rows", err)
	}
	return Result{Columns: cols, Rows: out}, nil
}
