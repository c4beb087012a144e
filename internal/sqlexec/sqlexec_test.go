package sqlexec

import (
	"context"
	"database/sql"
	"testing"

	"github.com/cinchdb/cinchdb/internal/cerrors"

	_ "modernc.org/sqlite"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(`CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT, email TEXT)`); err != nil {
		t.Fatalf("create table error = %v", err)
	}
	return db
}

func TestValidateRejectsDDL(t *testing.T) {
	err := Validate("DROP TABLE users", Options{})
	if !cerrors.Is(err, cerrors.ErrSQLValidation) {
		t.Fatalf("Validate(DROP TABLE) error = %v, want ErrSQLValidation", err)
	}
}

func TestValidateRejectsMultiStatementByDefault(t *testing.T) {
	err := Validate("SELECT * FROM users; DELETE FROM users", Options{})
	if !cerrors.Is(err, cerrors.ErrSQLValidation) {
		t.Fatalf("Validate(multi-statement) error = %v, want ErrSQLValidation", err)
	}
	if err := Validate("SELECT * FROM users; DELETE FROM users", Options{AllowMultiStatement: true}); err != nil {
		t.Fatalf("Validate() with AllowMultiStatement error = %v, want nil", err)
	}
}

func TestValidateRejectsMultiStatementEvenWhenLeadingWithDDL(t *testing.T) {
	err := Validate("CREATE TABLE x (id INT); SELECT 1", Options{AllowMultiStatement: true})
	if !cerrors.Is(err, cerrors.ErrSQLValidation) {
		t.Fatalf("Validate() error = %v, want ErrSQLValidation for leading CREATE", err)
	}
}

func TestExecuteInsertSelectRedact(t *testing.T) {
	db := openMemDB(t)
	ctx := context.Background()

	_, err := Execute(ctx, db, "INSERT INTO users (id, name, email) VALUES (?, ?, ?)",
		[]any{"u1", "Ada", "ada@example.com"}, Options{})
	if err != nil {
		t.Fatalf("Execute(INSERT) error = %v", err)
	}

	res, err := Execute(ctx, db, "SELECT id, name, email FROM users", nil, Options{MaskColumns: []string{"email"}})
	if err != nil {
		t.Fatalf("Execute(SELECT) error = %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(res.Rows))
	}
	if res.Rows[0]["email"] != RedactionSentinel {
		t.Fatalf("Rows[0][email] = %v, want redaction sentinel", res.Rows[0]["email"])
	}
	if res.Rows[0]["name"] != "Ada" {
		t.Fatalf("Rows[0][name] = %v, want Ada", res.Rows[0]["name"])
	}
}

func TestExecuteRejectsPragma(t *testing.T) {
	db := openMemDB(t)
	_, err := Execute(context.Background(), db, "PRAGMA table_info(users)", nil, Options{})
	if !cerrors.Is(err, cerrors.ErrSQLValidation) {
		t.Fatalf("Execute(PRAGMA) error = %v, want ErrSQLValidation", err)
	}
}
