package migrate

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

var testSource = fstest.MapFS{
	"migrations/0001_a.up.sql":   {Data: []byte("create table a (id int);")},
	"migrations/0001_a.down.sql": {Data: []byte("drop table a;")},
	"migrations/0002_b.up.sql":   {Data: []byte("-- second\ncreate table b (id int);\ninsert into b values (1);\n")},
	"migrations/0002_b.down.sql": {Data: []byte("drop table b;")},
	"seeds/0001_rows.sql":        {Data: []byte("insert into a values (1);")},
}

func newMockManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewManager(db, testSource), mock
}

func expectEnsure(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	m, mock := newMockManager(t)
	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into b values").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("unexpected applied list %v", applied)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	m, mock := newMockManager(t)
	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql").AddRow("0002_b.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0002_b.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := m.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0002_b.up.sql" {
		t.Fatalf("rolled back %q", name)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	m, mock := newMockManager(t)
	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := m.Down(context.Background()); err == nil {
		t.Fatalf("expected error when nothing is applied")
	}
}

func TestSeedFailureRollsBack(t *testing.T) {
	m, mock := newMockManager(t)
	boom := errors.New("relation a does not exist")
	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into a values").WillReturnError(boom)
	mock.ExpectRollback()

	applied, err := m.Seed(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected seed failure, got %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("nothing must be reported applied, got %v", applied)
	}
}

func TestPending(t *testing.T) {
	m, mock := newMockManager(t)
	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	pending, err := m.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || pending[0] != "0001_a.up.sql" {
		t.Fatalf("unexpected pending %v", pending)
	}
}

func TestSplitStatements(t *testing.T) {
	body := "-- header\ninsert into t values ('a;b');\ninsert into t values ('it''s');\n\n"
	stmts := splitStatements(body)
	var nonEmpty []string
	for _, s := range stmts {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, strings.TrimSpace(s))
		}
	}
	if len(nonEmpty) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(nonEmpty), nonEmpty)
	}
	if nonEmpty[0] != "insert into t values ('a;b');" {
		t.Fatalf("quoted semicolon split the statement: %q", nonEmpty[0])
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	src := Embedded()
	ups, err := fs.Glob(src, "migrations/*.up.sql")
	if err != nil || len(ups) == 0 {
		t.Fatalf("no embedded migrations: %v", err)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(src, down); err != nil {
			t.Errorf("%s has no down migration", up)
		}
	}
	seeds, _ := fs.Glob(src, "seeds/*.sql")
	if len(seeds) == 0 {
		t.Fatalf("no embedded seeds")
	}
	body, _ := fs.ReadFile(src, "seeds/0001_permissions.sql")
	for _, key := range []string{"'Content', 'Publish'", "'Audit',   'Read'"} {
		if !strings.Contains(string(body), key) {
			t.Errorf("permission seed lacks %s", key)
		}
	}
}
