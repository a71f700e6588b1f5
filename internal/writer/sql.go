package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/parcelworks/legacyconv/internal/schema"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLWriter implements TargetWriter on database/sql. Supported drivers:
// sqlite3, postgres, mysql.
type SQLWriter struct {
	db     *sql.DB
	driver string
}

// NewSQLWriter opens a connection pool for the given driver and DSN.
func NewSQLWriter(driver, dsn string) (*SQLWriter, error) {
	switch driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported target driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open target database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("target database unreachable: %w", err)
	}
	return &SQLWriter{db: db, driver: driver}, nil
}

func (w *SQLWriter) Close() error { return w.db.Close() }

// DB exposes the pool for callers that need raw queries.
func (w *SQLWriter) DB() *sql.DB { return w.db }

func (w *SQLWriter) quote(ident string) string {
	if w.driver == "mysql" {
		return "`" + strings.ReplaceAll(ident, "`", "") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, "") + `"`
}

func (w *SQLWriter) placeholder(n int) string {
	if w.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (w *SQLWriter) ListTables(ctx context.Context) ([]string, error) {
	var query string
	switch w.driver {
	case "sqlite3":
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	case "postgres":
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE' ORDER BY table_name`
	case "mysql":
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	}

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (w *SQLWriter) GetTargetSchema(ctx context.Context, name string) (*schema.TargetSchema, error) {
	if w.driver == "sqlite3" {
		return w.sqliteSchema(ctx, name)
	}
	return w.infoSchema(ctx, name)
}

// sqliteSchema introspects through PRAGMA table_info and
// PRAGMA foreign_key_list.
func (w *SQLWriter) sqliteSchema(ctx context.Context, name string) (*schema.TargetSchema, error) {
	rows, err := w.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", w.quote(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", name, err)
	}
	defer rows.Close()

	target := &schema.TargetSchema{Name: name}
	for rows.Next() {
		var (
			cid, notnull, pk int
			colName, colType string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &colName, &colType, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		target.Columns = append(target.Columns, schema.TargetColumn{
			Name:     colName,
			SQLType:  colType,
			Nullable: notnull == 0,
		})
		if pk > 0 {
			target.PrimaryKeys = append(target.PrimaryKeys, colName)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(target.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	fks, err := w.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", w.quote(name)))
	if err == nil {
		defer fks.Close()
		for fks.Next() {
			var (
				id, seq                          int
				refTable, from, to, onUpd, onDel string
				match                            string
			)
			if err := fks.Scan(&id, &seq, &refTable, &from, &to, &onUpd, &onDel, &match); err != nil {
				continue
			}
			target.ForeignKeys = append(target.ForeignKeys, schema.ForeignKey{
				Column:    from,
				RefTable:  refTable,
				RefColumn: to,
			})
		}
	}
	return target, nil
}

// infoSchema introspects postgres and mysql through information_schema.
func (w *SQLWriter) infoSchema(ctx context.Context, name string) (*schema.TargetSchema, error) {
	scope := "table_schema = 'public'"
	if w.driver == "mysql" {
		scope = "table_schema = DATABASE()"
	}
	query := fmt.Sprintf(
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE %s AND table_name = %s ORDER BY ordinal_position`,
		scope, w.placeholder(1))

	rows, err := w.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", name, err)
	}
	defer rows.Close()

	target := &schema.TargetSchema{Name: name}
	for rows.Next() {
		var colName, colType, nullable string
		if err := rows.Scan(&colName, &colType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		target.Columns = append(target.Columns, schema.TargetColumn{
			Name:     colName,
			SQLType:  colType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(target.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	pkQuery := fmt.Sprintf(
		`SELECT kcu.column_name
		   FROM information_schema.table_constraints tc
		   JOIN information_schema.key_column_usage kcu
		     ON tc.constraint_name = kcu.constraint_name AND tc.table_name = kcu.table_name
		  WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_name = %s
		  ORDER BY kcu.ordinal_position`, w.placeholder(1))
	pks, err := w.db.QueryContext(ctx, pkQuery, name)
	if err == nil {
		defer pks.Close()
		for pks.Next() {
			var col string
			if err := pks.Scan(&col); err == nil {
				target.PrimaryKeys = append(target.PrimaryKeys, col)
			}
		}
	}
	return target, nil
}

// SQLTypeFor maps a declared column type to a DDL type for the driver.
func (w *SQLWriter) SQLTypeFor(t schema.DataType) string {
	switch t {
	case schema.TypeInteger:
		if w.driver == "postgres" {
			return "BIGINT"
		}
		return "INTEGER"
	case schema.TypeFloat:
		if w.driver == "mysql" {
			return "DOUBLE"
		}
		return "DOUBLE PRECISION"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeBoolean:
		if w.driver == "sqlite3" {
			return "INTEGER"
		}
		return "BOOLEAN"
	case schema.TypeText:
		return "TEXT"
	default:
		return "VARCHAR(255)"
	}
}

func (w *SQLWriter) CreateTable(ctx context.Context, target *schema.TargetSchema) error {
	if len(target.Columns) == 0 {
		return fmt.Errorf("cannot create table %s with no columns", target.Name)
	}

	defs := make([]string, 0, len(target.Columns)+1)
	for _, col := range target.Columns {
		def := w.quote(col.Name) + " " + col.SQLType
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(target.PrimaryKeys) > 0 {
		quoted := make([]string, len(target.PrimaryKeys))
		for i, pk := range target.PrimaryKeys {
			quoted[i] = w.quote(pk)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", w.quote(target.Name), strings.Join(defs, ", "))
	log.Debug("Creating target table", "table", target.Name)
	if _, err := w.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", target.Name, err)
	}
	return nil
}

func (w *SQLWriter) WriteBatch(ctx context.Context, table string, columns []string, rows schema.Batch, mode TransactionMode) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("no target columns to write")
	}

	switch mode {
	case ModeSingle:
		return w.writeSingleTx(ctx, table, columns, rows)
	case ModeRow:
		return w.writeRowTx(ctx, table, columns, rows)
	case ModeBatch, "":
		return w.writeMultiRow(ctx, table, columns, rows)
	default:
		return 0, fmt.Errorf("unknown transaction mode %q", mode)
	}
}

func (w *SQLWriter) insertStmt(table string, columns []string, rowCount int) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = w.quote(c)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(w.quote(table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(") VALUES ")
	n := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := range columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(w.placeholder(n))
			n++
		}
		sb.WriteString(")")
	}
	return sb.String()
}

func rowArgs(columns []string, rows schema.Batch) []interface{} {
	args := make([]interface{}, 0, len(rows)*len(columns))
	for _, row := range rows {
		for _, col := range columns {
			args = append(args, row[col])
		}
	}
	return args
}

// writeSingleTx spans one transaction over the whole batch.
func (w *SQLWriter) writeSingleTx(ctx context.Context, table string, columns []string, rows schema.Batch) (int, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt := w.insertStmt(table, columns, len(rows))
	if _, err := tx.ExecContext(ctx, stmt, rowArgs(columns, rows)...); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Debug("Rollback failed", "error", rbErr)
		}
		return 0, fmt.Errorf("batch insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return len(rows), nil
}

// writeMultiRow issues one multi-row insert without an explicit
// transaction. Infrastructure failure mid-statement may leave a partial
// write depending on the provider.
func (w *SQLWriter) writeMultiRow(ctx context.Context, table string, columns []string, rows schema.Batch) (int, error) {
	stmt := w.insertStmt(table, columns, len(rows))
	if _, err := w.db.ExecContext(ctx, stmt, rowArgs(columns, rows)...); err != nil {
		return 0, fmt.Errorf("batch insert failed: %w", err)
	}
	return len(rows), nil
}

// writeRowTx commits each row independently so earlier successes
// survive a later failure.
func (w *SQLWriter) writeRowTx(ctx context.Context, table string, columns []string, rows schema.Batch) (int, error) {
	stmt := w.insertStmt(table, columns, 1)

	written := 0
	var errs []error
	for i, row := range rows {
		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			return written, fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt, rowArgs(columns, schema.Batch{row})...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Debug("Rollback failed", "error", rbErr)
			}
			errs = append(errs, fmt.Errorf("row %d: %w", i, err))
			continue
		}
		if err := tx.Commit(); err != nil {
			errs = append(errs, fmt.Errorf("row %d commit: %w", i, err))
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

// checkTokenRe matches {column} references in SQL check predicates.
var checkTokenRe = regexp.MustCompile(`\{[A-Za-z0-9_]+\}`)

// CheckRow substitutes {column} tokens with bound row values and
// evaluates the predicate on the target database.
func (w *SQLWriter) CheckRow(ctx context.Context, check string, row schema.Row) (bool, error) {
	var args []interface{}
	expr := checkTokenRe.ReplaceAllStringFunc(check, func(tok string) string {
		name := strings.Trim(tok, "{}")
		args = append(args, row[name])
		return w.placeholder(len(args))
	})

	query := "SELECT CASE WHEN " + expr + " THEN 1 ELSE 0 END"
	var ok int
	if err := w.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("sql check failed: %w", err)
	}
	return ok == 1, nil
}
