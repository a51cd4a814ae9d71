package store

import (
	"database/sql"
	"fmt"
)

// --- File operations ---

func (s *Store) InsertFile(f *File) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO files (path, package_dir, hash, line_count, last_indexed) VALUES (?, ?, ?, ?, ?)",
		f.Path, f.PackageDir, f.Hash, f.LineCount, f.LastIndexed,
	)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	return id, nil
}

// UpdateFile rewrites the hash, line count and index time of an existing
// file row.
func (s *Store) UpdateFile(f *File) error {
	if _, err := s.db.Exec(
		"UPDATE files SET package_dir = ?, hash = ?, line_count = ?, last_indexed = ? WHERE id = ?",
		f.PackageDir, f.Hash, f.LineCount, f.LastIndexed, f.ID,
	); err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

const fileCols = `id, path, package_dir, hash, line_count, last_indexed`

func scanFile(scanner interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	if err := scanner.Scan(&f.ID, &f.Path, &f.PackageDir, &f.Hash, &f.LineCount, &f.LastIndexed); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) FileByPath(path string) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

func (s *Store) FileByID(id int64) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by id: %w", err)
	}
	return f, nil
}

// Files returns every indexed file ordered by path.
func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query("SELECT " + fileCols + " FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Directive operations ---

func (s *Store) InsertDirective(d *Directive) (int64, error) {
	return insertDirectiveTx(s.db, d)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertDirectiveTx(ex execer, d *Directive) (int64, error) {
	if d.Hash == "" {
		d.Hash = ComputeDirectiveHash("", d.Kind, d.Name, d.Subject, d.Expr)
	}
	res, err := ex.Exec(
		`INSERT INTO directives (file_id, kind, name, subject, expr, line, col, byte_offset, func_name, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.FileID, d.Kind, d.Name, d.Subject, d.Expr, d.Line, d.Col, d.Offset, d.FuncName, d.Hash,
	)
	if err != nil {
		return 0, fmt.Errorf("insert directive: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	d.ID = id
	return id, nil
}

// DirectiveCols is the column list for directive queries, exported for use
// by QueryBuilder.
const DirectiveCols = `id, file_id, kind, name, subject, expr, line, col, byte_offset, func_name, hash`

// ScanDirectiveRow scans a single row selected with DirectiveCols.
func ScanDirectiveRow(scanner interface{ Scan(...any) error }) (*Directive, error) {
	d := &Directive{}
	var name, funcName, hash sql.NullString
	err := scanner.Scan(&d.ID, &d.FileID, &d.Kind, &name, &d.Subject, &d.Expr,
		&d.Line, &d.Col, &d.Offset, &funcName, &hash)
	if err != nil {
		return nil, err
	}
	d.Name = name.String
	d.FuncName = funcName.String
	d.Hash = hash.String
	return d, nil
}

func (s *Store) queryDirectives(query string, args ...any) ([]*Directive, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ds []*Directive
	for rows.Next() {
		d, err := ScanDirectiveRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		ds = append(ds, d)
	}
	return ds, rows.Err()
}

func (s *Store) DirectivesByFile(fileID int64) ([]*Directive, error) {
	return s.queryDirectives(
		"SELECT "+DirectiveCols+" FROM directives WHERE file_id = ? ORDER BY line, col", fileID,
	)
}

// DirectiveByID returns the directive with the given ID, or nil if there is
// none.
func (s *Store) DirectiveByID(id int64) (*Directive, error) {
	d, err := ScanDirectiveRow(s.db.QueryRow("SELECT "+DirectiveCols+" FROM directives WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directive by id: %w", err)
	}
	return d, nil
}

// AllDirectives returns every directive ordered by file and position.
func (s *Store) AllDirectives() ([]*Directive, error) {
	return s.queryDirectives(
		`SELECT d.id, d.file_id, d.kind, d.name, d.subject, d.expr, d.line, d.col, d.byte_offset, d.func_name, d.hash
		 FROM directives d JOIN files f ON f.id = d.file_id
		 ORDER BY f.path, d.line, d.col`,
	)
}

// PackageDirsWithDirectives returns the distinct package directories that
// contain at least one directive, sorted.
func (s *Store) PackageDirsWithDirectives() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT f.package_dir FROM files f
		 JOIN directives d ON d.file_id = f.id
		 ORDER BY f.package_dir`,
	)
	if err != nil {
		return nil, fmt.Errorf("package dirs with directives: %w", err)
	}
	defer rows.Close()
	var dirs []string
	for rows.Next() {
		var dir string
		if err := rows.Scan(&dir); err != nil {
			return nil, fmt.Errorf("scan package dir: %w", err)
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}
