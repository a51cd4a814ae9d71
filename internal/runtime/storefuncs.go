package runtime

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/impls/internal/store"
)

// makeDirectivesFn creates "directives", listing every indexed directive.
//
// directives() → []map
func makeDirectivesFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("directives", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("directives", 0, len(args))
		}
		ds, err := s.AllDirectives()
		if err != nil {
			return object.Errorf("directives: %v", err)
		}
		items := make([]object.Object, 0, len(ds))
		for _, d := range ds {
			items = append(items, object.NewMap(map[string]object.Object{
				"id":        object.NewInt(d.ID),
				"file_id":   object.NewInt(d.FileID),
				"kind":      object.NewString(d.Kind),
				"name":      object.NewString(d.Name),
				"subject":   object.NewString(d.Subject),
				"expr":      object.NewString(d.Expr),
				"line":      object.NewInt(int64(d.Line)),
				"func_name": object.NewString(d.FuncName),
			}))
		}
		return object.NewList(items)
	})
}

// makeDBQueryFn creates "db_query", a read-only SQL escape hatch. The query
// runs on its own connection with PRAGMA query_only set, so statements
// chained after the SELECT cannot write either.
//
// db_query(sql, args...) → []map
func makeDBQueryFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("db_query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.Errorf("db_query: expected at least 1 argument (sql), got %d", len(args))
		}
		sqlStr, err := toString(args[0])
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}

		trimmed := strings.TrimSpace(strings.ToUpper(sqlStr))
		if !strings.HasPrefix(trimmed, "SELECT") {
			return object.Errorf("db_query: only SELECT queries are allowed")
		}

		var queryArgs []any
		for _, arg := range args[1:] {
			switch v := arg.(type) {
			case *object.Int:
				queryArgs = append(queryArgs, v.Value())
			case *object.Float:
				queryArgs = append(queryArgs, v.Value())
			case *object.String:
				queryArgs = append(queryArgs, v.Value())
			case *object.Bool:
				queryArgs = append(queryArgs, v.Value())
			case *object.NilType:
				queryArgs = append(queryArgs, nil)
			default:
				queryArgs = append(queryArgs, fmt.Sprintf("%v", arg))
			}
		}

		conn, err := s.DB().Conn(ctx)
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return object.Errorf("db_query: %v", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
				// Drop the connection rather than return it to the pool read-only.
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			}
		}()

		rows, err := conn.QueryContext(ctx, sqlStr, queryArgs...)
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return object.Errorf("db_query: columns: %v", err)
		}

		results := []object.Object{}
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return object.Errorf("db_query: scan: %v", err)
			}
			row := make(map[string]object.Object, len(cols))
			for i, col := range cols {
				row[col] = sqlValueToObject(values[i])
			}
			results = append(results, object.NewMap(row))
		}
		if err := rows.Err(); err != nil {
			return object.Errorf("db_query: rows: %v", err)
		}
		return object.NewList(results)
	})
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}

func stringList(items []string) object.Object {
	objs := make([]object.Object, len(items))
	for i, s := range items {
		objs[i] = object.NewString(s)
	}
	return object.NewList(objs)
}

func sqlValueToObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	switch val := v.(type) {
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case bool:
		return object.NewBool(val)
	case []byte:
		return object.NewString(string(val))
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}
