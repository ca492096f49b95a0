package storage

import (
	"fmt"
	"strings"

	"listdb/pkg/common"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// sqlite extended result codes for constraint violations
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

const mysqlDuplicateEntry = 1062

// dialect holds what differs between the supported SQL drivers.
type dialect struct {
	name   string
	quote  string
	escape string // appended to every LIKE
	// binaryLike makes LIKE case-sensitive
	binaryLike func(col string) string
	columnType func(f *common.Field) string
	upsert     func(table string, cols, keys []string) string
}

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case DriverSQLite, "":
		return sqliteDialect, nil
	case DriverMySQL:
		return mysqlDialect, nil
	}
	return nil, errors.Errorf("unsupported driver %q", driver)
}

func (d *dialect) ident(name string) string {
	return d.quote + strings.ReplaceAll(name, d.quote, d.quote+d.quote) + d.quote
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// isDuplicate reports whether err is the driver's primary/unique key violation.
func (d *dialect) isDuplicate(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteConstraintPrimaryKey || se.Code() == sqliteConstraintUnique
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return false
}

var sqliteDialect = &dialect{
	name:       DriverSQLite,
	quote:      `"`,
	escape:     ` ESCAPE '\'`,
	binaryLike: func(col string) string { return col },
	columnType: func(f *common.Field) string {
		switch f.Kind {
		case common.KindBoolean, common.KindInteger, common.KindLong:
			return "INTEGER"
		case common.KindDouble:
			return "REAL"
		case common.KindDecimal:
			return "NUMERIC"
		case common.KindByteArray:
			return "BLOB"
		}
		// temporal kinds are stored as sortable text
		return "TEXT"
	},
	upsert: func(table string, cols, keys []string) string {
		set := make([]string, 0, len(cols))
		for _, c := range cols {
			set = append(set, c+" = excluded."+c)
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			table, strings.Join(cols, ", "), placeholders(len(cols)),
			strings.Join(keys, ", "), strings.Join(set, ", "))
	},
}

var mysqlDialect = &dialect{
	name:       DriverMySQL,
	quote:      "`",
	escape:     "",
	binaryLike: func(col string) string { return "BINARY " + col },
	columnType: func(f *common.Field) string {
		switch f.Kind {
		case common.KindBoolean:
			return "BOOLEAN"
		case common.KindInteger:
			return "INT"
		case common.KindLong:
			return "BIGINT"
		case common.KindDouble:
			return "DOUBLE"
		case common.KindDecimal:
			length, decimals := f.Length, f.Decimals
			if length <= 0 {
				length, decimals = 20, 6
			}
			return fmt.Sprintf("DECIMAL(%d,%d)", length, decimals)
		case common.KindDate:
			return "DATE"
		case common.KindTime:
			return "TIME"
		case common.KindDateTime:
			return "DATETIME(6)"
		case common.KindByteArray:
			if f.Length > 0 {
				return fmt.Sprintf("VARBINARY(%d)", f.Length)
			}
			return "BLOB"
		}
		length := f.Length
		if length <= 0 {
			length = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", length)
	},
	upsert: func(table string, cols, keys []string) string {
		set := make([]string, 0, len(cols))
		for _, c := range cols {
			set = append(set, c+" = VALUES("+c+")")
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
			table, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(set, ", "))
	},
}

// mysqlDSN normalises a MySQL DSN so temporal columns come back as time.Time and
// UPDATE reports matched rather than changed rows.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql dsn")
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

// sqliteDSN makes LIKE case-sensitive and enables WAL on every pooled connection.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=case_sensitive_like(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
}
