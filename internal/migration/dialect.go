package migration

import (
	"database/sql"
	"fmt"
	"path"
	"strings"

	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"

	"github.com/BaSui01/meetingflow/config"
)

// DatabaseType 数据库类型
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// defaultTable 迁移版本表
const defaultTable = "schema_migrations"

// dialect 汇总一种数据库在迁移上的差异
type dialect struct {
	aliases []string
	// driver 在已打开的连接上创建 golang-migrate 驱动
	driver func(db *sql.DB, table string) (migratedb.Driver, error)
	// url 由分项配置拼出连接串
	url func(host string, port int, name, user, password, sslMode string) string
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {
		aliases: []string{"postgres", "postgresql", "pg"},
		driver: func(db *sql.DB, table string) (migratedb.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
		},
		url: func(host string, port int, name, user, password, sslMode string) string {
			if sslMode == "" {
				sslMode = "require"
			}
			return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", user, password, host, port, name, sslMode)
		},
	},
	DatabaseTypeMySQL: {
		aliases: []string{"mysql", "mariadb"},
		driver: func(db *sql.DB, table string) (migratedb.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
		},
		// 迁移文件含多条语句，需要 multiStatements
		url: func(host string, port int, name, user, password, _ string) string {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", user, password, host, port, name)
		},
	},
	DatabaseTypeSQLite: {
		aliases: []string{"sqlite", "sqlite3"},
		driver: func(db *sql.DB, table string) (migratedb.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
		},
		url: func(_ string, _ int, name, _, _, _ string) string {
			return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", name)
		},
	},
}

// dir 返回该方言在内嵌文件系统中的目录
func (t DatabaseType) dir() string { return path.Join("migrations", string(t)) }

func (t DatabaseType) dialect() (dialect, error) {
	d, ok := dialects[t]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database type: %s", t)
	}
	return d, nil
}

// ParseDatabaseType 解析数据库类型及其别名，忽略大小写与首尾空白
func ParseDatabaseType(s string) (DatabaseType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, d := range dialects {
		for _, alias := range d.aliases {
			if alias == name {
				return t, nil
			}
		}
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}

// BuildDatabaseURL 按方言拼接迁移用连接串，未知方言返回空串
func BuildDatabaseURL(dbType DatabaseType, host string, port int, dbName, username, password, sslMode string) string {
	d, err := dbType.dialect()
	if err != nil {
		return ""
	}
	return d.url(host, port, dbName, username, password, sslMode)
}

// NewMigratorFromDatabaseConfig 从应用数据库配置创建迁移器。
// 设置了 DSN 时直接使用；SQLite 的 Name 字段为文件路径。
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	url := dbCfg.DSN
	if url == "" {
		url = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	}
	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: url})
}

// NewMigratorFromURL 从类型字符串与连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	t, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: t, DatabaseURL: dbURL})
}
