// Package connector describes external databases and warehouses that can be
// registered in a workspace. A connector is only a definition: it knows its
// type tag and how to serialize its configuration, it never opens a
// connection itself.
package connector

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Type tags understood by the analytics service.
const (
	TypePostgreSQL = "PostgresConnector"
	TypeMySQL      = "MySQLConnector"
	TypeSQL        = "SQLConnector"
	TypeSnowflake  = "SnowflakeConnector"
	TypeAirtable   = "AirtableConnector"
	TypeBigQuery   = "GoogleBigQueryConnector"
)

const (
	defaultAirtableDatabase = "airtable_data"
	credentialsFilename     = "credentials.json"
)

// ErrNoCredentials is returned when a credentialed connector has neither a
// credentials file nor inline credentials.
var ErrNoCredentials = errors.New("connector: no credentials configured")

// Definition is implemented by every connector in this package.
type Definition interface {
	Type() string
	Config() (string, error)
}

// SQLConfig configures the SQL family of connectors.
type SQLConfig struct {
	Dialect  string  `json:"dialect"`
	Driver   string  `json:"driver"`
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	Database string  `json:"database"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	Table    string  `json:"table"`
	Where    [][]any `json:"where"`
}

// SQL is a PostgreSQL, MySQL or generic SQL connector.
type SQL struct {
	typeName string
	cfg      SQLConfig
}

// NewPostgreSQL returns a PostgreSQL connector. Driver and dialect default to
// psycopg2 and postgresql.
func NewPostgreSQL(cfg SQLConfig) (*SQL, error) {
	cfg.Driver = orDefault(cfg.Driver, "psycopg2")
	cfg.Dialect = orDefault(cfg.Dialect, "postgresql")
	return newSQL(TypePostgreSQL, cfg)
}

// NewMySQL returns a MySQL connector. Driver and dialect default to pymysql
// and mysql.
func NewMySQL(cfg SQLConfig) (*SQL, error) {
	cfg.Driver = orDefault(cfg.Driver, "pymysql")
	cfg.Dialect = orDefault(cfg.Dialect, "mysql")
	return newSQL(TypeMySQL, cfg)
}

// NewSQL returns a generic SQL connector; the dialect is required.
func NewSQL(cfg SQLConfig) (*SQL, error) {
	if strings.TrimSpace(cfg.Dialect) == "" {
		return nil, errors.New("connector: dialect is required")
	}
	return newSQL(TypeSQL, cfg)
}

func newSQL(typeName string, cfg SQLConfig) (*SQL, error) {
	if err := required(map[string]string{"host": cfg.Host, "database": cfg.Database, "table": cfg.Table}); err != nil {
		return nil, err
	}
	return &SQL{typeName: typeName, cfg: cfg}, nil
}

func (c *SQL) Type() string { return c.typeName }

// Config returns the canonical config JSON. The where filter is local to
// query building and is not registered.
func (c *SQL) Config() (string, error) {
	return canonicalJSON([]field{
		{"database", c.cfg.Database},
		{"table", c.cfg.Table},
		{"driver", optional(c.cfg.Driver)},
		{"dialect", optional(c.cfg.Dialect)},
		{"host", c.cfg.Host},
		{"port", c.cfg.Port},
		{"username", c.cfg.Username},
		{"password", c.cfg.Password},
	})
}

// SnowflakeConfig configures a Snowflake connector.
type SnowflakeConfig struct {
	Account   string  `json:"account"`
	Database  string  `json:"database"`
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	Table     string  `json:"table"`
	Warehouse string  `json:"warehouse"`
	DBSchema  string  `json:"dbSchema"`
	Driver    string  `json:"driver"`
	Where     [][]any `json:"where"`
}

// Snowflake is a Snowflake warehouse connector.
type Snowflake struct {
	cfg SnowflakeConfig
}

func NewSnowflake(cfg SnowflakeConfig) (*Snowflake, error) {
	if err := required(map[string]string{"account": cfg.Account, "database": cfg.Database, "table": cfg.Table, "warehouse": cfg.Warehouse}); err != nil {
		return nil, err
	}
	return &Snowflake{cfg: cfg}, nil
}

func (c *Snowflake) Type() string { return TypeSnowflake }

func (c *Snowflake) Config() (string, error) {
	return canonicalJSON([]field{
		{"database", c.cfg.Database},
		{"table", c.cfg.Table},
		{"driver", optional(c.cfg.Driver)},
		{"dialect", "snowflake"},
		{"account", c.cfg.Account},
		{"username", c.cfg.Username},
		{"password", c.cfg.Password},
		{"warehouse", c.cfg.Warehouse},
		{"dbSchema", c.cfg.DBSchema},
	})
}

// AirtableConfig configures an Airtable connector.
type AirtableConfig struct {
	APIKey   string  `json:"api_key"`
	BaseID   string  `json:"base_id"`
	Table    string  `json:"table"`
	Database string  `json:"database"`
	Where    [][]any `json:"where"`
}

// Airtable is an Airtable base connector.
type Airtable struct {
	cfg AirtableConfig
}

func NewAirtable(cfg AirtableConfig) (*Airtable, error) {
	if err := required(map[string]string{"api_key": cfg.APIKey, "base_id": cfg.BaseID, "table": cfg.Table}); err != nil {
		return nil, err
	}
	cfg.Database = orDefault(cfg.Database, defaultAirtableDatabase)
	return &Airtable{cfg: cfg}, nil
}

func (c *Airtable) Type() string { return TypeAirtable }

func (c *Airtable) Config() (string, error) {
	return canonicalJSON([]field{
		{"database", c.cfg.Database},
		{"table", c.cfg.Table},
		{"api_key", c.cfg.APIKey},
		{"base_id", c.cfg.BaseID},
	})
}

// BigQueryConfig configures a Google BigQuery connector. Exactly one of
// CredentialsPath or CredentialsBase64 should be set; the path wins when both are.
type BigQueryConfig struct {
	ProjectID         string  `json:"projectID"`
	Database          string  `json:"database"`
	Table             string  `json:"table"`
	Dialect           string  `json:"dialect"`
	Driver            string  `json:"driver"`
	CredentialsPath   string  `json:"credentials_path"`
	CredentialsBase64 string  `json:"credentials_base64"`
	Where             [][]any `json:"where"`
}

// BigQuery is a credentialed connector: its service-account key is sent to
// the service as a file rather than inline.
type BigQuery struct {
	cfg BigQueryConfig
}

func NewBigQuery(cfg BigQueryConfig) (*BigQuery, error) {
	if err := required(map[string]string{"projectID": cfg.ProjectID, "table": cfg.Table}); err != nil {
		return nil, err
	}
	cfg.Dialect = orDefault(cfg.Dialect, "bigquery")
	return &BigQuery{cfg: cfg}, nil
}

func (c *BigQuery) Type() string { return TypeBigQuery }

// Config returns the canonical config JSON. The inline credentials stay in
// their original base64 form.
func (c *BigQuery) Config() (string, error) {
	var where any
	if c.cfg.Where != nil {
		rows := make([]any, len(c.cfg.Where))
		for i, cond := range c.cfg.Where {
			rows[i] = cond
		}
		where = rows
	}
	return canonicalJSON([]field{
		{"database", optional(c.cfg.Database)},
		{"table", c.cfg.Table},
		{"where", where},
		{"driver", optional(c.cfg.Driver)},
		{"dialect", optional(c.cfg.Dialect)},
		{"credentials_path", optional(c.cfg.CredentialsPath)},
		{"credentials_base64", optional(c.cfg.CredentialsBase64)},
		{"projectID", c.cfg.ProjectID},
	})
}

// ReadsLocalFile reports whether Credentials reads from the local filesystem.
func (c *BigQuery) ReadsLocalFile() bool { return c.cfg.CredentialsPath != "" }

// Credentials returns the service-account key file to transfer.
func (c *BigQuery) Credentials() (string, []byte, error) {
	if c.cfg.CredentialsPath != "" {
		data, err := os.ReadFile(c.cfg.CredentialsPath)
		if err != nil {
			return "", nil, fmt.Errorf("connector: read credentials: %w", err)
		}
		return filepath.Base(c.cfg.CredentialsPath), data, nil
	}
	if c.cfg.CredentialsBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.cfg.CredentialsBase64))
		if err != nil {
			return "", nil, fmt.Errorf("connector: decode credentials: %w", err)
		}
		return credentialsFilename, data, nil
	}
	return "", nil, ErrNoCredentials
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// optional maps an unset string to JSON null.
func optional(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("connector: %s is required", strings.Join(missing, ", "))
}
