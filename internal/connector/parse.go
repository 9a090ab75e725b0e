package connector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

var aliases = map[string]string{
	"postgresconnector":       TypePostgreSQL,
	"postgres":                TypePostgreSQL,
	"postgresql":              TypePostgreSQL,
	"mysqlconnector":          TypeMySQL,
	"mysql":                   TypeMySQL,
	"sqlconnector":            TypeSQL,
	"sql":                     TypeSQL,
	"snowflakeconnector":      TypeSnowflake,
	"snowflake":               TypeSnowflake,
	"airtableconnector":       TypeAirtable,
	"airtable":                TypeAirtable,
	"googlebigqueryconnector": TypeBigQuery,
	"bigquery":                TypeBigQuery,
}

// Parse builds a connector from a type tag (or a short alias such as
// "postgres") and a JSON config object using the config's json field names.
func Parse(typeName string, raw json.RawMessage) (Definition, error) {
	canonical, ok := aliases[strings.ToLower(strings.TrimSpace(typeName))]
	if !ok {
		return nil, fmt.Errorf("connector: unknown type %q", typeName)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("connector: %s config is required", canonical)
	}

	switch canonical {
	case TypePostgreSQL, TypeMySQL, TypeSQL:
		var cfg SQLConfig
		if err := decodeStrict(raw, &cfg); err != nil {
			return nil, err
		}
		switch canonical {
		case TypePostgreSQL:
			return definition(NewPostgreSQL(cfg))
		case TypeMySQL:
			return definition(NewMySQL(cfg))
		default:
			return definition(NewSQL(cfg))
		}
	case TypeSnowflake:
		var cfg SnowflakeConfig
		if err := decodeStrict(raw, &cfg); err != nil {
			return nil, err
		}
		return definition(NewSnowflake(cfg))
	case TypeAirtable:
		var cfg AirtableConfig
		if err := decodeStrict(raw, &cfg); err != nil {
			return nil, err
		}
		return definition(NewAirtable(cfg))
	default:
		var cfg BigQueryConfig
		if err := decodeStrict(raw, &cfg); err != nil {
			return nil, err
		}
		return definition(NewBigQuery(cfg))
	}
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("connector: decode config: %w", err)
	}
	return nil
}

// definition keeps a failed constructor from leaking a typed nil.
func definition[T Definition](d T, err error) (Definition, error) {
	if err != nil {
		return nil, err
	}
	return d, nil
}
