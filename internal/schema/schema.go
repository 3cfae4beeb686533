// Package schema implements code that handles the BigQuery table schema
// of index entries loaded as JSONL.
//
// The table schema is inferred from api.StandardColumnsV1.  Before a new
// version of the schema is uploaded to GCS, it is compared with the one
// already there: fields may be added but not removed or changed.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"

	"github.com/m-lab/warcindex/api"
)

// DownloaderUploader interface.
type DownloaderUploader interface {
	Download(context.Context, string) ([]byte, error)
	Upload(context.Context, string, []byte) error
}

type (
	bqField   map[string]interface{}
	visitFunc func([]string, bqField) error
	mapDiff   struct {
		nInOld int
		nInNew int
		nType  int
	}
)

var (
	// TableName is the base name of the table schema object.
	TableName = "warcindex"

	ErrStorageClient  = errors.New("failed to create storage client")
	ErrReadSchema     = errors.New("failed to read schema file")
	ErrWriteSchema    = errors.New("failed to write schema file")
	ErrEmptySchema    = errors.New("empty schema file")
	ErrSchemaFromJSON = errors.New("failed to create schema from JSON")
	ErrInferSchema    = errors.New("failed to infer schema")
	ErrMarshal        = errors.New("failed to marshal schema")
	ErrUnmarshal      = errors.New("failed to unmarshal schema")
	ErrCompare        = errors.New("failed to compare schema")
	ErrOnlyInOld      = errors.New("field(s) only in old schema")
	ErrTypeMismatch   = errors.New("difference(s) in schema field types")
	ErrType           = errors.New("unexpected type")
	ErrDownload       = errors.New("failed to download schema")
	ErrUpload         = errors.New("failed to upload schema")

	// Testing and debugging support.
	verbosef = func(fmt string, args ...interface{}) {}
)

// Verbose prints verbosef messages if initialized by the caller.
func Verbose(v func(string, ...interface{})) {
	verbosef = v
}

// TablePath returns the GCS object name (aka path) of the table schema
// under the given index directory.
func TablePath(indexDir string) string {
	return path.Join(indexDir, "tables", TableName+".table.json")
}

// CreateTableSchemaJSON returns the table schema of index entries in the
// JSON format that BigQuery tools accept.
func CreateTableSchemaJSON() ([]byte, error) {
	tblSchema, err := bigquery.InferSchema(api.StandardColumnsV1{}) //nolint:exhaustruct
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferSchema, err)
	}
	tblSchemaJSON, err := tblSchema.ToJSONFields()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarshal, err)
	}
	return tblSchemaJSON, nil
}

// WriteTableSchema writes the table schema to the specified file.
func WriteTableSchema(file string) error {
	tblSchemaJSON, err := CreateTableSchemaJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, tblSchemaJSON, 0o666); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteSchema, err)
	}
	verbosef("wrote table schema to %v", file)
	return nil
}

// ValidateSchemaFile validates the specified schema file exists and is
// a well-formed BigQuery schema.
func ValidateSchemaFile(file string) error {
	contents, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadSchema, err)
	}
	var data []interface{}
	if err = json.Unmarshal(contents, &data); err != nil {
		return fmt.Errorf("%v: %w: %v", file, ErrUnmarshal, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%v: %w", file, ErrEmptySchema)
	}
	if _, err := bigquery.SchemaFromJSON(contents); err != nil {
		return fmt.Errorf("%v: %w: %v", file, ErrSchemaFromJSON, err)
	}
	return nil
}

// ValidateAndUpload compares the current table schema against the
// previous table schema at objPath and returns an error if they are not
// compatible.  If there is no previous table schema or the new one is a
// superset of it, the new one is uploaded to GCS.
func ValidateAndUpload(gcsClient DownloaderUploader, objPath string) error {
	newTblSchemaJSON, err := CreateTableSchemaJSON()
	if err != nil {
		return err
	}
	diff, err := diffTableSchemas(gcsClient, objPath, newTblSchemaJSON)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %w", ErrCompare, err)
		}
		// Old doesn't exist, should upload new.
		verbosef("no old table schema")
		return uploadTableSchema(gcsClient, objPath, newTblSchemaJSON)
	}
	if diff.nInOld != 0 {
		// New is incompatible with old due to missing fields.
		return fmt.Errorf("incompatible schema: %2d %w", diff.nInOld, ErrOnlyInOld)
	}
	if diff.nType != 0 {
		// New is incompatible with old due to field type mismatch.
		return fmt.Errorf("incompatible schema: %2d %w", diff.nType, ErrTypeMismatch)
	}
	if diff.nInNew != 0 {
		verbosef("%2d field(s) only in new schema", diff.nInNew)
		return uploadTableSchema(gcsClient, objPath, newTblSchemaJSON)
	}
	// Old exists and matches new.
	return nil
}

// diffTableSchemas compares the new table schema against the old table
// schema (if it exists) and returns their differences.
func diffTableSchemas(gcsClient DownloaderUploader, objPath string, newTblSchemaJSON []byte) (*mapDiff, error) {
	ctx := context.Background()
	verbosef("downloading '%v'", objPath)
	oldTblSchemaJSON, err := gcsClient.Download(ctx, objPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	verbosef("successfully downloaded '%v'", objPath)

	oldFieldsMap, err := allFields(oldTblSchemaJSON)
	if err != nil {
		return nil, err
	}
	if len(oldFieldsMap) == 0 {
		return nil, ErrEmptySchema
	}
	newFieldsMap, err := allFields(newTblSchemaJSON)
	if err != nil {
		return nil, err
	}
	// Deleting old fields or changing their types is a breaking change.
	return compareMaps(oldFieldsMap, newFieldsMap), nil
}

// uploadTableSchema uploads the given table schema to GCS.
func uploadTableSchema(gcsClient DownloaderUploader, objPath string, tblSchemaJSON []byte) error {
	ctx := context.Background()
	verbosef("uploading '%v'", objPath)
	if err := gcsClient.Upload(ctx, objPath, tblSchemaJSON); err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	verbosef("successfully uploaded '%v'", objPath)
	return nil
}

// allFields returns a map of all fields in the given schema.  The key
// of each map entry is the full field name and its value is the field
// type (e.g., ["archiver.Version"]: "STRING").
func allFields(schemaJSON []byte) (map[string]string, error) {
	var schema []interface{}
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnmarshal, err)
	}
	fields := make(map[string]string)
	err := visitAllFields(schema, func(fullFieldName []string, field bqField) error {
		if key := strings.Join(fullFieldName, "."); key != "" {
			fields[key] = fmt.Sprintf("%v", field["type"])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// visitAllFields calls the given visit function for each field in the
// given schema.
func visitAllFields(schema []interface{}, visit visitFunc) error {
	return visitAllFieldsRecursive(schema, visit, []string{})
}

// visitAllFieldsRecursive visits all fields in the given schema, calling
// itself recursively for RECORD field types.
func visitAllFieldsRecursive(schema []interface{}, visit visitFunc, fullFieldName []string) error {
	for _, field := range schema {
		f, ok := field.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%T: %w", field, ErrType)
		}
		ffn := append(append([]string{}, fullFieldName...), fmt.Sprintf("%v", f["name"]))
		if err := visit(ffn, f); err != nil {
			return err
		}
		if f["type"] != "RECORD" {
			continue
		}
		record, ok := f["fields"].([]interface{})
		if !ok {
			return fmt.Errorf("%T: %w", f["fields"], ErrType)
		}
		if err := visitAllFieldsRecursive(record, visit, ffn); err != nil {
			return err
		}
	}
	return nil
}

// compareMaps compares the given maps and returns their differences
// as three integers that are the number of (1) keys only in the new map,
// (2) keys only in the old map, and (3) different values.  It also logs
// the comparison results in verbosef mode.
func compareMaps(oldMap, newMap map[string]string) *mapDiff {
	diff := &mapDiff{}
	for _, n := range sortMapKeys(newMap) {
		if _, ok := oldMap[n]; !ok {
			verbosef("%-10s %v:%v", "only in new:", n, newMap[n])
			diff.nInNew++
			continue
		}
		if newMap[n] != oldMap[n] {
			verbosef("%-10v %v:%v in new, %v:%v in old", "mismatch:", n, newMap[n], n, oldMap[n])
			diff.nType++
			continue
		}
		verbosef("%-10s %v:%v", "in both:", n, newMap[n])
	}
	for _, o := range sortMapKeys(oldMap) {
		if _, ok := newMap[o]; !ok {
			verbosef("%-10s %v:%v", "only in old:", o, oldMap[o])
			diff.nInOld++
		}
	}
	return diff
}

// sortMapKeys returns a sorted slice of all keys in the given map.
func sortMapKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
