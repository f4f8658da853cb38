// Package backup implements the Backup/Restore/Migration pipeline of spec
// §4.6: cron-scheduled or manual snapshot writer, JSON-array artifact
// format, restore validator, and the migration orchestrator built on top.
package backup

import (
	"time"

	"github.com/bkio/crosscloudkit/dbcore"
	"github.com/bkio/crosscloudkit/primitive"
)

// tableSnapshot is one element of a BackupArtifact (spec §3: `{
// "table_name": string, "key_name": string, "items": [JObject,...] }`).
type tableSnapshot struct {
	TableName string        `json:"table_name"`
	KeyName   string        `json:"key_name"`
	Items     []dbcore.Item `json:"items"`
}

// Cursor identifies one backup artifact: the artifact filename stripped
// of the root prefix, immutable once issued (spec §3).
type Cursor struct {
	FileName string
}

// artifactObjectKey builds the FileService object key an artifact is
// uploaded/downloaded under, given the configured rootPath.
func artifactObjectKey(rootPath, fileName string) string {
	return rootPath + fileName
}

// timestampFileName formats the UTC timestamp artifact name of spec §3:
// `yyyy-MM-dd-HH-mm-ss.json`.
func timestampFileName(now time.Time) string {
	return now.UTC().Format("2006-01-02-15-04-05") + ".json"
}

// dbKeyFor builds the DbKey a restored item is PutItem'd under. Restored
// key attributes are always strings (spec §4.6 step 2: "verify that
// items[i][keyName] is present and is a string").
func dbKeyFor(keyName, keyValue string) (primitive.DbKey, bool) {
	return primitive.NewDbKey(keyName, primitive.String(keyValue))
}

// normalizeItem converts every integral float64 the JSON decoder produced
// back into an int64, recursively through nested objects and arrays, so a
// Backup→Restore round trip hands back integers as integers (spec §3:
// "Round floats may be normalized to integers on serialization
// round-trips").
func normalizeItem(item dbcore.Item) dbcore.Item {
	for k, v := range item {
		item[k] = normalizeValue(v)
	}
	return item
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalizeValue(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = normalizeValue(e)
		}
		return t
	default:
		return v
	}
}
