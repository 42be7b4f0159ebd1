package database

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"property-monitor/internal/models"
)

const maxColumnNameLength = 60

var nonColumnChars = regexp.MustCompile(`[^a-z0-9_]+`)

// SanitizeColumnName maps an arbitrary attribute key to a safe column name.
// It returns "" for keys that cannot be used or collide with a known column.
func SanitizeColumnName(key string) string {
	name := strings.ToLower(strings.TrimSpace(key))
	name = nonColumnChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return ""
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "x_" + name
	}
	if len(name) > maxColumnNameLength {
		name = strings.TrimRight(name[:maxColumnNameLength], "_")
	}
	if models.KnownColumns[name] {
		return ""
	}
	return name
}

// ensureExtraColumns adds a TEXT column for every extra attribute in the batch
// that the listings table does not have yet. Existing columns are never altered.
func (gdb *GormDB) ensureExtraColumns(listings []models.Listing) error {
	wanted := map[string]bool{}
	for i := range listings {
		for key := range listings[i].Extra {
			if col := SanitizeColumnName(key); col != "" {
				wanted[col] = true
			}
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	columns := make([]string, 0, len(wanted))
	for col := range wanted {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	migrator := gdb.db.Migrator()
	for _, col := range columns {
		if migrator.HasColumn(&models.Listing{}, col) {
			continue
		}
		err := gdb.db.Exec("ALTER TABLE ? ADD COLUMN ? TEXT",
			clause.Table{Name: models.Listing{}.TableName()},
			clause.Column{Name: col},
		).Error
		if err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
		log.Printf("Database: Added column listings.%s", col)
	}
	return nil
}

// writeExtras stores a listing's extra attributes in their columns
func writeExtras(tx *gorm.DB, l *models.Listing) error {
	if len(l.Extra) == 0 {
		return nil
	}

	values := map[string]interface{}{}
	for key, val := range l.Extra {
		col := SanitizeColumnName(key)
		if col == "" {
			continue
		}
		values[col] = extraValue(val)
	}
	if len(values) == 0 {
		return nil
	}

	return tx.Table(models.Listing{}.TableName()).Where("id = ?", l.ID).Updates(values).Error
}

// extraValue renders a decoded JSON value as column text
func extraValue(val interface{}) interface{} {
	switch v := val.(type) {
	case nil:
		return nil
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	}
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Sprint(val)
	}
	return string(data)
}
