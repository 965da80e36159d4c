package storage

import "strings"

const ownerColumn = "user_id"

// Table describes one backup-eligible, user-owned table.
type Table struct {
	Name       string
	Columns    []string
	KeyColumns []string
}

func (t Table) OwnerColumn() string { return ownerColumn }

func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

func (t Table) IsKey(name string) bool {
	for _, c := range t.KeyColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Registry order is export order.
var backupTables = []Table{
	{
		Name:       "suppliers",
		Columns:    []string{"id", "user_id", "name", "contact_email", "phone", "created_at", "updated_at"},
		KeyColumns: []string{"id"},
	},
	{
		Name:       "ingredients",
		Columns:    []string{"id", "user_id", "name", "unit", "unit_cost", "supplier_id", "allergens", "created_at", "updated_at"},
		KeyColumns: []string{"id"},
	},
	{
		Name:       "recipes",
		Columns:    []string{"id", "user_id", "name", "yield_qty", "yield_unit", "total_cost", "instructions", "created_at", "updated_at"},
		KeyColumns: []string{"id"},
	},
	{
		Name:       "recipe_ingredients",
		Columns:    []string{"id", "user_id", "recipe_id", "ingredient_id", "quantity", "unit", "created_at", "updated_at"},
		KeyColumns: []string{"id"},
	},
	{
		Name:       "menus",
		Columns:    []string{"id", "user_id", "name", "active", "created_at", "updated_at"},
		KeyColumns: []string{"id"},
	},
	{
		Name:       "menu_items",
		Columns:    []string{"id", "user_id", "menu_id", "recipe_id", "name", "price", "sort_order", "created_at", "updated_at"},
		KeyColumns: []string{"id"},
	},
	{
		Name:       "temperature_logs",
		Columns:    []string{"id", "user_id", "equipment", "temperature_c", "logged_at", "logged_by", "notes", "created_at", "updated_at"},
		KeyColumns: []string{"id"},
	},
	{
		Name:       "cleaning_tasks",
		Columns:    []string{"id", "user_id", "area", "frequency", "last_done_at", "created_at", "updated_at"},
		KeyColumns: []string{"id"},
	},
}

// BackupTables returns the backup-eligible tables in export order.
func BackupTables() []Table {
	out := make([]Table, len(backupTables))
	copy(out, backupTables)
	return out
}

func LookupTable(name string) (Table, bool) {
	name = strings.TrimSpace(name)
	for _, t := range backupTables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

func sqliteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
