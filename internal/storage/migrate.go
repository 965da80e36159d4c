package storage

import (
	"database/sql"
)

func Migrate(db *sql.DB) error {
	var currentVersion int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion < 1 {
		_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS suppliers (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  name TEXT NOT NULL,
  contact_email TEXT,
  phone TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS ingredients (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  name TEXT NOT NULL,
  unit TEXT NOT NULL,
  unit_cost REAL NOT NULL DEFAULT 0,
  supplier_id TEXT,
  allergens TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS recipes (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  name TEXT NOT NULL,
  yield_qty REAL NOT NULL DEFAULT 1,
  yield_unit TEXT,
  total_cost REAL NOT NULL DEFAULT 0,
  instructions TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS recipe_ingredients (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  recipe_id TEXT NOT NULL,
  ingredient_id TEXT NOT NULL,
  quantity REAL NOT NULL,
  unit TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_recipe_ingredients_recipe ON recipe_ingredients(user_id, recipe_id);

CREATE TABLE IF NOT EXISTS menus (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  name TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS menu_items (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  menu_id TEXT NOT NULL,
  recipe_id TEXT,
  name TEXT NOT NULL,
  price REAL NOT NULL DEFAULT 0,
  sort_order INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_menu_items_menu ON menu_items(user_id, menu_id);

CREATE TABLE IF NOT EXISTS temperature_logs (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  equipment TEXT NOT NULL,
  temperature_c REAL NOT NULL,
  logged_at TEXT NOT NULL,
  logged_by TEXT,
  notes TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS cleaning_tasks (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  area TEXT NOT NULL,
  frequency TEXT NOT NULL,
  last_done_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, id)
);
`)
		if err != nil {
			return err
		}

		if _, err := db.Exec("PRAGMA user_version = 1;"); err != nil {
			return err
		}
		currentVersion = 1
	}

	if currentVersion < 2 {
		_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS backup_metadata (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  encryption_mode TEXT NOT NULL,
  size_bytes INTEGER NOT NULL,
  record_counts TEXT NOT NULL,
  storage_handle TEXT NOT NULL,
  filename TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backup_metadata_user_created ON backup_metadata(user_id, created_at);
`)
		if err != nil {
			return err
		}

		if _, err := db.Exec("PRAGMA user_version = 2;"); err != nil {
			return err
		}
		currentVersion = 2
	}

	return nil
}
