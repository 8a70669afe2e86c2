package db

// dictionaryTable describes a single-column string dictionary.
func dictionaryTable(name string) *Table {
	table := name + "_v1"
	return &Table{
		Name:    table,
		Columns: []string{name},
		Schema: []string{
			"CREATE TABLE IF NOT EXISTS " + table + " (id INTEGER PRIMARY KEY AUTOINCREMENT, " + name + " TEXT NOT NULL)",
			"CREATE UNIQUE INDEX IF NOT EXISTS " + table + "_idx ON " + table + "(" + name + ")",
		},
		Drop: []string{
			"DROP INDEX IF EXISTS " + table + "_idx",
			"DROP TABLE IF EXISTS " + table,
		},
	}
}

var (
	HostTable     = dictionaryTable("host")
	StatusTable   = dictionaryTable("status")
	FileshaTable  = dictionaryTable("filesha")
	FilepathTable = dictionaryTable("filepath")

	RunTable = &Table{
		Name:    "run_v1",
		Columns: []string{"host_id", "starttime"},
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS run_v1 (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				host_id INTEGER NOT NULL REFERENCES host_v1(id),
				starttime INTEGER NOT NULL,
				endtime INTEGER,
				status_id INTEGER REFERENCES status_v1(id)
			)`,
			"CREATE UNIQUE INDEX IF NOT EXISTS run_key_idx ON run_v1 (host_id, starttime)",
			"CREATE INDEX IF NOT EXISTS run_idx ON run_v1 (host_id, starttime, endtime)",
		},
		Drop: []string{
			"DROP INDEX IF EXISTS run_idx",
			"DROP INDEX IF EXISTS run_key_idx",
			"DROP TABLE IF EXISTS run_v1",
		},
	}

	DirectoryTable = &Table{
		Name:    "directory_v1",
		Columns: []string{"run_id", "filepath_id", "fileowner", "filegroup", "filemode", "filetime"},
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS directory_v1 (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL REFERENCES run_v1(id),
				filepath_id INTEGER NOT NULL REFERENCES filepath_v1(id),
				fileowner INTEGER NOT NULL,
				filegroup INTEGER NOT NULL,
				filemode INTEGER NOT NULL,
				filetime INTEGER NOT NULL
			)`,
			"CREATE UNIQUE INDEX IF NOT EXISTS directory_key_idx ON directory_v1 (run_id, filepath_id, fileowner, filegroup, filemode, filetime)",
		},
		Drop: []string{
			"DROP INDEX IF EXISTS directory_key_idx",
			"DROP TABLE IF EXISTS directory_v1",
		},
	}

	LinkTable = &Table{
		Name:    "link_v1",
		Columns: []string{"run_id", "filepath_id", "destpath_id"},
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS link_v1 (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL REFERENCES run_v1(id),
				filepath_id INTEGER NOT NULL REFERENCES filepath_v1(id),
				destpath_id INTEGER NOT NULL REFERENCES filepath_v1(id)
			)`,
			"CREATE UNIQUE INDEX IF NOT EXISTS link_key_idx ON link_v1 (run_id, filepath_id, destpath_id)",
			"CREATE INDEX IF NOT EXISTS link_idx ON link_v1 (run_id)",
		},
		Drop: []string{
			"DROP INDEX IF EXISTS link_idx",
			"DROP INDEX IF EXISTS link_key_idx",
			"DROP TABLE IF EXISTS link_v1",
		},
	}

	FileTable = &Table{
		Name:    "file_v1",
		Columns: []string{"run_id", "filepath_id", "fileowner", "filegroup", "filemode", "filesize", "filetime", "filesha_id"},
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS file_v1 (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL REFERENCES run_v1(id),
				filepath_id INTEGER NOT NULL REFERENCES filepath_v1(id),
				fileowner INTEGER NOT NULL,
				filegroup INTEGER NOT NULL,
				filemode INTEGER NOT NULL,
				filesize INTEGER NOT NULL,
				filetime INTEGER NOT NULL,
				filesha_id INTEGER NOT NULL REFERENCES filesha_v1(id)
			)`,
			"CREATE UNIQUE INDEX IF NOT EXISTS file_key_idx ON file_v1 (run_id, filepath_id, fileowner, filegroup, filemode, filesize, filetime, filesha_id)",
			// fast-path hash lookup
			"CREATE INDEX IF NOT EXISTS file_known_idx ON file_v1 (filepath_id, filesize, filetime)",
		},
		Drop: []string{
			"DROP INDEX IF EXISTS file_known_idx",
			"DROP INDEX IF EXISTS file_key_idx",
			"DROP TABLE IF EXISTS file_v1",
		},
	}

	CatalogTable = &Table{
		Name:    "catalog_v1",
		Columns: []string{"uuid", "created"},
		Schema: []string{
			"CREATE TABLE IF NOT EXISTS catalog_v1 (id INTEGER PRIMARY KEY AUTOINCREMENT, uuid TEXT NOT NULL UNIQUE, created INTEGER NOT NULL)",
		},
		Drop: []string{"DROP TABLE IF EXISTS catalog_v1"},
	}

	IntegrationTable = &Table{
		Name:    "integration_v1",
		Columns: []string{"source_uuid", "source_name", "runs", "merged_at"},
		Schema: []string{
			"CREATE TABLE IF NOT EXISTS integration_v1 (id INTEGER PRIMARY KEY AUTOINCREMENT, source_uuid TEXT NOT NULL, source_name TEXT NOT NULL, runs INTEGER NOT NULL, merged_at INTEGER NOT NULL)",
		},
		Drop: []string{"DROP TABLE IF EXISTS integration_v1"},
	}
)

// Tables lists every catalog table in creation order. Drop in reverse.
var Tables = []*Table{
	HostTable, StatusTable, FileshaTable, FilepathTable,
	RunTable, DirectoryTable, LinkTable, FileTable,
	CatalogTable, IntegrationTable,
}
