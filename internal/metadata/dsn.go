package metadata

import "fmt"

// connString builds a modernc.org/sqlite DSN for the metadata index
// file: WAL journal mode, NORMAL synchronous, foreign keys on,
// busy_timeout against concurrent writers.
func connString(path string, busyMillis int64) string {
	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_time_format=sqlite",
		path, busyMillis,
	)
}
