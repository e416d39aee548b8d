// Package storage opens the persistence backends shared by the role engine,
// the activity log and the assignment index.
//
// # Backends
//
//   - memory: nothing is opened; every component keeps its state in process.
//   - sqlite: a single-connection database/sql handle over mattn/go-sqlite3.
//   - postgres: a pooled database/sql handle over lib/pq.
//
// An optional Redis client (go-redis v8) holds user assignments when
// Config.RedisURL is set.
//
// # Usage
//
//	cfg := storage.DefaultConfig()
//	cfg.Type = storage.TypePostgres
//	cfg.DatabaseURL = os.Getenv("ROLEKEEPER_DATABASE_URL")
//
//	db, err := storage.OpenDB(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
// Each component creates its own tables. IsUniqueViolation lets stores map
// constraint failures from either driver onto domain errors.
package storage
