package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// schemaVersion is the schema this build of drover expects. The daemon never
// migrates on its own; this tool brings older databases forward.
const schemaVersion = "1"

var buckets = []string{
	"jobs", "job_groups", "tasks", "task_results", "nodes", "retries", "cluster",
}

var (
	dataDir    = flag.String("data-dir", "/var/lib/drover", "Drover data directory")
	dryRun     = flag.Bool("dry-run", false, "Show what would be done without making changes")
	backupPath = flag.String("backup", "", "Backup path before migrate/compact (default: <data-dir>/drover.db.backup)")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Drover database maintenance tool.

Usage: drover-migrate [flags] <command>

Commands:
  inspect   Print buckets, record counts and the schema version
  migrate   Bring an older database up to schema %s
  compact   Rewrite the database file to reclaim free pages

Flags:
`, schemaVersion)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	dbPath := filepath.Join(*dataDir, "drover.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	var err error
	switch flag.Arg(0) {
	case "inspect":
		err = inspect(dbPath)
	case "migrate":
		err = migrate(dbPath, *dryRun)
	case "compact":
		err = compact(dbPath, *dryRun)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}

func inspect(dbPath string) error {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	info, err := os.Stat(dbPath)
	if err != nil {
		return err
	}
	log.Printf("Database: %s (%d KB)", dbPath, info.Size()/1024)

	return db.View(func(tx *bolt.Tx) error {
		version := "0 (pre-versioning)"
		if b := tx.Bucket([]byte("cluster")); b != nil {
			if v := b.Get([]byte("schema_version")); v != nil {
				version = string(v)
			}
		}
		log.Printf("Schema version: %s", version)

		for _, name := range buckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				log.Printf("  %-14s (missing)", name)
				continue
			}
			log.Printf("  %-14s %d record(s)", name, b.Stats().KeyN)
		}

		// Anything outside the known schema is worth flagging.
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if !knownBucket(string(name)) {
				log.Printf("  ⚠ unexpected bucket: %s", name)
			}
			return nil
		})
	})
}

func knownBucket(name string) bool {
	for _, b := range buckets {
		if b == name {
			return true
		}
	}
	return false
}

// migrate brings a v0 database to v1: the early "groups" bucket becomes
// "job_groups", missing buckets are created, and the schema version is
// stamped. The legacy bucket is preserved for rollback.
func migrate(dbPath string, dryRun bool) error {
	log.Println("Drover Database Migration Tool")
	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", dryRun)

	if !dryRun {
		if err := backup(dbPath); err != nil {
			return err
		}
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var upToDate bool
	var legacyCount int
	err = db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte("cluster")); b != nil {
			if v := b.Get([]byte("schema_version")); string(v) == schemaVersion {
				upToDate = true
				return nil
			}
		}
		if legacy := tx.Bucket([]byte("groups")); legacy != nil {
			legacyCount = legacy.Stats().KeyN
			log.Printf("Found legacy 'groups' bucket with %d record(s)", legacyCount)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if upToDate {
		log.Printf("✓ Database is already at schema %s", schemaVersion)
		return nil
	}

	if dryRun {
		log.Println("\n[DRY RUN] Would perform the following operations:")
		log.Println("1. Create any missing buckets")
		if legacyCount > 0 {
			log.Printf("2. Copy %d record(s) from 'groups' to 'job_groups'", legacyCount)
			log.Println("3. Preserve 'groups' bucket for rollback")
		}
		log.Printf("4. Stamp schema_version=%s", schemaVersion)
		return nil
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		if legacy := tx.Bucket([]byte("groups")); legacy != nil {
			dst := tx.Bucket([]byte("job_groups"))
			migrated := 0
			err := legacy.ForEach(func(k, v []byte) error {
				var data map[string]interface{}
				if err := json.Unmarshal(v, &data); err != nil {
					log.Printf("⚠ Warning: Skipping invalid JSON for key %s: %v", k, err)
					return nil
				}
				if err := dst.Put(k, v); err != nil {
					return fmt.Errorf("failed to copy group %s: %w", k, err)
				}
				migrated++
				return nil
			})
			if err != nil {
				return err
			}
			log.Printf("✓ Migrated %d/%d group record(s)", migrated, legacyCount)
			log.Println("✓ Preserved 'groups' bucket for rollback")
		}

		return tx.Bucket([]byte("cluster")).Put([]byte("schema_version"), []byte(schemaVersion))
	})
	if err != nil {
		return err
	}

	log.Printf("\n✓ Migration completed: schema is now at version %s", schemaVersion)
	return nil
}

// compact rewrites the database into a fresh file and swaps it in. BoltDB
// never shrinks on its own, so long retention sweeps leave free pages behind.
func compact(dbPath string, dryRun bool) error {
	info, err := os.Stat(dbPath)
	if err != nil {
		return err
	}
	log.Printf("Database: %s (%d KB)", dbPath, info.Size()/1024)

	if dryRun {
		log.Println("[DRY RUN] Would rewrite the database file and swap it in place.")
		return nil
	}
	if err := backup(dbPath); err != nil {
		return err
	}

	src, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	tmpPath := dbPath + ".compact"
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}

	err = bolt.Compact(dst, src, 0)
	dst.Close()
	src.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("compaction failed: %w", err)
	}

	if err := os.Rename(tmpPath, dbPath); err != nil {
		return fmt.Errorf("failed to swap compacted file: %w", err)
	}

	compacted, err := os.Stat(dbPath)
	if err != nil {
		return err
	}
	log.Printf("✓ Compacted %d KB → %d KB", info.Size()/1024, compacted.Size()/1024)
	return nil
}

func backup(dbPath string) error {
	backupFile := *backupPath
	if backupFile == "" {
		backupFile = dbPath + ".backup"
	}
	log.Printf("Creating backup: %s", backupFile)
	if err := copyFile(dbPath, backupFile); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	log.Println("✓ Backup created successfully")
	return nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
