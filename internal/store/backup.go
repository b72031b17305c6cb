package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Backup describes one database snapshot in the backup directory.
type Backup struct {
	Name      string    `json:"name"`
	Path      string    `json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) openOrCreate() error {
	openErr := s.openDB()
	if openErr == nil {
		return nil
	}
	if _, err := os.Stat(s.file); err == nil {
		return s.refuseDamaged(openErr)
	}
	if err := s.resetDatabaseFiles(); err != nil {
		return fmt.Errorf("reset database after %v: %w", openErr, err)
	}
	if err := s.openDB(); err != nil {
		return fmt.Errorf("create fresh database after %v: %w", openErr, err)
	}
	return nil
}

// refuseDamaged reports an existing database that cannot be opened. The file
// is left untouched and the error names the newest backup, if any.
func (s *Store) refuseDamaged(openErr error) error {
	backups, err := s.Backups()
	if err != nil || len(backups) == 0 {
		return fmt.Errorf("open %s: %w: %w (no backup available)", filepath.Base(s.file), ErrDamagedDatabase, openErr)
	}
	latest := backups[len(backups)-1]
	return fmt.Errorf("open %s: %w: %w (newest backup %s, restore it explicitly to continue)",
		filepath.Base(s.file), ErrDamagedDatabase, openErr, latest.Name)
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", filepath.Base(path), err)
			}
		}
	}
	return firstErr
}

// RestoreBackup replaces the database at filePath with a backup. name is a
// backup file name from the backup directory, or "latest". The replaced
// database files are kept beside it with a ".damaged-<unix>" suffix. The
// restored snapshot is checked before RestoreBackup returns its name.
//
// Transactions and events written after the snapshot are lost. Creation
// indexes and outbox sequence numbers after the snapshot will be handed out
// again; event ids are never reused.
func RestoreBackup(filePath, name string) (string, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return "", fmt.Errorf("resolve db path: %w", err)
	}
	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
	}

	backups, err := s.Backups()
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", errNoBackups
	}
	chosen := backups[len(backups)-1]
	if name != "" && name != "latest" {
		found := false
		for _, b := range backups {
			if b.Name == name {
				chosen, found = b, true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("backup %q not found in %s", name, s.backupDir)
		}
	}

	suffix := fmt.Sprintf(".damaged-%d", time.Now().Unix())
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Rename(path, path+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("set aside %s: %w", filepath.Base(path), err)
		}
	}
	if err := copyFile(chosen.Path, s.file); err != nil {
		return "", fmt.Errorf("copy backup %s: %w", chosen.Name, err)
	}
	if err := s.openDB(); err != nil {
		return "", fmt.Errorf("backup %s: %w", chosen.Name, err)
	}
	if err := s.closeDB(); err != nil {
		return "", err
	}
	return chosen.Name, nil
}

func (s *Store) backupNaming() (prefix, ext string) {
	base := filepath.Base(s.file)
	ext = filepath.Ext(base)
	prefix = strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return prefix, ext
}

// Backups lists snapshots oldest first.
func (s *Store) Backups() ([]Backup, error) {
	prefix, ext := s.backupNaming()
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		created := info.ModTime()
		stamp := strings.TrimPrefix(strings.TrimSuffix(name, ext), prefix+"-")
		if ts, err := strconv.ParseInt(stamp, 10, 64); err == nil {
			created = time.Unix(ts, 0)
		}
		backups = append(backups, Backup{
			Name:      name,
			Path:      filepath.Join(s.backupDir, name),
			Size:      info.Size(),
			CreatedAt: created.UTC(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].Name < backups[j].Name
		}
		return backups[i].CreatedAt.Before(backups[j].CreatedAt)
	})
	return backups, nil
}

// BackupCurrent writes a consistent snapshot of the database to a timestamped
// file and prunes the oldest snapshots beyond maxBackups.
func (s *Store) BackupCurrent(maxBackups int) (Backup, error) {
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return Backup{}, fmt.Errorf("ensure backup directory: %w", err)
	}

	prefix, ext := s.backupNaming()
	path := uniqueBackupPath(s.backupDir, prefix, ext, time.Now().Unix())

	s.mu.Lock()
	_, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escapeLiteral(path)))
	s.mu.Unlock()
	if err != nil {
		os.Remove(path)
		return Backup{}, fmt.Errorf("vacuum into backup: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Backup{}, fmt.Errorf("stat backup: %w", err)
	}

	if err := s.prune(maxBackups); err != nil {
		return Backup{}, err
	}

	return Backup{
		Name:      filepath.Base(path),
		Path:      path,
		Size:      info.Size(),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}

func (s *Store) prune(maxBackups int) error {
	backups, err := s.Backups()
	if err != nil {
		return err
	}
	for i := 0; i < len(backups)-maxBackups; i++ {
		if err := os.Remove(backups[i].Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("prune %s: %w", backups[i].Name, err)
		}
	}
	return nil
}

func uniqueBackupPath(dir, prefix, ext string, timestamp int64) string {
	for {
		path := filepath.Join(dir, fmt.Sprintf("%s-%d%s", prefix, timestamp, ext))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		timestamp++
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
