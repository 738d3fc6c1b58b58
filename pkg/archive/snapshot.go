package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// SnapshotDescriptor records where a snapshot's immutable copy lives and
// when it was taken.
type SnapshotDescriptor struct {
	Timestamp string `json:"timestamp"`
	Dir       string `json:"dir"`
}

// Snapshot copies the archive pair at basePath into
// snapshotRoot/snapshots/<UTC-ISO8601>/{snapshot.vecdb,snapshot.vecidx}
// (§4.D, §6). The copy is immutable; restoring it is a reverse atomic
// swap via Restore.
func Snapshot(basePath, snapshotRoot string, now time.Time) (*SnapshotDescriptor, error) {
	ts := now.UTC().Format("20060102T150405Z")
	dir := filepath.Join(snapshotRoot, "snapshots", ts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create snapshot dir: %w", err)
	}

	if err := copyFile(basePath+".vecdb", filepath.Join(dir, "snapshot.vecdb")); err != nil {
		return nil, fmt.Errorf("archive: copy data file: %w", err)
	}
	if err := copyFile(basePath+".vecidx", filepath.Join(dir, "snapshot.vecidx")); err != nil {
		return nil, fmt.Errorf("archive: copy index file: %w", err)
	}

	return &SnapshotDescriptor{Timestamp: ts, Dir: dir}, nil
}

// Restore performs the reverse atomic swap: it copies a snapshot's pair
// back over basePath using the same backup-then-rename discipline
// WriteArchive uses, so a failure mid-restore leaves the current archive
// pair untouched.
func Restore(snapshotDir, basePath string) error {
	dataTmp := basePath + ".vecdb.tmp"
	idxTmp := basePath + ".vecidx.tmp"

	if err := copyFile(filepath.Join(snapshotDir, "snapshot.vecdb"), dataTmp); err != nil {
		return fmt.Errorf("archive: stage snapshot data: %w", err)
	}
	if err := copyFile(filepath.Join(snapshotDir, "snapshot.vecidx"), idxTmp); err != nil {
		os.Remove(dataTmp)
		return fmt.Errorf("archive: stage snapshot index: %w", err)
	}

	dataPath := basePath + ".vecdb"
	idxPath := basePath + ".vecidx"
	dataPrev := dataPath + ".prev"
	idxPrev := idxPath + ".prev"
	dataHadPrev := fileExists(dataPath)
	idxHadPrev := fileExists(idxPath)

	if dataHadPrev {
		if err := os.Rename(dataPath, dataPrev); err != nil {
			os.Remove(dataTmp)
			os.Remove(idxTmp)
			return fmt.Errorf("archive: back up current data file: %w", err)
		}
	}
	if idxHadPrev {
		if err := os.Rename(idxPath, idxPrev); err != nil {
			restoreBackup(dataPrev, dataPath, dataHadPrev)
			os.Remove(dataTmp)
			os.Remove(idxTmp)
			return fmt.Errorf("archive: back up current index file: %w", err)
		}
	}

	if err := os.Rename(dataTmp, dataPath); err != nil {
		restoreBackup(dataPrev, dataPath, dataHadPrev)
		restoreBackup(idxPrev, idxPath, idxHadPrev)
		os.Remove(dataTmp)
		os.Remove(idxTmp)
		return fmt.Errorf("archive: rename restored data file into place: %w", err)
	}
	if err := os.Rename(idxTmp, idxPath); err != nil {
		os.Remove(dataPath)
		restoreBackup(dataPrev, dataPath, dataHadPrev)
		restoreBackup(idxPrev, idxPath, idxHadPrev)
		os.Remove(idxTmp)
		return fmt.Errorf("archive: rename restored index file into place: %w", err)
	}

	if dataHadPrev {
		os.Remove(dataPrev)
	}
	if idxHadPrev {
		os.Remove(idxPrev)
	}
	return nil
}

// Compact copies every live entry from the current archive into a fresh
// writer, skipping anything the caller's `live` predicate reports as
// tombstoned since the last save, then atomically swaps it in.
func Compact(basePath string, w *Writer, live func(collection string) bool) (*StorageIndex, error) {
	r, err := Open(basePath, DefaultCacheMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("archive: open for compaction: %w", err)
	}
	defer r.Close()

	var fragments []Fragment
	for _, name := range r.ListCollections() {
		if live != nil && !live(name) {
			continue
		}
		ci, _ := r.GetCollection(name)
		files, err := r.ReadCollectionFiles(name)
		if err != nil {
			return nil, fmt.Errorf("archive: read collection %q for compaction: %w", name, err)
		}
		frag := Fragment{
			Collection:  name,
			VectorCount: ci.VectorCount,
			Dimension:   ci.Dimension,
			Metadata:    ci.Metadata,
		}
		for _, fe := range ci.Files {
			data := files[fe.Path]
			frag.Files = append(frag.Files, SourceFile{Name: filepath.Base(fe.Path), Data: data})
		}
		fragments = append(fragments, frag)
	}

	return w.WriteArchive(basePath, fragments)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
