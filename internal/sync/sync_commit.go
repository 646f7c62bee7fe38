package sync

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openmined/twinsync/internal/metadata"
	"github.com/openmined/twinsync/internal/scanner"
	"github.com/openmined/twinsync/internal/sidecar"
	"github.com/openmined/twinsync/internal/utils"
)

// commit folds the outcome of a run into both sides' metadata and saves it.
func (e *Engine) commit(an *Analysis, res *ExecutionResult) error {
	now := e.now().UTC()
	leftMeta, rightMeta := an.LeftMeta, an.RightMeta
	if leftMeta == nil {
		leftMeta = metadata.New()
	}
	if rightMeta == nil {
		rightMeta = metadata.New()
	}

	touched := make(map[string]struct{})
	mark := func(a Action) {
		if Mutates(a) {
			touched[utils.PathKey(a.RelPath())] = struct{}{}
		}
	}
	for _, c := range res.Completed {
		mark(c.Action)
	}
	for _, f := range res.Failed {
		mark(f.Action)
	}
	for _, s := range res.Skipped {
		mark(s.Action)
	}

	for _, c := range res.Completed {
		switch a := c.Action.(type) {
		case CopyToRight:
			e.recordCopy(c, e.left, leftMeta, a.Path, e.right, rightMeta, a.target(), now)
		case CopyToLeft:
			e.recordCopy(c, e.right, rightMeta, a.Path, e.left, leftMeta, a.target(), now)
		case DeleteLeft:
			recordDelete(leftMeta, rightMeta, a.Path, a.Target, now)
		case DeleteRight:
			recordDelete(rightMeta, leftMeta, a.Path, a.Target, now)
		}
	}

	if an.Diff != nil {
		for _, pair := range an.Diff.InSync {
			if _, ok := touched[utils.PathKey(pair.Left)]; ok {
				continue
			}
			e.refresh(e.left, leftMeta, pair.Left, now)
			e.refresh(e.right, rightMeta, pair.Right, now)
		}
		for _, p := range an.Diff.Gone {
			if unscanned(an.Left, p) || unscanned(an.Right, p) {
				continue
			}
			for _, m := range []*metadata.SyncMetadata{leftMeta, rightMeta} {
				if fs, ok := m.File(p); ok {
					m.MarkDeleted(fs.Tombstone(now))
				}
			}
		}
	}

	leftMeta.LastSync = now
	rightMeta.LastSync = now

	return errors.Join(
		e.store(e.left).Save(leftMeta),
		e.store(e.right).Save(rightMeta),
	)
}

func unscanned(scan *scanner.Result, rel string) bool {
	return scan != nil && scan.Unscanned(rel)
}

// recordCopy upserts the copied file on both sides. The source record comes
// from the stat the copy was checked against, so an edit landing after the
// copy still shows up as a change on the next run.
func (e *Engine) recordCopy(c Completed, srcSide *sidecar.Sidecar, srcMeta *metadata.SyncMetadata, srcRel string,
	dstSide *sidecar.Sidecar, dstMeta *metadata.SyncMetadata, dstRel string, now time.Time) {
	if c.Source != nil {
		srcMeta.Upsert(stateFromInfo(srcRel, c.Source, c.Hash, now))
	} else if fs, err := stateFromDisk(srcSide, srcRel, c.Hash, now); err == nil {
		srcMeta.Upsert(fs)
	} else {
		slog.Warn("record copy", "root", srcSide.Root, "path", srcRel, "error", err)
	}

	fs, err := stateFromDisk(dstSide, dstRel, c.Hash, now)
	if err != nil {
		slog.Warn("record copy", "root", dstSide.Root, "path", dstRel, "error", err)
		return
	}
	dstMeta.Upsert(fs)
	e.hasher.Remember(dstSide.AbsPath(dstRel), c.Hash)
}

// recordDelete tombstones rel on the side it was removed from. The other
// side, where the deletion originated, stops tracking it as well.
func recordDelete(deletedMeta, otherMeta *metadata.SyncMetadata, rel string, target FileInfo, now time.Time) {
	rec := metadata.DeletedRecord{
		Path:      rel,
		Size:      target.Size,
		ModTime:   target.ModTime,
		Hash:      target.Hash,
		DeletedAt: now,
	}
	if fs, ok := deletedMeta.File(rel); ok {
		if rec.Hash == "" {
			rec.Hash = fs.Hash
		}
		if !target.captured() {
			rec.Size, rec.ModTime = fs.Size, fs.ModTime
		}
	}
	deletedMeta.MarkDeleted(rec)

	if fs, ok := otherMeta.File(rel); ok {
		otherMeta.MarkDeleted(fs.Tombstone(now))
	}
}

// refresh records a file that is already in sync. Without hashing, a stored
// digest is only kept while the file still matches the record exactly.
func (e *Engine) refresh(sc *sidecar.Sidecar, meta *metadata.SyncMetadata, rel string, now time.Time) {
	fs, err := stateFromDisk(sc, rel, "", now)
	if err != nil {
		slog.Warn("refresh state", "root", sc.Root, "path", rel, "error", err)
		return
	}

	if e.cfg.Settings.VerifyHash {
		sum, err := e.hasher.Hash(sc.AbsPath(rel))
		if err != nil {
			slog.Warn("hash in-sync file", "root", sc.Root, "path", rel, "error", err)
		}
		fs.Hash = sum
	} else if prev, ok := meta.File(rel); ok && prev.Size == fs.Size && prev.ModTime.Equal(fs.ModTime) {
		fs.Hash = prev.Hash
	}
	meta.Upsert(fs)
}

func stateFromDisk(sc *sidecar.Sidecar, rel, hash string, now time.Time) (metadata.FileState, error) {
	info, err := os.Stat(sc.AbsPath(rel))
	if err != nil {
		return metadata.FileState{}, err
	}
	if info.IsDir() {
		return metadata.FileState{}, fmt.Errorf("%s is a directory", rel)
	}
	return stateFromInfo(rel, info, hash, now), nil
}

func stateFromInfo(rel string, info os.FileInfo, hash string, now time.Time) metadata.FileState {
	return metadata.FileState{
		Path:       rel,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Hash:       hash,
		Attributes: metadata.AttributesFromInfo(info),
		LastSynced: now,
	}
}
