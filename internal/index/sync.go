package index

import (
	"log/slog"

	"github.com/starford/mderb/internal/models"
)

// Sync brings the reference index up to date with the given datasets
// (dataset path -> entries):
//   - every listed dataset is re-indexed
//   - datasets no longer listed are removed
func Sync(db Index, datasets map[string][]models.ReferenceEntry, logger *slog.Logger) error {
	indexed, err := db.Datasets()
	if err != nil {
		return err
	}

	for path, entries := range datasets {
		if err := db.ReplaceReferences(path, entries); err != nil {
			logger.Warn("sync: index failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed", slog.String("path", path), slog.Int("entries", len(entries)))
	}

	for p := range indexed {
		if _, ok := datasets[p]; ok {
			continue
		}
		if err := db.DeleteReferences(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: removed stale", slog.String("path", p))
		}
	}

	return nil
}
