package rag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// documentRecord identifies one embedded version of a file.
type documentRecord struct {
	Digest       string `gorm:"primaryKey"`
	Path         string `gorm:"index"`
	ModTime      int64
	Size         int64
	EmbedModel   string
	ChunkSize    int
	ChunkOverlap int
	CreatedAt    time.Time
}

// chunkRecord stores one chunk and its embedding.
type chunkRecord struct {
	ID          uint   `gorm:"primaryKey"`
	DocumentKey string `gorm:"index"`
	Ordinal     int
	Content     string
	Vector      []byte
}

// Cache persists chunk embeddings in SQLite so unchanged documents are not
// re-embedded on every request.
type Cache struct {
	db *gorm.DB
}

// OpenCache opens (creating when needed) the embedding database at path.
func OpenCache(path string, log *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.New(slogWriter{log: log}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&documentRecord{}, &chunkRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get returns the cached chunks for key in ordinal order.
func (c *Cache) Get(ctx context.Context, key string) ([]Chunk, bool, error) {
	var doc documentRecord
	err := c.db.WithContext(ctx).First(&doc, "digest = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cached document: %w", err)
	}

	var rows []chunkRecord
	if err := c.db.WithContext(ctx).Where("document_key = ?", key).Order("ordinal").Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("load cached chunks: %w", err)
	}

	chunks := make([]Chunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, Chunk{
			Source:  doc.Path,
			Ordinal: row.Ordinal,
			Text:    row.Content,
			Vector:  decodeVector(row.Vector),
		})
	}
	return chunks, true, nil
}

// Put replaces every cached chunk of the document version identified by key.
// Older versions of the same path are dropped.
func (c *Cache) Put(ctx context.Context, key string, meta DocumentMeta, chunks []Chunk) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []string
		if err := tx.Model(&documentRecord{}).Where("path = ? AND digest <> ?", meta.Path, key).Pluck("digest", &stale).Error; err != nil {
			return err
		}
		stale = append(stale, key)
		if err := tx.Where("document_key IN ?", stale).Delete(&chunkRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("digest IN ? AND digest <> ?", stale, key).Delete(&documentRecord{}).Error; err != nil {
			return err
		}

		doc := documentRecord{
			Digest:       key,
			Path:         meta.Path,
			ModTime:      meta.ModTime.UnixNano(),
			Size:         meta.Size,
			EmbedModel:   meta.EmbedModel,
			ChunkSize:    meta.ChunkSize,
			ChunkOverlap: meta.ChunkOverlap,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&doc).Error; err != nil {
			return err
		}

		if len(chunks) == 0 {
			return nil
		}
		rows := make([]chunkRecord, 0, len(chunks))
		for _, chunk := range chunks {
			rows = append(rows, chunkRecord{
				DocumentKey: key,
				Ordinal:     chunk.Ordinal,
				Content:     chunk.Text,
				Vector:      encodeVector(chunk.Vector),
			})
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

// DocumentMeta pins the file version and chunking parameters a cache entry was
// computed with.
type DocumentMeta struct {
	Path         string
	ModTime      time.Time
	Size         int64
	EmbedModel   string
	ChunkSize    int
	ChunkOverlap int
}

// Key derives the cache key for meta.
func (m DocumentMeta) Key() string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s\x00%d\x00%d\x00%s\x00%d\x00%d",
		m.Path, m.ModTime.UnixNano(), m.Size, m.EmbedModel, m.ChunkSize, m.ChunkOverlap))
	return hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// slogWriter routes gorm's printf-style logger into slog.
type slogWriter struct {
	log *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	if w.log == nil {
		return
	}
	w.log.Warn("embedding cache", "detail", fmt.Sprintf(format, args...))
}
