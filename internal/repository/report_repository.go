package repository

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// ReportSchemaVersion defines the current schema version for report files
	ReportSchemaVersion = "1.0.0"
	// ReportFilePermissions defines the permissions for report files
	ReportFilePermissions = 0644
	// ReportDirPermissions defines the permissions for the report directory
	ReportDirPermissions = 0755
)

// ReportRepository persists sync reports so CI jobs can archive them.
type ReportRepository interface {
	Save(ctx context.Context, report *domain.SyncReport) error
	Load(ctx context.Context) (*domain.SyncReport, error)
}

// ReportMetadata contains metadata about the report file
type ReportMetadata struct {
	SchemaVersion string    `json:"schema_version"`
	Checksum      string    `json:"checksum"`
	WrittenAt     time.Time `json:"written_at"`
}

type reportEnvelope struct {
	Metadata ReportMetadata  `json:"metadata"`
	Report   json.RawMessage `json:"report"`
}

type jsonReportRepository struct {
	fs     FileSystemRepository
	path   string
	logger *zap.Logger
}

// NewJSONReportRepository creates a report repository writing to a single JSON file.
func NewJSONReportRepository(fs FileSystemRepository, path string, logger *zap.Logger) ReportRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &jsonReportRepository{fs: fs, path: path, logger: logger}
}

// Save writes the report through a temp file and rename so readers never see a partial file.
func (r *jsonReportRepository) Save(ctx context.Context, report *domain.SyncReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := r.fs.MkdirAll(dir, ReportDirPermissions); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	reportData, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	envelope := reportEnvelope{
		Metadata: ReportMetadata{
			SchemaVersion: ReportSchemaVersion,
			Checksum:      calculateChecksum(reportData),
			WrittenAt:     time.Now(),
		},
		Report: reportData,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report envelope: %w", err)
	}
	tempFile := r.path + ".tmp"
	if err := afero.WriteFile(r.fs, tempFile, data, ReportFilePermissions); err != nil {
		return fmt.Errorf("failed to write temp report file: %w", err)
	}
	if err := r.fs.Rename(tempFile, r.path); err != nil {
		if removeErr := r.fs.Remove(tempFile); removeErr != nil {
			r.logger.Warn("failed to remove temp report file", zap.String("path", tempFile), zap.Error(removeErr))
		}
		return fmt.Errorf("failed to rename report file: %w", err)
	}
	r.logger.Debug("report written", zap.String("path", r.path), zap.String("run_id", report.RunID))
	return nil
}

// Load reads the report back and verifies its checksum.
func (r *jsonReportRepository) Load(ctx context.Context) (*domain.SyncReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}
	var envelope reportEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report envelope: %w", err)
	}
	if envelope.Metadata.SchemaVersion != ReportSchemaVersion {
		return nil, fmt.Errorf("unsupported report schema version: %s", envelope.Metadata.SchemaVersion)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, envelope.Report); err != nil {
		return nil, fmt.Errorf("failed to normalize report: %w", err)
	}
	if calculateChecksum(compact.Bytes()) != envelope.Metadata.Checksum {
		return nil, fmt.Errorf("report checksum mismatch: data may be corrupted")
	}
	report := &domain.SyncReport{}
	if err := json.Unmarshal(compact.Bytes(), report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return report, nil
}

// calculateChecksum calculates SHA-256 checksum of data
func calculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
