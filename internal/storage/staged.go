package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// TableDelimiter separates fields in the normalized table.
const TableDelimiter = ';'

// Staged implements crawler.StagedStore on top of a Backend.
type Staged struct {
	backend Backend
	prefix  string
	logger  *zap.Logger
}

var _ crawler.StagedStore = (*Staged)(nil)

// NewStaged wraps backend. Every key is placed under prefix when it is set.
func NewStaged(backend Backend, prefix string, logger *zap.Logger) (*Staged, error) {
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Staged{
		backend: backend,
		prefix:  strings.Trim(strings.TrimSpace(prefix), "/"),
		logger:  logger,
	}, nil
}

// StageKey returns the key of a JSON stage artifact.
func (s *Staged) StageKey(runID string, stage crawler.Stage) string {
	return s.key(fmt.Sprintf("%s-%s.json", stage, runID))
}

// TableKey returns the key of the normalized table.
func (s *Staged) TableKey(runID string) string {
	return s.key(runID + ".csv")
}

func (s *Staged) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// WriteStage serializes payload as JSON, replacing any previous content.
func (s *Staged) WriteStage(ctx context.Context, runID string, stage crawler.Stage, payload any) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run id is required")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode %s artifact: %w", stage, err)
	}
	key := s.StageKey(runID, stage)
	uri, err := s.backend.PutObject(ctx, key, ContentTypeJSON, &buf)
	if err != nil {
		return fmt.Errorf("write %s artifact: %w", stage, err)
	}
	metrics.ObserveStageWrite(string(stage))
	s.logger.Debug("artifact written", zap.String("stage", string(stage)), zap.String("uri", uri))
	return nil
}

// ReadStage decodes a JSON stage artifact into out. A missing artifact yields
// crawler.ErrArtifactNotFound.
func (s *Staged) ReadStage(ctx context.Context, runID string, stage crawler.Stage, out any) error {
	data, err := s.backend.GetObject(ctx, s.StageKey(runID, stage))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return fmt.Errorf("read %s artifact: %w", stage, crawler.ErrArtifactNotFound)
		}
		return fmt.Errorf("read %s artifact: %w", stage, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s artifact: %w", stage, err)
	}
	return nil
}

// WriteTable writes rows as a semicolon-delimited UTF-8 CSV document.
func (s *Staged) WriteTable(ctx context.Context, runID string, rows [][]string) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run id is required")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = TableDelimiter
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encode table: %w", err)
	}
	uri, err := s.backend.PutObject(ctx, s.TableKey(runID), ContentTypeCSV, &buf)
	if err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	metrics.ObserveStageWrite("table")
	s.logger.Debug("table written", zap.String("uri", uri), zap.Int("rows", len(rows)))
	return nil
}

// ReadTable loads the normalized table, header included.
func (s *Staged) ReadTable(ctx context.Context, runID string) ([][]string, error) {
	data, err := s.backend.GetObject(ctx, s.TableKey(runID))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("read table: %w", crawler.ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("read table: %w", err)
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = TableDelimiter
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	return rows, nil
}

// Artifact returns the raw bytes of a stage artifact, or of the table when
// name is "table", together with their content type.
func (s *Staged) Artifact(ctx context.Context, runID, name string) ([]byte, string, error) {
	var (
		key         string
		contentType string
	)
	switch crawler.Stage(name) {
	case crawler.StageLinks, crawler.StageFinal, crawler.StageUnprocessed:
		key, contentType = s.StageKey(runID, crawler.Stage(name)), ContentTypeJSON
	case "table":
		key, contentType = s.TableKey(runID), ContentTypeCSV
	default:
		return nil, "", fmt.Errorf("unknown artifact %q: %w", name, crawler.ErrArtifactNotFound)
	}
	data, err := s.backend.GetObject(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, "", fmt.Errorf("read %s: %w", key, crawler.ErrArtifactNotFound)
		}
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	return data, contentType, nil
}
