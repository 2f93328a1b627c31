package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
	"github.com/noah-isme/planner-api/pkg/export"
	"github.com/noah-isme/planner-api/pkg/storage"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
	ExportICS ExportFormat = "ics"
)

// ParseExportFormat accepts csv, pdf and ics in any case.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case ExportCSV, ExportPDF, ExportICS:
		return f, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", raw))
	}
}

type fileStorage interface {
	Save(owner, filename string, data []byte) (string, error)
	Open(rel string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type icsRenderer interface {
	Render(name string, events []export.Event) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	RetainFor time.Duration
	Location  *time.Location
}

// ExportRequest describes one export of a user's blocks.
type ExportRequest struct {
	UserID string
	From   time.Time
	To     time.Time
	Format ExportFormat
	// CollapseSeries emits each series root once with an RRULE instead of its occurrences.
	// It only affects ICS output.
	CollapseSeries bool
}

// ExportResult captures a stored export and its download link.
type ExportResult struct {
	RelativePath string       `json:"-"`
	Token        string       `json:"token"`
	URL          string       `json:"url"`
	Format       ExportFormat `json:"format"`
	Blocks       int          `json:"blocks"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// ExportService renders a user's blocks as an agenda or calendar feed and stores the file
// behind a signed download link.
type ExportService struct {
	blocks  blockLister
	storage fileStorage
	signer  *storage.SignedURLSigner
	csv     csvRenderer
	pdf     pdfRenderer
	ics     icsRenderer
	cfg     ExportConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers use the defaults.
func NewExportService(blocks blockLister, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer, ics icsRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if ics == nil {
		ics = export.NewICSExporter()
	}
	return &ExportService{
		blocks:  blocks,
		storage: store,
		signer:  signer,
		csv:     csv,
		pdf:     pdf,
		ics:     ics,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Generate renders the blocks in req's window and stores the result.
func (s *ExportService) Generate(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if req.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is required")
	}
	blocks, _, err := s.blocks.List(ctx, models.BlockFilter{UserID: req.UserID, From: req.From, To: req.To})
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Agenda %s to %s", s.day(req.From), s.day(req.To.Add(-time.Nanosecond)))
	var payload []byte
	switch req.Format {
	case ExportCSV:
		payload, err = s.csv.Render(s.agenda(blocks))
	case ExportPDF:
		payload, err = s.pdf.Render(s.agenda(blocks), title)
	case ExportICS:
		payload, err = s.ics.Render(title, icsEvents(blocks, req.CollapseSeries))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", req.Format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := fmt.Sprintf("agenda_%s_%s.%s", req.From.In(s.cfg.Location).Format("20060102"), s.now().UTC().Format("20060102_150405"), req.Format)
	relPath, err := s.storage.Save(req.UserID, filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(req.UserID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("export generated", zap.String("user_id", req.UserID), zap.String("format", string(req.Format)), zap.Int("blocks", len(blocks)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/%s", prefix, token),
		Format:       req.Format,
		Blocks:       len(blocks),
		ExpiresAt:    expiresAt,
	}, nil
}

// Resolve validates a download token issued to userID and returns the stored path.
func (s *ExportService) Resolve(token, userID string) (string, error) {
	owner, relPath, _, err := s.signer.Parse(token, false)
	switch {
	case errors.Is(err, storage.ErrTokenExpired):
		return "", appErrors.Clone(appErrors.ErrNotFound, "export link expired")
	case err != nil:
		return "", appErrors.Clone(appErrors.ErrNotFound, "export not found")
	case owner != userID:
		return "", appErrors.Clone(appErrors.ErrForbidden, "export belongs to another user")
	}
	return relPath, nil
}

// Open returns a handle to a stored export.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	return file, nil
}

// Cleanup removes exports older than ttl, or the configured retention when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.RetainFor
	}
	return s.storage.CleanupOlderThan(ttl)
}

var agendaHeaders = []string{"Date", "Start", "End", "Title", "Priority", "Demand", "Status", "Repeats"}

func (s *ExportService) agenda(blocks []models.ScheduledBlock) export.Dataset {
	sorted := append([]models.ScheduledBlock(nil), blocks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })
	rows := make([]map[string]string, 0, len(sorted))
	for _, b := range sorted {
		start := b.StartTime.In(s.cfg.Location)
		end := b.EndTime.In(s.cfg.Location)
		repeats := ""
		if b.IsPartOfSeries() {
			repeats = recurrence.Describe(b.Rule())
		}
		rows = append(rows, map[string]string{
			"Date":     start.Format("2006-01-02"),
			"Start":    start.Format("15:04"),
			"End":      end.Format("15:04"),
			"Title":    b.Title,
			"Priority": string(b.Priority),
			"Demand":   string(b.DemandType),
			"Status":   string(b.Status),
			"Repeats":  repeats,
		})
	}
	return export.Dataset{
		Headers: agendaHeaders,
		Rows:    rows,
		Weights: []float64{1.2, 0.7, 0.7, 3, 1, 1, 1, 2},
	}
}

func icsEvents(blocks []models.ScheduledBlock, collapse bool) []export.Event {
	roots := make(map[string]bool)
	if collapse {
		for _, b := range blocks {
			if b.RecurrenceParentID == nil && recurrence.IsRecurring(b.Rule()) {
				roots[b.ID] = true
			}
		}
	}
	events := make([]export.Event, 0, len(blocks))
	for _, b := range blocks {
		if b.RecurrenceParentID != nil && roots[*b.RecurrenceParentID] {
			continue
		}
		ev := export.Event{
			UID:       b.ID + "@planner",
			Summary:   b.Title,
			Start:     b.StartTime,
			End:       b.EndTime,
			Completed: b.Status == models.BlockCompleted,
			Created:   b.CreatedAt,
			Updated:   b.UpdatedAt,
		}
		if b.Description != nil {
			ev.Description = *b.Description
		}
		if b.Color != nil {
			ev.Color = *b.Color
		}
		if roots[b.ID] {
			ev.RRule = recurrence.ToRRULE(b.Rule())
		}
		events = append(events, ev)
	}
	return events
}

func (s *ExportService) day(t time.Time) string {
	return t.In(s.cfg.Location).Format("2006-01-02")
}
