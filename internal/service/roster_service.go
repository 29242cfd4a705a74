package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/export"
)

type rosterStore interface {
	ListRecords(ctx context.Context) ([]models.AttendanceRecord, error)
	WatchRecords(ctx context.Context) (<-chan models.RecordChange, error)
}

// Export formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

var rosterHeaders = []string{"No", "Name", "Registration Number", "Distance (m)", "Time", "Photo"}

// ExportFile is a rendered roster document.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// RosterService projects the record collection into an ordered roster.
type RosterService struct {
	store     rosterStore
	exporters map[string]export.Exporter
	location  *time.Location
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewRosterService constructs a RosterService. loc controls the time zone
// used in exported documents.
func NewRosterService(store rosterStore, loc *time.Location, metrics *MetricsService, logger *zap.Logger) *RosterService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{
		store: store,
		exporters: map[string]export.Exporter{
			FormatCSV: export.NewCSVExporter(),
			FormatPDF: export.NewPDFExporter(map[string]float64{"No": 0.6, "Name": 2.2, "Registration Number": 1.6, "Distance (m)": 1, "Time": 1.6, "Photo": 2}),
		},
		location: loc,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Snapshot returns every record, newest first.
func (s *RosterService) Snapshot(ctx context.Context) (*models.Roster, error) {
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "")
	}
	return newRoster(records), nil
}

// Follow subscribes to the record collection. The first event is a
// snapshot; afterwards exactly one entry event is delivered per record
// added after the subscription started. A bulk removal yields a reset event.
func (s *RosterService) Follow(ctx context.Context) (<-chan models.RosterEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	changes, err := s.store.WatchRecords(ctx)
	if err != nil {
		cancel()
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "")
	}
	baseline, err := s.store.ListRecords(ctx)
	if err != nil {
		cancel()
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "")
	}

	roster := newRoster(baseline)
	seen := make(map[string]struct{}, len(baseline))
	for _, rec := range baseline {
		seen[rec.ID] = struct{}{}
	}

	out := make(chan models.RosterEvent, 1)
	s.metrics.TrackSubscriber("roster", 1)
	go func() {
		defer cancel()
		defer close(out)
		defer s.metrics.TrackSubscriber("roster", -1)

		count := roster.Count
		send := func(ev models.RosterEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(models.RosterEvent{Type: models.RosterEventSnapshot, Roster: roster, Count: count}) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				switch change.Kind {
				case models.RecordAdded:
					if change.Record == nil {
						continue
					}
					// Records appended between subscribe and the baseline
					// read arrive twice.
					if _, dup := seen[change.Record.ID]; dup {
						continue
					}
					seen[change.Record.ID] = struct{}{}
					count++
					if !send(models.RosterEvent{Type: models.RosterEventEntry, Record: change.Record, Count: count}) {
						return
					}
				case models.RecordsCleared:
					seen = make(map[string]struct{})
					count = 0
					if !send(models.RosterEvent{Type: models.RosterEventReset, Roster: &models.Roster{Records: []models.AttendanceRecord{}}}) {
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// Export renders the roster in the requested format.
func (s *RosterService) Export(ctx context.Context, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	exporter, ok := s.exporters[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	roster, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	generated := s.now().In(s.location)
	data := export.Dataset{
		Title: "Attendance",
		Notes: []string{
			fmt.Sprintf("Generated %s", generated.Format("2006-01-02 15:04 MST")),
			fmt.Sprintf("Total %d", roster.Count),
		},
		Headers: rosterHeaders,
		Rows:    make([]map[string]string, 0, len(roster.Records)),
	}
	for i, rec := range roster.Records {
		data.Rows = append(data.Rows, map[string]string{
			"No":                  strconv.Itoa(i + 1),
			"Name":                rec.Name,
			"Registration Number": rec.RegistrationNumber,
			"Distance (m)":        strconv.Itoa(rec.DistanceMeters),
			"Time":                rec.Timestamp.In(s.location).Format("2006-01-02 15:04:05"),
			"Photo":               rec.PhotoURL,
		})
	}

	payload, err := exporter.Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster export")
	}
	s.logger.Info("roster exported", zap.String("format", format), zap.Int("records", roster.Count))
	return &ExportFile{
		Filename:    fmt.Sprintf("attendance_%s.%s", generated.Format("20060102_150405"), exporter.Extension()),
		ContentType: exporter.ContentType(),
		Data:        payload,
	}, nil
}

func newRoster(records []models.AttendanceRecord) *models.Roster {
	sorted := make([]models.AttendanceRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	return &models.Roster{Records: sorted, Count: len(sorted)}
}
