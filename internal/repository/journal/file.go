package journal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/oshokin/drowsy-alarm/internal/config"
	domain "github.com/oshokin/drowsy-alarm/internal/domain/alarm"
)

// Repository defines persistence operations for incidents.
type Repository interface {
	Append(ctx context.Context, incident *domain.Incident) error
	Load(ctx context.Context) ([]*domain.Incident, error)
}

// FileRepository stores incidents as JSON Lines on disk.
type FileRepository struct {
	// path is the filesystem location of the journal.
	path string
	// mu serialises appends and reads within the process.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the journal file does not exist yet.
	ErrNotFound = errors.New("journal not found")
	// errNilIncident is returned when Append is called without an incident.
	errNilIncident = errors.New("incident is nil")
)

// maxLineSize bounds a single journal record.
const maxLineSize = 64 * 1024

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// record is the on-disk shape of an incident.
type record struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id,omitempty"`
	ClosedAt    time.Time  `json:"closed_at"`
	AlarmedAt   time.Time  `json:"alarmed_at"`
	RecoveredAt *time.Time `json:"recovered_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	Outcome     string     `json:"outcome"`
	Error       string     `json:"error,omitempty"`
}

// NewFileRepository creates a repository that appends to the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the journal location.
func (r *FileRepository) Path() string {
	return r.path
}

// Append writes incident as the last line of the journal, creating the file
// and its directory when needed.
func (r *FileRepository) Append(ctx context.Context, incident *domain.Incident) error {
	if incident == nil {
		return errNilIncident
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(toRecord(incident))
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}

	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "." {
		if err = os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create journal directory: %w", err)
		}
	}

	file, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	if _, err = file.Write(data); err != nil {
		_ = file.Close()

		return fmt.Errorf("write journal: %w", err)
	}

	if err = file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}

	return nil
}

// Load reads every incident in the order they were appended.
// Blank lines are skipped; a malformed line fails the whole read.
func (r *FileRepository) Load(_ context.Context) ([]*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read journal: %w", err)
	}

	var (
		incidents []*domain.Incident
		scanner   = bufio.NewScanner(bytes.NewReader(contents))
		line      int
	)

	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)

	for scanner.Scan() {
		line++

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec record
		if err = json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode journal line %d: %w", line, err)
		}

		incidents = append(incidents, fromRecord(&rec))
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	return incidents, nil
}

// toRecord converts a domain incident into its journal record.
func toRecord(incident *domain.Incident) *record {
	rec := &record{
		ID:         incident.ID,
		SessionID:  incident.SessionID,
		ClosedAt:   incident.ClosedAt.UTC(),
		AlarmedAt:  incident.AlarmedAt.UTC(),
		DurationMS: incident.Duration().Milliseconds(),
		Outcome:    string(incident.Outcome),
		Error:      incident.Error,
	}

	if !incident.RecoveredAt.IsZero() {
		recovered := incident.RecoveredAt.UTC()
		rec.RecoveredAt = &recovered
	}

	return rec
}

// fromRecord converts a journal record into the domain incident.
func fromRecord(rec *record) *domain.Incident {
	incident := &domain.Incident{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		ClosedAt:  rec.ClosedAt,
		AlarmedAt: rec.AlarmedAt,
		Outcome:   domain.Outcome(rec.Outcome),
		Error:     rec.Error,
	}

	if rec.RecoveredAt != nil {
		incident.RecoveredAt = *rec.RecoveredAt
	}

	return incident
}
