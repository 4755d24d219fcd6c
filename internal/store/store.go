package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/plantwatch/internal/metrics"
	"github.com/lox/plantwatch/internal/models"
)

// RetentionPeriod is how long readings are kept before PruneReadings drops them.
const RetentionPeriod = 30 * 24 * time.Hour

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) a SQLite database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	s := New(db)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const readingColumns = `soil_moisture, soil_temperature, humidity, ambient_temperature, light_intensity, soil_ph, nitrogen, phosphorus, potassium, chlorophyll, ec_signal`

func (s *Store) InsertReading(ctx context.Context, plantID int, observedAt time.Time, r models.Reading, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_readings (plant_id, observed_at, source, `+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plant_id, observed_at, source) DO NOTHING
	`, plantID, observedAt.UTC(), source,
		r.SoilMoisture, r.SoilTemperature, r.Humidity, r.AmbientTemperature, r.LightIntensity,
		r.SoilPH, r.Nitrogen, r.Phosphorus, r.Potassium, r.Chlorophyll, r.ECSignal)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// RecordReading stores a pushed sensor update.
func (s *Store) RecordReading(ctx context.Context, u models.SensorUpdate) error {
	observedAt := u.Timestamp.Time
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	if err := s.InsertReading(ctx, u.PlantID, observedAt, u.Readings, "push"); err != nil {
		return err
	}
	metrics.ReadingsArchived.WithLabelValues("sqlite").Inc()
	return nil
}

func scanRecord(sc interface{ Scan(...any) error }) (models.ReadingRecord, error) {
	var rec models.ReadingRecord
	r := &rec.Reading
	err := sc.Scan(&rec.ID, &rec.PlantID, &rec.ObservedAt, &rec.Source,
		&r.SoilMoisture, &r.SoilTemperature, &r.Humidity, &r.AmbientTemperature, &r.LightIntensity,
		&r.SoilPH, &r.Nitrogen, &r.Phosphorus, &r.Potassium, &r.Chlorophyll, &r.ECSignal,
		&rec.CreatedAt)
	return rec, err
}

// GetReadings returns a plant's readings in [start, end], oldest first.
func (s *Store) GetReadings(plantID int, start, end time.Time) ([]models.ReadingRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, plant_id, observed_at, source, `+readingColumns+`, created_at
		FROM sensor_readings
		WHERE plant_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`, plantID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ReadingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetLatestReading returns nil when the plant has no readings.
func (s *Store) GetLatestReading(plantID int) (*models.ReadingRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, plant_id, observed_at, source, `+readingColumns+`, created_at
		FROM sensor_readings
		WHERE plant_id = ?
		ORDER BY observed_at DESC
		LIMIT 1
	`, plantID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PruneReadings deletes readings observed before cutoff and returns how many
// were removed.
func (s *Store) PruneReadings(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sensor_readings WHERE observed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) RecordPushEvent(ctx context.Context, kind string, plantID int, applied bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_events (received_at, kind, plant_id, applied)
		VALUES (?, ?, ?, ?)
	`, time.Now().UTC(), kind, plantID, applied)
	if err != nil {
		return fmt.Errorf("insert push event: %w", err)
	}
	return nil
}

// PushEventCount summarises push events of one kind.
type PushEventCount struct {
	Kind      string `json:"kind"`
	Applied   int    `json:"applied"`
	Discarded int    `json:"discarded"`
}

// PushEventCounts returns per-kind totals for events received since the given time.
func (s *Store) PushEventCounts(since time.Time) ([]PushEventCount, error) {
	rows, err := s.db.Query(`
		SELECT kind,
		       SUM(CASE WHEN applied THEN 1 ELSE 0 END),
		       SUM(CASE WHEN applied THEN 0 ELSE 1 END)
		FROM push_events
		WHERE received_at >= ?
		GROUP BY kind
		ORDER BY kind
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []PushEventCount
	for rows.Next() {
		var c PushEventCount
		if err := rows.Scan(&c.Kind, &c.Applied, &c.Discarded); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// PruneLoop drops expired readings once at start and then every interval
// until ctx is done.
func (s *Store) PruneLoop(ctx context.Context, interval time.Duration, logf func(string, ...any)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := s.PruneReadings(time.Now().Add(-RetentionPeriod))
		switch {
		case err != nil:
			logf("store: prune readings: %v", err)
		case n > 0:
			logf("store: pruned %d readings older than %s", n, RetentionPeriod)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
