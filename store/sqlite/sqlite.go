// Package sqlite is the relational Store, backed by the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            INTEGER PRIMARY KEY,
	station_id    INTEGER NOT NULL,
	ref_timestamp INTEGER NOT NULL,
	records       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS gps (
	message_id   INTEGER NOT NULL,
	timestamp    INTEGER NOT NULL,
	date         TEXT    NOT NULL,
	hour         INTEGER NOT NULL,
	station_id   INTEGER NOT NULL,
	status       INTEGER NOT NULL,
	latitude     REAL    NOT NULL,
	longitude    REAL    NOT NULL,
	pdop         REAL    NOT NULL,
	fix          TEXT    NOT NULL,
	satellites   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS gps_station_ts ON gps (station_id, timestamp);
CREATE TABLE IF NOT EXISTS station_status (
	message_id      INTEGER NOT NULL,
	timestamp       INTEGER NOT NULL,
	date            TEXT    NOT NULL,
	hour            INTEGER NOT NULL,
	station_id      INTEGER NOT NULL,
	temperature     REAL    NOT NULL,
	temperature_raw INTEGER NOT NULL,
	noise_avg       INTEGER NOT NULL,
	noise_peak      INTEGER NOT NULL,
	frequency       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tag (
	message_id  INTEGER NOT NULL,
	timestamp   INTEGER NOT NULL,
	date        TEXT    NOT NULL,
	hour        INTEGER NOT NULL,
	station_id  INTEGER NOT NULL,
	code        INTEGER NOT NULL,
	protocol    TEXT    NOT NULL,
	frequency   INTEGER NOT NULL,
	tag_id      INTEGER NOT NULL,
	snr         INTEGER NOT NULL,
	millisecond INTEGER NOT NULL,
	data        REAL    NOT NULL,
	data_raw    INTEGER NOT NULL,
	data2       REAL    NOT NULL,
	data2_raw   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tag_lookup ON tag (tag_id, frequency, timestamp);
CREATE TABLE IF NOT EXISTS positions (
	timestamp   INTEGER NOT NULL,
	tag_id      INTEGER NOT NULL,
	frequency   INTEGER NOT NULL,
	cage_name   TEXT    NOT NULL,
	millisecond INTEGER NOT NULL,
	x           REAL    NOT NULL,
	y           REAL    NOT NULL,
	z           REAL    NOT NULL,
	latitude    REAL    NOT NULL,
	longitude   REAL    NOT NULL,
	UNIQUE (timestamp, tag_id, frequency)
);
CREATE TABLE IF NOT EXISTS backup (
	message_id INTEGER,
	data       TEXT NOT NULL,
	snr        REAL NOT NULL
);`

// Store is a Store over one SQLite database file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) (id int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = store.CheckRecords(msg.Records); err != nil {
		return 0, err
	}
	id, err = nextMessageID(ctx, tx)
	if err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO messages (id, station_id, ref_timestamp, records) VALUES (?, ?, ?, ?)`,
		id, msg.Header.StationID, msg.Header.ReferenceTimestamp, len(msg.Records)); err != nil {
		return 0, fmt.Errorf("sqlite: insert message: %w", err)
	}
	for _, r := range msg.Records {
		b := r.Base()
		switch rec := r.(type) {
		case *model.GPSRecord:
			_, err = tx.ExecContext(ctx, `INSERT INTO gps
				(message_id, timestamp, date, hour, station_id, status, latitude, longitude, pdop, fix, satellites)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, b.Timestamp, b.Date, b.Hour, b.StationID, rec.Status,
				rec.Latitude, rec.Longitude, rec.PDOP, rec.Fix, rec.Satellites)
		case *model.StationStatusRecord:
			_, err = tx.ExecContext(ctx, `INSERT INTO station_status
				(message_id, timestamp, date, hour, station_id, temperature, temperature_raw, noise_avg, noise_peak, frequency)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, b.Timestamp, b.Date, b.Hour, b.StationID, rec.Temperature,
				rec.RawTemperature, rec.NoiseAvg, rec.NoisePeak, rec.Frequency)
		case *model.TagDetection:
			_, err = tx.ExecContext(ctx, `INSERT INTO tag
				(message_id, timestamp, date, hour, station_id, code, protocol, frequency, tag_id, snr, millisecond, data, data_raw, data2, data2_raw)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, b.Timestamp, b.Date, b.Hour, b.StationID, rec.Code, rec.Protocol.String(),
				rec.Band, rec.TagID, rec.SNR, rec.Millisecond, rec.Data, rec.RawData, rec.Data2, rec.RawData2)
		}
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert %s: %w", r.Kind(), err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	for _, r := range msg.Records {
		r.Base().MessageID = id
	}
	return id, nil
}

func nextMessageID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var id int64 = -1
	// Record tables are included for databases written before messages
	// existed.
	queries := map[string]string{
		"messages":       "SELECT MAX(id) FROM messages",
		"gps":            "SELECT MAX(message_id) FROM gps",
		"station_status": "SELECT MAX(message_id) FROM station_status",
		"tag":            "SELECT MAX(message_id) FROM tag",
	}
	for table, q := range queries {
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx, q).Scan(&last); err != nil {
			return 0, fmt.Errorf("sqlite: last message id in %s: %w", table, err)
		}
		if last.Valid && last.Int64 > id {
			id = last.Int64
		}
	}
	return id + 1, nil
}

func (s *Store) InsertBackup(ctx context.Context, b store.Backup) error {
	var msgID sql.NullInt64
	if b.MessageID != nil {
		msgID = sql.NullInt64{Int64: *b.MessageID, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO backup (message_id, data, snr) VALUES (?, ?, ?)`,
		msgID, b.Data, b.SNR); err != nil {
		return fmt.Errorf("sqlite: insert backup: %w", err)
	}
	return nil
}

// Backups returns the stored raw frames in insertion order.
func (s *Store) Backups(ctx context.Context) ([]store.Backup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, data, snr FROM backup ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query backups: %w", err)
	}
	defer rows.Close()
	var out []store.Backup
	for rows.Next() {
		var (
			b     store.Backup
			msgID sql.NullInt64
		)
		if err := rows.Scan(&msgID, &b.Data, &b.SNR); err != nil {
			return nil, fmt.Errorf("sqlite: scan backup: %w", err)
		}
		if msgID.Valid {
			id := msgID.Int64
			b.MessageID = &id
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) TagDetections(ctx context.Context, q store.TagQuery) ([]*model.TagDetection, error) {
	where := []string{"tag_id = ?", "frequency = ?"}
	args := []any{q.TagID, q.Band}
	if q.Since != 0 {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Since)
	}
	if q.Until != 0 {
		where = append(where, "timestamp <= ?")
		args = append(args, q.Until)
	}
	if len(q.Stations) > 0 {
		where = append(where, "station_id IN (?"+strings.Repeat(", ?", len(q.Stations)-1)+")")
		for _, st := range q.Stations {
			args = append(args, st)
		}
	}
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, timestamp, date, hour, station_id, code, protocol,
		frequency, tag_id, snr, millisecond, data, data_raw, data2, data2_raw
		FROM tag WHERE `+strings.Join(where, " AND ")+` ORDER BY timestamp, millisecond`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query tags: %w", err)
	}
	defer rows.Close()

	var out []*model.TagDetection
	for rows.Next() {
		var (
			d        model.TagDetection
			protocol string
		)
		if err := rows.Scan(&d.MessageID, &d.Timestamp, &d.Date, &d.Hour, &d.StationID, &d.Code, &protocol,
			&d.Band, &d.TagID, &d.SNR, &d.Millisecond, &d.Data, &d.RawData, &d.Data2, &d.RawData2); err != nil {
			return nil, fmt.Errorf("sqlite: scan tag: %w", err)
		}
		if d.Protocol, err = model.ParseProtocol(protocol); err != nil {
			return nil, fmt.Errorf("sqlite: scan tag: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *Store) LatestStationFix(ctx context.Context, station model.StationID, maxPDOP float64) (store.StationFix, bool, error) {
	f := store.StationFix{StationID: station}
	err := s.db.QueryRowContext(ctx, `SELECT timestamp, latitude, longitude, pdop FROM gps
		WHERE station_id = ? AND fix = ? AND pdop < ?
		ORDER BY timestamp DESC, rowid DESC LIMIT 1`, station, model.FixQuality3D, maxPDOP).
		Scan(&f.Timestamp, &f.Position.Latitude, &f.Position.Longitude, &f.PDOP)
	if errors.Is(err, sql.ErrNoRows) {
		return store.StationFix{}, false, nil
	}
	if err != nil {
		return store.StationFix{}, false, fmt.Errorf("sqlite: station %d fix: %w", station, err)
	}
	return f, true, nil
}

func (s *Store) InsertFix(ctx context.Context, f model.ResolvedFix) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO positions
		(timestamp, tag_id, frequency, cage_name, millisecond, x, y, z, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (timestamp, tag_id, frequency) DO NOTHING`,
		f.Timestamp, f.TagID, f.Band, f.Cage, f.Millisecond, f.X, f.Y, f.Z, f.Latitude, f.Longitude)
	if err != nil {
		return fmt.Errorf("sqlite: insert fix: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: insert fix: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: tag %d band %d at %d", store.ErrDuplicateFix, f.TagID, f.Band, f.Timestamp)
	}
	return nil
}

func (s *Store) Fixes(ctx context.Context, q store.FixQuery) ([]model.ResolvedFix, error) {
	where := []string{"1 = 1"}
	var args []any
	if q.TagID != 0 {
		where = append(where, "tag_id = ?", "frequency = ?")
		args = append(args, q.TagID, q.Band)
	}
	if q.Since != 0 {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Since)
	}
	if q.Until != 0 {
		where = append(where, "timestamp <= ?")
		args = append(args, q.Until)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, tag_id, frequency, cage_name, millisecond,
		x, y, z, latitude, longitude FROM positions WHERE `+strings.Join(where, " AND ")+
		` ORDER BY timestamp, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query fixes: %w", err)
	}
	defer rows.Close()
	var out []model.ResolvedFix
	for rows.Next() {
		var f model.ResolvedFix
		if err := rows.Scan(&f.Timestamp, &f.TagID, &f.Band, &f.Cage, &f.Millisecond,
			&f.X, &f.Y, &f.Z, &f.Latitude, &f.Longitude); err != nil {
			return nil, fmt.Errorf("sqlite: scan fix: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
