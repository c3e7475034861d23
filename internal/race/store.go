package race

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AidStationTimes is the persisted boundary-time pair for one aid station.
type AidStationTimes struct {
	Name          string    `json:"name"`
	ArrivalTime   time.Time `json:"arrival_time"`
	DepartureTime time.Time `json:"departure_time"`
}

// Snapshot is the persisted race state: enough to rebuild the runner and the
// course element timestamps after a restart.
type Snapshot struct {
	RaceName    string
	MileMark    float64
	Pings       int
	LastPing    json.RawMessage
	AidStations []AidStationTimes
}

// Store is the persistence boundary for race state.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Restore(ctx context.Context, raceName string) (Snapshot, bool, error)
}

// PostgresStore keeps one state row per race plus an append-only ping log.
type PostgresStore struct {
	db db.Querier
}

func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{db: q}
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	aidStations, err := json.Marshal(snap.AidStations)
	if err != nil {
		return err
	}
	lastPing := snap.LastPing
	if lastPing == nil {
		lastPing = json.RawMessage(`{}`)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO race_states (race_name, mile_mark, pings, last_ping, aid_stations, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (race_name) DO UPDATE
		SET mile_mark=EXCLUDED.mile_mark, pings=EXCLUDED.pings,
		    last_ping=EXCLUDED.last_ping, aid_stations=EXCLUDED.aid_stations,
		    updated_at=EXCLUDED.updated_at
	`, snap.RaceName, snap.MileMark, snap.Pings, lastPing, aidStations, time.Now())
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO ping_log (id, race_name, payload, received_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), snap.RaceName, lastPing, time.Now())
	return err
}

func (s *PostgresStore) Restore(ctx context.Context, raceName string) (Snapshot, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT mile_mark, pings, last_ping, aid_stations
		FROM race_states WHERE race_name=$1
	`, raceName)

	var snap Snapshot
	var aidStations []byte
	snap.RaceName = raceName
	if err := row.Scan(&snap.MileMark, &snap.Pings, &snap.LastPing, &aidStations); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	if len(aidStations) > 0 {
		if err := json.Unmarshal(aidStations, &snap.AidStations); err != nil {
			return Snapshot{}, false, err
		}
	}
	return snap, true, nil
}
