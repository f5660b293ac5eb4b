package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ride-lifecycle/internal/models"
)

const rideColumns = `id, status, state_version, requester_id, fulfiller_id,
	pickup_lat, pickup_lng, pickup_addr, drop_lat, drop_lng, drop_addr,
	fare_estimate, created_at, updated_at`

// PostgresStore implements RideStore on top of database/sql. The
// compare-and-swap lives entirely in the UPDATE predicate, so no explicit
// locking or transaction is needed for single-row transitions.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Get(ctx context.Context, id int64) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

func (p *PostgresStore) Insert(ctx context.Context, n NewRide) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO rides (status, state_version, requester_id, pickup_lat, pickup_lng, pickup_addr, drop_lat, drop_lng, drop_addr, fare_estimate)
		VALUES ($1, 0, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+rideColumns,
		models.StatusRequested, n.RequesterID,
		n.PickupLat, n.PickupLng, n.PickupAddr,
		n.DropLat, n.DropLng, n.DropAddr,
		n.FareEstimate,
	)
	r, err := scanRide(row)
	if err != nil {
		var pqErr *pq.Error
		// unique_violation on the partial active-ride index
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrActiveRideExists
		}
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) ConditionalUpdate(ctx context.Context, id int64, expectedStatus models.RideStatus, expectedVersion int64, patch Patch) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides
		SET status = $1,
		    fulfiller_id = COALESCE($2, fulfiller_id),
		    state_version = state_version + 1,
		    updated_at = now()
		WHERE id = $3
		  AND status = $4
		  AND state_version = $5
		  AND ($2::bigint IS NULL OR fulfiller_id IS NULL)`,
		patch.NextStatus, patch.FulfillerID, id, expectedStatus, expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresStore) FindActiveForRequester(ctx context.Context, requesterID int64) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE requester_id = $1 AND status = ANY($2)
		ORDER BY id DESC LIMIT 1`,
		requesterID, statusArray(models.ActiveStatuses),
	)
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresStore) FindActiveForFulfiller(ctx context.Context, fulfillerID int64) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE fulfiller_id = $1 AND status = ANY($2)
		ORDER BY id DESC LIMIT 1`,
		fulfillerID, statusArray([]models.RideStatus{models.StatusAccepted, models.StatusArrived, models.StatusStarted}),
	)
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresStore) ListOpen(ctx context.Context, limit int) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE status = $1
		ORDER BY id ASC LIMIT $2`,
		models.StatusRequested, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Ride, 0, limit)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertVisibility(ctx context.Context, rideID, fulfillerID int64, state models.VisibilityState) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ride_visibility (ride_id, fulfiller_id, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (ride_id, fulfiller_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		rideID, fulfillerID, state,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var fulfiller sql.NullInt64
	var pickupAddr, dropAddr sql.NullString
	err := row.Scan(
		&r.ID, &r.Status, &r.StateVersion, &r.RequesterID, &fulfiller,
		&r.PickupLat, &r.PickupLng, &pickupAddr,
		&r.DropLat, &r.DropLng, &dropAddr,
		&r.FareEstimate, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ride: %w", err)
	}
	if fulfiller.Valid {
		r.FulfillerID = &fulfiller.Int64
	}
	if pickupAddr.Valid {
		r.PickupAddr = &pickupAddr.String
	}
	if dropAddr.Valid {
		r.DropAddr = &dropAddr.String
	}
	return &r, nil
}

func statusArray(statuses []models.RideStatus) pq.StringArray {
	arr := make(pq.StringArray, len(statuses))
	for i, s := range statuses {
		arr[i] = string(s)
	}
	return arr
}
