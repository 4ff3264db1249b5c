package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
//
// Quantities of request items and ledger holds are decimal strings
// (e.g. "2.5"); batch counters are whole units.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL CHECK (role IN ('admin', 'provider', 'volunteer', 'shelter')),
    created_at    DATETIME NOT NULL,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
    id                 TEXT PRIMARY KEY,
    provider_id        TEXT NOT NULL,
    product_kind       TEXT NOT NULL,
    description        TEXT,
    quantity_total     INTEGER NOT NULL CHECK (quantity_total > 0),
    quantity_available INTEGER NOT NULL CHECK (quantity_available >= 0 AND quantity_available <= quantity_total),
    status             TEXT NOT NULL CHECK (status IN ('PRODUCING', 'READY', 'PARTIALLY_RESERVED', 'FULLY_RESERVED', 'EXPIRED', 'CANCELLED')),
    created_at         DATETIME NOT NULL,
    ready_at           DATETIME,
    expires_at         DATETIME NOT NULL,
    pickup_deadline    DATETIME,
    closed_at          DATETIME
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);

CREATE TABLE IF NOT EXISTS resource_requests (
    id           TEXT PRIMARY KEY,
    requester_id TEXT NOT NULL,
    kind         TEXT NOT NULL CHECK (kind IN ('meal', 'ingredient')),
    notes        TEXT,
    status       TEXT NOT NULL CHECK (status IN ('REQUESTING', 'PARTIALLY_FULFILLED', 'COMPLETED', 'CANCELLED', 'EXPIRED')),
    created_at   DATETIME NOT NULL,
    window_start DATETIME,
    window_end   DATETIME,
    closed_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_resource_requests_status ON resource_requests(status);

CREATE TABLE IF NOT EXISTS request_items (
    id                TEXT PRIMARY KEY,
    request_id        TEXT NOT NULL REFERENCES resource_requests(id),
    position          INTEGER NOT NULL,
    name              TEXT NOT NULL,
    unit              TEXT NOT NULL,
    quantity          TEXT NOT NULL,
    quantity_reserved TEXT NOT NULL DEFAULT '0',
    version           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_request_items_request ON request_items(request_id);

CREATE TABLE IF NOT EXISTS holds (
    id          TEXT PRIMARY KEY,
    parent_kind TEXT NOT NULL CHECK (parent_kind IN ('batch', 'request_item')),
    parent_id   TEXT NOT NULL,
    quantity    TEXT NOT NULL,
    state       TEXT NOT NULL CHECK (state IN ('held', 'released', 'depleted')),
    created_at  DATETIME NOT NULL,
    settled_at  DATETIME
);

CREATE TABLE IF NOT EXISTS deliveries (
    id                  TEXT PRIMARY KEY,
    batch_id            TEXT NOT NULL REFERENCES batches(id),
    hold_id             TEXT NOT NULL REFERENCES holds(id),
    location_id         TEXT NOT NULL,
    volunteer_id        TEXT,
    quantity            INTEGER NOT NULL CHECK (quantity > 0),
    status              TEXT NOT NULL CHECK (status IN ('RESERVED', 'PICKED_UP', 'IN_TRANSIT', 'DELIVERED', 'CANCELLED', 'EXPIRED')),
    pickup_code         TEXT NOT NULL,
    delivery_code       TEXT NOT NULL,
    reserved_at         DATETIME NOT NULL,
    pickup_confirmed_at DATETIME,
    in_transit_at       DATETIME,
    delivered_at        DATETIME,
    closed_at           DATETIME,
    cancel_reason       TEXT
);

CREATE INDEX IF NOT EXISTS idx_deliveries_batch ON deliveries(batch_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status);

CREATE TABLE IF NOT EXISTS resource_reservations (
    id            TEXT PRIMARY KEY,
    request_id    TEXT NOT NULL REFERENCES resource_requests(id),
    volunteer_id  TEXT,
    status        TEXT NOT NULL CHECK (status IN ('RESERVED', 'IN_TRANSIT', 'DELIVERED', 'CANCELLED', 'EXPIRED')),
    delivery_code TEXT NOT NULL,
    reserved_at   DATETIME NOT NULL,
    in_transit_at DATETIME,
    delivered_at  DATETIME,
    closed_at     DATETIME,
    cancel_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_resource_reservations_request ON resource_reservations(request_id);
CREATE INDEX IF NOT EXISTS idx_resource_reservations_status ON resource_reservations(status);

CREATE TABLE IF NOT EXISTS reservation_items (
    reservation_id TEXT NOT NULL REFERENCES resource_reservations(id),
    item_id        TEXT NOT NULL REFERENCES request_items(id),
    hold_id        TEXT NOT NULL REFERENCES holds(id),
    quantity       TEXT NOT NULL,
    PRIMARY KEY (reservation_id, item_id)
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
