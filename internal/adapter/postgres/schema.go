package postgres

// Schema statements, applied in order by Migrate. All are idempotent.
//
// observations.station_code references stations with a deferred constraint:
// a partition's rows are copied before the commit upserts the stations their
// headers described.
const (
	createStationsTable = `
CREATE TABLE IF NOT EXISTS stations (
	code         TEXT PRIMARY KEY CHECK (code ~ '^[A-Z][0-9]{3}$'),
	name         TEXT NOT NULL,
	region       TEXT NOT NULL,
	state        CHAR(2) NOT NULL,
	latitude     DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
	longitude    DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
	elevation    DOUBLE PRECISION NOT NULL,
	installed_on DATE NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	createObservationsTable = `
CREATE TABLE IF NOT EXISTS observations (
	year           SMALLINT NOT NULL,
	seq            INTEGER NOT NULL,
	station_code   TEXT NOT NULL REFERENCES stations (code) DEFERRABLE INITIALLY DEFERRED,
	observed_at    TIMESTAMPTZ NOT NULL,
	temperature    DOUBLE PRECISION,
	dew_point      DOUBLE PRECISION,
	humidity       DOUBLE PRECISION,
	pressure       DOUBLE PRECISION,
	wind_speed     DOUBLE PRECISION,
	wind_gust      DOUBLE PRECISION,
	wind_direction DOUBLE PRECISION,
	precipitation  DOUBLE PRECISION,
	radiation      DOUBLE PRECISION,
	PRIMARY KEY (station_code, observed_at)
)`

	createObservationsYearIndex = `
CREATE INDEX IF NOT EXISTS observations_year_seq_idx ON observations (year, seq)`

	createManifestsTable = `
CREATE TABLE IF NOT EXISTS run_manifests (
	run_id            UUID PRIMARY KEY,
	year              SMALLINT NOT NULL,
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ NOT NULL,
	rows_seen         BIGINT NOT NULL,
	accepted          BIGINT NOT NULL,
	rejected          BIGINT NOT NULL,
	by_reason         JSONB NOT NULL,
	checksum          TEXT NOT NULL,
	stations          INTEGER NOT NULL,
	source_files      INTEGER NOT NULL,
	rejects           JSONB NOT NULL,
	rejects_truncated BOOLEAN NOT NULL DEFAULT false
)`

	createManifestsYearIndex = `
CREATE INDEX IF NOT EXISTS run_manifests_year_idx ON run_manifests (year, finished_at)`
)

var migrations = []string{
	createStationsTable,
	createObservationsTable,
	createObservationsYearIndex,
	createManifestsTable,
	createManifestsYearIndex,
}

// observationColumns is the COPY column order; it matches observationRow.
var observationColumns = []string{
	"year", "seq", "station_code", "observed_at",
	"temperature", "dew_point", "humidity", "pressure",
	"wind_speed", "wind_gust", "wind_direction", "precipitation", "radiation",
}

const (
	upsertStation = `
INSERT INTO stations (code, name, region, state, latitude, longitude, elevation, installed_on, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (code) DO UPDATE SET
	name = EXCLUDED.name,
	region = EXCLUDED.region,
	state = EXCLUDED.state,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	elevation = EXCLUDED.elevation,
	installed_on = EXCLUDED.installed_on,
	updated_at = now()`

	insertManifest = `
INSERT INTO run_manifests (run_id, year, started_at, finished_at, rows_seen, accepted, rejected,
	by_reason, checksum, stations, source_files, rejects, rejects_truncated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	selectStations = `
SELECT code, name, region, state, latitude, longitude, elevation, installed_on
FROM stations ORDER BY code`

	selectPartition = `
SELECT station_code, observed_at, temperature, dew_point, humidity, pressure,
	wind_speed, wind_gust, wind_direction, precipitation, radiation
FROM observations WHERE year = $1 ORDER BY seq`

	selectManifests = `
SELECT run_id, year, started_at, finished_at, rows_seen, accepted, rejected,
	by_reason, checksum, stations, source_files, rejects, rejects_truncated
FROM run_manifests WHERE ($1 = 0 OR year = $1) ORDER BY finished_at, run_id`

	deletePartition = `DELETE FROM observations WHERE year = $1`

	// partitionLockClass namespaces the advisory locks taken per year.
	partitionLockClass = 0x494E4D45 // "INME"
	tryPartitionLock   = `SELECT pg_try_advisory_xact_lock($1, $2)`
)
