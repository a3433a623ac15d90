package risk

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS threat_ip_entries (
		ip_address TEXT NOT NULL,
		category   TEXT NOT NULL CHECK (category IN ('suspicious', 'malicious')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (ip_address, category)
	)`,
	`CREATE TABLE IF NOT EXISTS threat_geo_zones (
		id         BIGSERIAL PRIMARY KEY,
		kind       TEXT NOT NULL CHECK (kind IN ('blocked', 'high_risk')),
		city       TEXT NOT NULL,
		country    TEXT NOT NULL,
		latitude   DOUBLE PRECISION NOT NULL,
		longitude  DOUBLE PRECISION NOT NULL,
		radius_km  DOUBLE PRECISION NOT NULL CHECK (radius_km > 0),
		risk_level TEXT NOT NULL DEFAULT '',
		reason     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threat_geo_zones_kind ON threat_geo_zones(kind)`,
}

// PostgresSource reads threat intelligence maintained in the shared database
type PostgresSource struct {
	pool    *pgxpool.Pool
	builder sq.StatementBuilderType
}

// NewPostgresSource creates a PostgresSource over a pgx pool
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{
		pool:    pool,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Name returns the source name
func (s *PostgresSource) Name() string { return "postgres" }

// EnsureSchema creates the threat intel tables if they do not exist
func (s *PostgresSource) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return apperrors.DatabaseError("create threat intel schema", err)
		}
	}
	return nil
}

// Load reads both tables and validates the result
func (s *PostgresSource) Load(ctx context.Context) (*ThreatIntel, error) {
	var acc intelRows

	query, args, err := selectIPEntries(s.builder).ToSql()
	if err != nil {
		return nil, apperrors.Internal("build threat ip query", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ThreatIntelUnavailable(s.Name(), err)
	}
	for rows.Next() {
		var ip, category string
		if err := rows.Scan(&ip, &category); err != nil {
			rows.Close()
			return nil, apperrors.ThreatIntelUnavailable(s.Name(), err)
		}
		if err := acc.addIP(ip, category); err != nil {
			rows.Close()
			return nil, apperrors.Configuration("malformed threat ip entry", err)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.ThreatIntelUnavailable(s.Name(), err)
	}

	query, args, err = selectZones(s.builder).ToSql()
	if err != nil {
		return nil, apperrors.Internal("build threat zone query", err)
	}
	rows, err = s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ThreatIntelUnavailable(s.Name(), err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var z ZoneConfig
		if err := rows.Scan(&kind, &z.City, &z.Country, &z.Latitude, &z.Longitude, &z.RadiusKm, &z.RiskLevel, &z.Reason); err != nil {
			return nil, apperrors.ThreatIntelUnavailable(s.Name(), err)
		}
		if err := acc.addZone(kind, z); err != nil {
			return nil, apperrors.Configuration("malformed threat geo zone", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ThreatIntelUnavailable(s.Name(), err)
	}

	return acc.build(s.Name())
}

// Replace validates cfg and swaps the stored threat intelligence in one transaction
func (s *PostgresSource) Replace(ctx context.Context, cfg ThreatIntelConfig) error {
	intel, err := NewThreatIntel(cfg)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		stmts := append(deleteStatements(s.builder), insertStatements(s.builder, intel.Config())...)
		for _, stmt := range stmts {
			query, args, err := stmt.ToSql()
			if err != nil {
				return apperrors.Internal("build threat intel statement", err)
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return apperrors.DatabaseError("replace threat intel", err)
			}
		}
		return nil
	})
}
