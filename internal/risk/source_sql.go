package risk

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

const (
	ipEntriesTable = "threat_ip_entries"
	geoZonesTable  = "threat_geo_zones"

	categorySuspicious = "suspicious"
	categoryMalicious  = "malicious"

	zoneKindBlocked  = "blocked"
	zoneKindHighRisk = "high_risk"
)

var zoneColumns = []string{"kind", "city", "country", "latitude", "longitude", "radius_km", "risk_level", "reason"}

func selectIPEntries(b sq.StatementBuilderType) sq.SelectBuilder {
	return b.Select("ip_address", "category").From(ipEntriesTable).OrderBy("ip_address")
}

func selectZones(b sq.StatementBuilderType) sq.SelectBuilder {
	return b.Select(zoneColumns...).From(geoZonesTable).OrderBy("id")
}

// insertStatements builds the inserts that store cfg. cfg must be normalized.
func insertStatements(b sq.StatementBuilderType, cfg ThreatIntelConfig) []sq.Sqlizer {
	var stmts []sq.Sqlizer

	if len(cfg.SuspiciousIPs)+len(cfg.MaliciousIPs) > 0 {
		ins := b.Insert(ipEntriesTable).Columns("ip_address", "category")
		for _, ip := range cfg.SuspiciousIPs {
			ins = ins.Values(ip, categorySuspicious)
		}
		for _, ip := range cfg.MaliciousIPs {
			ins = ins.Values(ip, categoryMalicious)
		}
		stmts = append(stmts, ins)
	}

	addZones := func(kind string, zones []ZoneConfig) {
		if len(zones) == 0 {
			return
		}
		ins := b.Insert(geoZonesTable).Columns(zoneColumns...)
		for _, z := range zones {
			ins = ins.Values(kind, z.City, z.Country, z.Latitude, z.Longitude, z.RadiusKm, z.RiskLevel, z.Reason)
		}
		stmts = append(stmts, ins)
	}
	addZones(zoneKindBlocked, cfg.BlockedZones)
	addZones(zoneKindHighRisk, cfg.HighRiskZones)

	return stmts
}

func deleteStatements(b sq.StatementBuilderType) []sq.Sqlizer {
	return []sq.Sqlizer{b.Delete(ipEntriesTable), b.Delete(geoZonesTable)}
}

// intelRows accumulates scanned rows into a ThreatIntelConfig
type intelRows struct {
	cfg ThreatIntelConfig
}

func (r *intelRows) addIP(ip, category string) error {
	switch category {
	case categorySuspicious:
		r.cfg.SuspiciousIPs = append(r.cfg.SuspiciousIPs, ip)
	case categoryMalicious:
		r.cfg.MaliciousIPs = append(r.cfg.MaliciousIPs, ip)
	default:
		return fmt.Errorf("unknown ip category %q for %s", category, ip)
	}
	return nil
}

func (r *intelRows) addZone(kind string, z ZoneConfig) error {
	switch kind {
	case zoneKindBlocked:
		r.cfg.BlockedZones = append(r.cfg.BlockedZones, z)
	case zoneKindHighRisk:
		r.cfg.HighRiskZones = append(r.cfg.HighRiskZones, z)
	default:
		return fmt.Errorf("unknown zone kind %q for %s", kind, z.City)
	}
	return nil
}

func (r *intelRows) build(source string) (*ThreatIntel, error) {
	cfg := r.cfg
	if len(cfg.SuspiciousIPs)+len(cfg.MaliciousIPs)+len(cfg.BlockedZones)+len(cfg.HighRiskZones) == 0 {
		return nil, apperrors.ThreatIntelUnavailable(source, nil).WithDetails("threat intel tables are empty")
	}
	return NewThreatIntel(cfg)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threat_ip_entries (
	ip_address TEXT NOT NULL,
	category   TEXT NOT NULL CHECK (category IN ('suspicious', 'malicious')),
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (ip_address, category)
);
CREATE TABLE IF NOT EXISTS threat_geo_zones (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL CHECK (kind IN ('blocked', 'high_risk')),
	city       TEXT NOT NULL,
	country    TEXT NOT NULL,
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	radius_km  REAL NOT NULL,
	risk_level TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteSource reads threat intelligence from a local SQLite database,
// for deployments without shared infrastructure.
type SQLiteSource struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewSQLiteSource creates a SQLiteSource over an open database
func NewSQLiteSource(db *sql.DB) *SQLiteSource {
	return &SQLiteSource{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db),
	}
}

// Name returns the source name
func (s *SQLiteSource) Name() string { return "sqlite" }

// EnsureSchema creates the threat intel tables if they do not exist
func (s *SQLiteSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return apperrors.DatabaseError("create threat intel schema", err)
	}
	return nil
}

// Load reads both tables and validates the result
func (s *SQLiteSource) Load(ctx context.Context) (*ThreatIntel, error) {
	var acc intelRows

	rows, err := selectIPEntries(s.builder).QueryContext(ctx)
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

	rows, err = selectZones(s.builder).QueryContext(ctx)
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
func (s *SQLiteSource) Replace(ctx context.Context, cfg ThreatIntelConfig) error {
	intel, err := NewThreatIntel(cfg)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError("begin threat intel replace", err)
	}
	defer tx.Rollback() //nolint:errcheck

	b := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	stmts := append(deleteStatements(b), insertStatements(b, intel.Config())...)
	for _, stmt := range stmts {
		query, args, err := stmt.ToSql()
		if err != nil {
			return apperrors.Internal("build threat intel statement", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return apperrors.DatabaseError("replace threat intel", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseError("commit threat intel replace", err)
	}
	return nil
}
