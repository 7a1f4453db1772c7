package store

import (
	"database/sql"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

type sqliteGrace struct{ conn *sql.DB }

func (s *sqliteGrace) Get(asset domain.Asset) (domain.GracePosition, bool) {
	var p domain.GracePosition
	var startUnix int64
	err := s.conn.QueryRow(`
		SELECT asset, start_date, original_size, original_score, current_size, days_elapsed
		FROM grace_positions WHERE asset = ?
	`, string(asset)).Scan(&p.Asset, &startUnix, &p.OriginalSize, &p.OriginalScore, &p.CurrentSize, &p.DaysElapsed)
	if err == sql.ErrNoRows {
		return domain.GracePosition{}, false
	}
	if err != nil {
		return domain.GracePosition{}, false
	}
	p.StartDate = time.Unix(startUnix, 0).UTC()
	return p, true
}

func (s *sqliteGrace) Set(pos domain.GracePosition) {
	_, err := s.conn.Exec(`
		INSERT INTO grace_positions (asset, start_date, original_size, original_score, current_size, days_elapsed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset) DO UPDATE SET
			start_date=excluded.start_date, original_size=excluded.original_size,
			original_score=excluded.original_score, current_size=excluded.current_size,
			days_elapsed=excluded.days_elapsed
	`, string(pos.Asset), pos.StartDate.Unix(), pos.OriginalSize, pos.OriginalScore, pos.CurrentSize, pos.DaysElapsed)
	_ = err // best-effort persistence mirrors the in-memory store's no-error contract
}

func (s *sqliteGrace) Delete(asset domain.Asset) {
	_, _ = s.conn.Exec(`DELETE FROM grace_positions WHERE asset = ?`, string(asset))
}

func (s *sqliteGrace) All() []domain.GracePosition {
	rows, err := s.conn.Query(`
		SELECT asset, start_date, original_size, original_score, current_size, days_elapsed
		FROM grace_positions ORDER BY asset
	`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []domain.GracePosition
	for rows.Next() {
		var p domain.GracePosition
		var startUnix int64
		if err := rows.Scan(&p.Asset, &startUnix, &p.OriginalSize, &p.OriginalScore, &p.CurrentSize, &p.DaysElapsed); err != nil {
			continue
		}
		p.StartDate = time.Unix(startUnix, 0).UTC()
		out = append(out, p)
	}
	return out
}

type sqliteHolding struct{ conn *sql.DB }

func (s *sqliteHolding) Get(asset domain.Asset) (domain.PositionAge, bool) {
	var a domain.PositionAge
	var entryUnix, adjUnix int64
	var overrideUnix sql.NullInt64
	var hasOverride int
	err := s.conn.QueryRow(`
		SELECT asset, entry_date, last_adjustment, last_regime_override, entry_size, adjustment_count, has_regime_override
		FROM holding_ages WHERE asset = ?
	`, string(asset)).Scan(&a.Asset, &entryUnix, &adjUnix, &overrideUnix, &a.EntrySize, &a.AdjustmentCount, &hasOverride)
	if err != nil {
		return domain.PositionAge{}, false
	}
	a.EntryDate = time.Unix(entryUnix, 0).UTC()
	a.LastAdjustment = time.Unix(adjUnix, 0).UTC()
	if overrideUnix.Valid {
		a.LastRegimeOverride = time.Unix(overrideUnix.Int64, 0).UTC()
	}
	a.HasRegimeOverride = hasOverride != 0
	return a, true
}

func (s *sqliteHolding) Set(age domain.PositionAge) {
	var overrideUnix interface{}
	if !age.LastRegimeOverride.IsZero() {
		overrideUnix = age.LastRegimeOverride.Unix()
	}
	_, err := s.conn.Exec(`
		INSERT INTO holding_ages (asset, entry_date, last_adjustment, last_regime_override, entry_size, adjustment_count, has_regime_override)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset) DO UPDATE SET
			entry_date=excluded.entry_date, last_adjustment=excluded.last_adjustment,
			last_regime_override=excluded.last_regime_override, entry_size=excluded.entry_size,
			adjustment_count=excluded.adjustment_count, has_regime_override=excluded.has_regime_override
	`, string(age.Asset), age.EntryDate.Unix(), age.LastAdjustment.Unix(), overrideUnix, age.EntrySize, age.AdjustmentCount, boolToInt(age.HasRegimeOverride))
	_ = err
}

func (s *sqliteHolding) Delete(asset domain.Asset) {
	_, _ = s.conn.Exec(`DELETE FROM holding_ages WHERE asset = ?`, string(asset))
}

type sqliteWhipsaw struct{ conn *sql.DB }

func (s *sqliteWhipsaw) Append(ev domain.PositionEvent) {
	_, err := s.conn.Exec(`
		INSERT INTO position_events (asset, timestamp, type, reason, size) VALUES (?, ?, ?, ?, ?)
	`, string(ev.Asset), ev.Timestamp.Unix(), string(ev.Type), ev.Reason, ev.Size)
	_ = err
}

func (s *sqliteWhipsaw) History(asset domain.Asset) []domain.PositionEvent {
	rows, err := s.conn.Query(`
		SELECT asset, timestamp, type, reason, size FROM position_events
		WHERE asset = ? ORDER BY timestamp ASC
	`, string(asset))
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []domain.PositionEvent
	for rows.Next() {
		var ev domain.PositionEvent
		var ts int64
		var typ string
		if err := rows.Scan(&ev.Asset, &ts, &typ, &ev.Reason, &ev.Size); err != nil {
			continue
		}
		ev.Timestamp = time.Unix(ts, 0).UTC()
		ev.Type = domain.PositionEventType(typ)
		out = append(out, ev)
	}
	return out
}

func (s *sqliteWhipsaw) Prune(asset domain.Asset, before time.Time) {
	_, err := s.conn.Exec(`DELETE FROM position_events WHERE asset = ? AND timestamp < ?`, string(asset), before.Unix())
	_ = err
}

type sqliteCore struct{ conn *sql.DB }

func (s *sqliteCore) Get(asset domain.Asset) (domain.CoreAssetInfo, bool) {
	var c domain.CoreAssetInfo
	var designationUnix, expiryUnix int64
	var lastCheckUnix sql.NullInt64
	var revoked int
	err := s.conn.QueryRow(`
		SELECT asset, designation_date, expiry_date, last_performance_check, bucket, designation_score,
			bucket_avg_at_designation, extension_count, performance_warnings, revoked, revoke_reason
		FROM core_assets WHERE asset = ?
	`, string(asset)).Scan(&c.Asset, &designationUnix, &expiryUnix, &lastCheckUnix, &c.Bucket, &c.DesignationScore,
		&c.BucketAvgAtDesignation, &c.ExtensionCount, &c.PerformanceWarnings, &revoked, &c.RevokeReason)
	if err != nil {
		return domain.CoreAssetInfo{}, false
	}
	c.DesignationDate = time.Unix(designationUnix, 0).UTC()
	c.ExpiryDate = time.Unix(expiryUnix, 0).UTC()
	if lastCheckUnix.Valid {
		c.LastPerformanceCheck = time.Unix(lastCheckUnix.Int64, 0).UTC()
	}
	c.Revoked = revoked != 0
	return c, true
}

func (s *sqliteCore) Set(info domain.CoreAssetInfo) {
	var lastCheckUnix interface{}
	if !info.LastPerformanceCheck.IsZero() {
		lastCheckUnix = info.LastPerformanceCheck.Unix()
	}
	_, err := s.conn.Exec(`
		INSERT INTO core_assets (asset, designation_date, expiry_date, last_performance_check, bucket,
			designation_score, bucket_avg_at_designation, extension_count, performance_warnings, revoked, revoke_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset) DO UPDATE SET
			designation_date=excluded.designation_date, expiry_date=excluded.expiry_date,
			last_performance_check=excluded.last_performance_check, bucket=excluded.bucket,
			designation_score=excluded.designation_score, bucket_avg_at_designation=excluded.bucket_avg_at_designation,
			extension_count=excluded.extension_count, performance_warnings=excluded.performance_warnings,
			revoked=excluded.revoked, revoke_reason=excluded.revoke_reason
	`, string(info.Asset), info.DesignationDate.Unix(), info.ExpiryDate.Unix(), lastCheckUnix, info.Bucket,
		info.DesignationScore, info.BucketAvgAtDesignation, info.ExtensionCount, info.PerformanceWarnings,
		boolToInt(info.Revoked), info.RevokeReason)
	_ = err
}

func (s *sqliteCore) Delete(asset domain.Asset) {
	_, _ = s.conn.Exec(`DELETE FROM core_assets WHERE asset = ?`, string(asset))
}

func (s *sqliteCore) All() []domain.CoreAssetInfo {
	rows, err := s.conn.Query(`
		SELECT asset, designation_date, expiry_date, last_performance_check, bucket, designation_score,
			bucket_avg_at_designation, extension_count, performance_warnings, revoked, revoke_reason
		FROM core_assets ORDER BY asset
	`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []domain.CoreAssetInfo
	for rows.Next() {
		var c domain.CoreAssetInfo
		var designationUnix, expiryUnix int64
		var lastCheckUnix sql.NullInt64
		var revoked int
		if err := rows.Scan(&c.Asset, &designationUnix, &expiryUnix, &lastCheckUnix, &c.Bucket, &c.DesignationScore,
			&c.BucketAvgAtDesignation, &c.ExtensionCount, &c.PerformanceWarnings, &revoked, &c.RevokeReason); err != nil {
			continue
		}
		c.DesignationDate = time.Unix(designationUnix, 0).UTC()
		c.ExpiryDate = time.Unix(expiryUnix, 0).UTC()
		if lastCheckUnix.Valid {
			c.LastPerformanceCheck = time.Unix(lastCheckUnix.Int64, 0).UTC()
		}
		c.Revoked = revoked != 0
		out = append(out, c)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
