package state

import (
	"database/sql"
	"encoding/json"
)

// LogOrderAction appends one row to the order audit log. Audit logging is
// best-effort: missing fields never fail validation, and a storage fault is
// reported as false rather than raised — a logging hiccup must not take the
// order flow down with it. Rows are never updated or deleted.
func (s *Store) LogOrderAction(entry OrderAuditEntry) bool {
	if entry.Action == "" || entry.Instrument == "" {
		s.log.Warn().Msg("Order audit entry missing action or instrument, logging anyway")
	}

	details, err := marshalDetails(entry.Details)
	if err != nil {
		// Drop the blob rather than the whole audit row
		s.log.Warn().Err(err).Msg("Failed to serialize audit details, storing without them")
		details = nil
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	_, err = s.db.Exec(`
		INSERT INTO order_audit_log
		(timestamp, order_id, action, instrument, order_type, transaction_type,
		 quantity, price, status, approved_by, rejection_reason, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ts.UnixMilli(), nullableString(entry.OrderID), entry.Action, entry.Instrument,
		nullableString(entry.OrderType), nullableString(entry.TransactionType),
		entry.Quantity, entry.Price, nullableString(entry.Status),
		nullableString(entry.ApprovedBy), nullableString(entry.RejectionReason), details)
	if err != nil {
		s.log.Error().Err(err).Str("action", entry.Action).Msg("Failed to log order action")
		return false
	}
	return true
}

// GetOrderAuditLog returns audit rows newest first, optionally filtered by
// instrument. Storage faults return an empty slice.
func (s *Store) GetOrderAuditLog(limit int, instrument string) []OrderAuditEntry {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, COALESCE(order_id, ''), action, instrument,
		       COALESCE(order_type, ''), COALESCE(transaction_type, ''),
		       COALESCE(quantity, 0), COALESCE(price, 0),
		       COALESCE(status, ''), COALESCE(approved_by, ''),
		       COALESCE(rejection_reason, ''), details
		FROM order_audit_log
	`
	args := []interface{}{}
	if instrument != "" {
		query += ` WHERE instrument = ?`
		args = append(args, instrument)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read order audit log")
		return []OrderAuditEntry{}
	}
	defer rows.Close()

	entries := []OrderAuditEntry{}
	for rows.Next() {
		var entry OrderAuditEntry
		var ts int64
		var details sql.NullString

		if err := rows.Scan(&entry.ID, &ts, &entry.OrderID, &entry.Action,
			&entry.Instrument, &entry.OrderType, &entry.TransactionType,
			&entry.Quantity, &entry.Price, &entry.Status, &entry.ApprovedBy,
			&entry.RejectionReason, &details); err != nil {
			s.log.Warn().Err(err).Msg("Failed to scan audit row")
			continue
		}

		entry.Timestamp = unixMilli(ts)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				s.log.Warn().Err(err).Int64("id", entry.ID).Msg("Undecodable audit details blob")
			}
		}
		entries = append(entries, entry)
	}
	return entries
}
