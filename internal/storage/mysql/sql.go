package mysql

const insertBookingSQL = `
INSERT INTO bookings
  (property_id, source, external_code, guest_name, start_date, end_date,
   external_status, status, guest_email, guest_phone, earnings)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectBookingCols = `
  id, property_id, source, external_code, guest_name, start_date, end_date,
  external_status, status, guest_email, guest_phone, earnings, created_at, updated_at
`

const getBookingSQL = `
SELECT ` + selectBookingCols + `
FROM bookings
WHERE id = ?
`

// Scope lookups select every match on purpose: the repo decides between
// not-found, exactly-one, and the ambiguous data-integrity case.
const findByScopeSQL = `
SELECT ` + selectBookingCols + `
FROM bookings
WHERE property_id = ? AND source = ? AND external_code = ?
ORDER BY id
`

const findBySourceCodeSQL = `
SELECT ` + selectBookingCols + `
FROM bookings
WHERE source = ? AND external_code = ?
ORDER BY id
`

const codeInUseSQL = `
SELECT EXISTS(
  SELECT 1 FROM bookings
  WHERE property_id = ? AND source = ? AND external_code = ?
)
`

const insertAuditSQL = `
INSERT INTO booking_audit
  (booking_id, field, old_value, new_value, classification, actor)
VALUES
  (?, ?, ?, ?, ?, ?)
`

const getPropertySQL = `
SELECT id, name FROM properties WHERE id = ?
`

const findPropertyByNameSQL = `
SELECT id, name FROM properties WHERE name = ?
`

// Conflict reports: one JSON payload per (batch, idx). Re-saving the same
// index overwrites the payload, which keeps repeated imports idempotent.
const saveConflictSQL = `
INSERT INTO import_conflicts (batch_id, idx, row_num, payload)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  row_num = VALUES(row_num),
  payload = VALUES(payload)
`

const listConflictsSQL = `
SELECT batch_id, idx, row_num, payload, resolved, action
FROM import_conflicts
WHERE batch_id = ?
ORDER BY idx
`

const getConflictSQL = `
SELECT batch_id, idx, row_num, payload, resolved, action
FROM import_conflicts
WHERE batch_id = ? AND idx = ?
`

const markResolvedSQL = `
UPDATE import_conflicts
SET resolved = 1, action = ?
WHERE batch_id = ? AND idx = ?
`
