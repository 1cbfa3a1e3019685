package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"ixfnotify/internal/ixf"
	logx "ixfnotify/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) InsertEmail(ctx context.Context, e *Email) error {
	if e.Created.IsZero() {
		e.Created = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO emails(created, subject, message, recipients, net_asn, ix_id, sent) VALUES(?,?,?,?,?,?,?)`,
		fmtTime(e.Created), e.Subject, e.Message, strings.Join(e.Recipients, ","),
		nullInt(e.NetASN), nullInt(e.IXID), nullTime(e.Sent),
	)
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) MarkEmailSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE emails SET sent = ? WHERE id = ?`, fmtTime(at), id)
	return err
}

func (s *sqliteStore) Emails(ctx context.Context, limit int) ([]Email, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created, subject, message, recipients, net_asn, ix_id, sent FROM emails ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Email
	for rows.Next() {
		var (
			e              Email
			created, rcpts string
			netASN, ixID   sql.NullInt64
			sent           sql.NullString
		)
		if err := rows.Scan(&e.ID, &created, &e.Subject, &e.Message, &rcpts, &netASN, &ixID, &sent); err != nil {
			return nil, err
		}
		e.Created = parseTime(created)
		if rcpts != "" {
			e.Recipients = strings.Split(rcpts, ",")
		}
		e.NetASN, e.IXID = netASN.Int64, ixID.Int64
		if sent.Valid {
			e.Sent = parseTime(sent.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) InsertTicket(ctx context.Context, t *Ticket) error {
	if t.Created.IsZero() {
		t.Created = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets(created, subject, body, remote_id, remote_ref, published) VALUES(?,?,?,?,?,?)`,
		fmtTime(t.Created), t.Subject, t.Body, nullInt(t.RemoteID), nullStr(t.RemoteRef), nullTime(t.Published),
	)
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) UpdateTicket(ctx context.Context, t *Ticket) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET subject = ?, body = ?, remote_id = ?, remote_ref = ?, published = ? WHERE id = ?`,
		t.Subject, t.Body, nullInt(t.RemoteID), nullStr(t.RemoteRef), nullTime(t.Published), t.ID,
	)
	return err
}

func (s *sqliteStore) Tickets(ctx context.Context, limit int) ([]Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created, subject, body, remote_id, remote_ref, published FROM tickets ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(sc scanner) (Ticket, error) {
	var (
		t                  Ticket
		created            string
		remoteID           sql.NullInt64
		remoteRef, publish sql.NullString
	)
	if err := sc.Scan(&t.ID, &created, &t.Subject, &t.Body, &remoteID, &remoteRef, &publish); err != nil {
		return Ticket{}, err
	}
	t.Created = parseTime(created)
	t.RemoteID, t.RemoteRef = remoteID.Int64, remoteRef.String
	if publish.Valid {
		t.Published = parseTime(publish.String)
	}
	return t, nil
}

func (s *sqliteStore) TicketBySubject(ctx context.Context, subject string) (Ticket, bool, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx,
		`SELECT id, created, subject, body, remote_id, remote_ref, published FROM tickets
		 WHERE subject = ? AND remote_id IS NOT NULL ORDER BY id DESC LIMIT 1`, subject,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Ticket{}, false, nil
	}
	if err != nil {
		return Ticket{}, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) UpsertProposal(ctx context.Context, in *ixf.Instance) error {
	if in == nil {
		return nil
	}
	if in.Created.IsZero() {
		in.Created = time.Now()
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("storage: encode proposal: %w", err)
	}
	// The first sighting keeps its creation time; aging counts from there.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proposals(key, created, action, requirement_of, ticket_id, ticket_ref, payload) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET action=excluded.action, requirement_of=excluded.requirement_of, payload=excluded.payload`,
		in.Key(), fmtTime(in.Created), string(in.Action), in.RequirementOf, in.TicketID, in.TicketRef, string(payload),
	)
	return err
}

func (s *sqliteStore) AgedProposals(ctx context.Context, olderThan time.Time) ([]*ixf.Instance, error) {
	q := `SELECT created, ticket_id, ticket_ref, payload FROM proposals WHERE ticket_id = 0 AND requirement_of = 0`
	args := []any{}
	if !olderThan.IsZero() {
		q += ` AND created <= ?`
		args = append(args, fmtTime(olderThan))
	}
	q += ` ORDER BY created, key`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ixf.Instance
	for rows.Next() {
		var (
			created, ref, payload string
			ticketID              int64
		)
		if err := rows.Scan(&created, &ticketID, &ref, &payload); err != nil {
			return nil, err
		}
		in := &ixf.Instance{}
		if err := json.Unmarshal([]byte(payload), in); err != nil {
			s.log.Warn("skipping undecodable proposal", logx.Err(err))
			continue
		}
		in.Created = parseTime(created)
		in.TicketID, in.TicketRef = ticketID, ref
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetProposalTicket(ctx context.Context, key string, id int64, ref string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE proposals SET ticket_id = ?, ticket_ref = ? WHERE key = ?`, id, ref, key)
	return err
}

func (s *sqliteStore) DeleteProposal(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM proposals WHERE key = ?`, key)
	return err
}

func (s *sqliteStore) IXLanError(ctx context.Context, ixlanID int64) (IXLanError, bool, error) {
	var notified, msg string
	err := s.db.QueryRowContext(ctx, `SELECT notified, error FROM ixlan_errors WHERE ixlan_id = ?`, ixlanID).Scan(&notified, &msg)
	if errors.Is(err, sql.ErrNoRows) {
		return IXLanError{}, false, nil
	}
	if err != nil {
		return IXLanError{}, false, err
	}
	return IXLanError{IXLanID: ixlanID, Notified: parseTime(notified), Error: msg}, true, nil
}

func (s *sqliteStore) SetIXLanError(ctx context.Context, e IXLanError) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ixlan_errors(ixlan_id, notified, error) VALUES(?,?,?)
		 ON CONFLICT(ixlan_id) DO UPDATE SET notified=excluded.notified, error=excluded.error`,
		e.IXLanID, fmtTime(e.Notified), e.Error,
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

// Timestamps are stored as fixed-width UTC strings so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
