package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"torrent-gateway/internal/model"
	"torrent-gateway/internal/store/migrations"
)

// SQLiteStore implements Store on top of database/sql + go-sqlite3.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path, applies
// PRAGMAs for durability under a single writer, runs pending migrations,
// and returns a ready Store. path may be ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	// SQLite has one writer; keep the pool small and let busy_timeout
	// serialize contention instead of piling up idle connections.
	db.SetMaxOpenConns(4)

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- time helpers -----------------------------------------------------

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func fmtOptTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseOptTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Users --------------------------------------------------------------

func (s *SQLiteStore) CreateUser(username, passwordHash string, isAdmin bool) (*model.User, error) {
	u := &model.User{
		ID:           newID(),
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO users (id, username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, boolToInt(u.IsAdmin), fmtTime(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUsername{Username: username}
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var isAdmin int
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &isAdmin, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.IsAdmin = isAdmin != 0
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) GetUserByUsername(username string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT id, username, password_hash, is_admin, created_at FROM users WHERE username = ?`, username)
	u, err := s.scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("querying user by username: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByID(id string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT id, username, password_hash, is_admin, created_at FROM users WHERE id = ?`, id)
	u, err := s.scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) CountUsers() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// DeleteUser cascades to every entity the user owns, per the gateway's
// lifecycle rule that deleting an account removes all private state.
func (s *SQLiteStore) DeleteUser(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM torrent_settings WHERE owner_user_id = ?`,
		`DELETE FROM torrents WHERE owner_user_id = ?`,
		`DELETE FROM sessions WHERE user_id = ?`,
		`DELETE FROM remember_tokens WHERE user_id = ?`,
		`DELETE FROM api_keys WHERE user_id = ?`,
		`DELETE FROM webhook_subscribers WHERE user_id = ?`,
		`DELETE FROM transfer_jobs WHERE backend_id IN (SELECT id FROM backends WHERE owner_user_id = ?)`,
		`DELETE FROM backends WHERE owner_user_id = ?`,
		`DELETE FROM users WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("cascading delete (%s): %w", stmt, err)
		}
	}
	return tx.Commit()
}

// --- Backends -------------------------------------------------------------

func marshalOpt[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalOpt[T any](ns sql.NullString) (*T, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) CreateBackend(b *model.Backend) (*model.Backend, error) {
	b.ID = newID()
	b.CreatedAt = time.Now().UTC()
	b.Version = 1
	if err := s.writeBackend(b, true); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLiteStore) UpdateBackend(b *model.Backend) (*model.Backend, error) {
	b.Version++
	if err := s.writeBackend(b, false); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLiteStore) writeBackend(b *model.Backend, insert bool) error {
	httpJSON, err := marshalOpt(b.HTTPDownload)
	if err != nil {
		return fmt.Errorf("encoding http_download: %w", err)
	}
	autoJSON, err := marshalOpt(b.AutoDownload)
	if err != nil {
		return fmt.Errorf("encoding auto_download: %w", err)
	}
	sshJSON, err := marshalOpt(b.SSH)
	if err != nil {
		return fmt.Errorf("encoding ssh: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if b.IsDefault {
		if _, err := tx.Exec(`UPDATE backends SET is_default = 0 WHERE owner_user_id = ? AND id != ?`, b.OwnerUserID, b.ID); err != nil {
			return fmt.Errorf("clearing prior default: %w", err)
		}
	}

	if insert {
		_, err = tx.Exec(`INSERT INTO backends
			(id, owner_user_id, name, kind, host, port, rpc_path, use_ssl, auth, enabled, is_default, created_at, http_download_json, mount_path, download_dir, auto_download_json, ssh_json, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.OwnerUserID, b.Name, string(b.Kind), b.Host, b.Port, b.RPCPath, boolToInt(b.UseSSL), b.Auth,
			boolToInt(b.Enabled), boolToInt(b.IsDefault), fmtTime(b.CreatedAt), httpJSON, b.MountPath, b.DownloadDir, autoJSON, sshJSON, b.Version,
		)
	} else {
		_, err = tx.Exec(`UPDATE backends SET name=?, kind=?, host=?, port=?, rpc_path=?, use_ssl=?, auth=?, enabled=?, is_default=?, http_download_json=?, mount_path=?, download_dir=?, auto_download_json=?, ssh_json=?, version=? WHERE id = ?`,
			b.Name, string(b.Kind), b.Host, b.Port, b.RPCPath, boolToInt(b.UseSSL), b.Auth, boolToInt(b.Enabled), boolToInt(b.IsDefault),
			httpJSON, b.MountPath, b.DownloadDir, autoJSON, sshJSON, b.Version, b.ID,
		)
	}
	if err != nil {
		return fmt.Errorf("writing backend: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) scanBackend(row *sql.Row) (*model.Backend, error) {
	var b model.Backend
	var kind string
	var useSSL, enabled, isDefault int
	var createdAt string
	var httpJSON, autoJSON, sshJSON sql.NullString

	err := row.Scan(&b.ID, &b.OwnerUserID, &b.Name, &kind, &b.Host, &b.Port, &b.RPCPath, &useSSL, &b.Auth,
		&enabled, &isDefault, &createdAt, &httpJSON, &b.MountPath, &b.DownloadDir, &autoJSON, &sshJSON, &b.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Kind = model.BackendKind(kind)
	b.UseSSL = useSSL != 0
	b.Enabled = enabled != 0
	b.IsDefault = isDefault != 0
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.HTTPDownload, err = unmarshalOpt[model.HTTPDownload](httpJSON); err != nil {
		return nil, err
	}
	if b.AutoDownload, err = unmarshalOpt[model.AutoDownload](autoJSON); err != nil {
		return nil, err
	}
	if b.SSH, err = unmarshalOpt[model.SSHConfig](sshJSON); err != nil {
		return nil, err
	}
	return &b, nil
}

const backendColumns = `id, owner_user_id, name, kind, host, port, rpc_path, use_ssl, auth, enabled, is_default, created_at, http_download_json, mount_path, download_dir, auto_download_json, ssh_json, version`

func (s *SQLiteStore) GetBackend(id string) (*model.Backend, error) {
	row := s.db.QueryRow(`SELECT `+backendColumns+` FROM backends WHERE id = ?`, id)
	b, err := s.scanBackend(row)
	if err != nil {
		return nil, fmt.Errorf("querying backend: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) ListBackendsByUser(ownerUserID string) ([]*model.Backend, error) {
	rows, err := s.db.Query(`SELECT `+backendColumns+` FROM backends WHERE owner_user_id = ? ORDER BY is_default DESC, created_at`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("listing backends: %w", err)
	}
	defer rows.Close()

	var out []*model.Backend
	for rows.Next() {
		b, err := scanBackendRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListEnabledBackends returns every enabled backend across all users,
// for the maintenance scheduler's per-tick sweep.
func (s *SQLiteStore) ListEnabledBackends() ([]*model.Backend, error) {
	rows, err := s.db.Query(`SELECT ` + backendColumns + ` FROM backends WHERE enabled = 1 ORDER BY owner_user_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing enabled backends: %w", err)
	}
	defer rows.Close()

	var out []*model.Backend
	for rows.Next() {
		b, err := scanBackendRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// scanBackendRows mirrors scanBackend but reads from *sql.Rows instead
// of *sql.Row, since Go's database/sql has no shared Scanner interface
// between the two.
func scanBackendRows(rows *sql.Rows) (*model.Backend, error) {
	var b model.Backend
	var kind string
	var useSSL, enabled, isDefault int
	var createdAt string
	var httpJSON, autoJSON, sshJSON sql.NullString

	err := rows.Scan(&b.ID, &b.OwnerUserID, &b.Name, &kind, &b.Host, &b.Port, &b.RPCPath, &useSSL, &b.Auth,
		&enabled, &isDefault, &createdAt, &httpJSON, &b.MountPath, &b.DownloadDir, &autoJSON, &sshJSON, &b.Version)
	if err != nil {
		return nil, fmt.Errorf("scanning backend: %w", err)
	}
	b.Kind = model.BackendKind(kind)
	b.UseSSL = useSSL != 0
	b.Enabled = enabled != 0
	b.IsDefault = isDefault != 0
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.HTTPDownload, err = unmarshalOpt[model.HTTPDownload](httpJSON); err != nil {
		return nil, err
	}
	if b.AutoDownload, err = unmarshalOpt[model.AutoDownload](autoJSON); err != nil {
		return nil, err
	}
	if b.SSH, err = unmarshalOpt[model.SSHConfig](sshJSON); err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBackend removes a backend record. When tombstone is true
// (the gateway's chosen resolution for the backend-deletion open
// question) dependent Torrent/Status/TransferJob rows are kept with
// backend_id blanked instead of deleted, preserving history after the
// backend itself disappears; Action rows carry no backend_id and are
// untouched. When tombstone is false the backend's Torrent rows are
// deleted and its Status/TransferJob rows are left as they are.
func (s *SQLiteStore) DeleteBackend(id string, tombstone bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if tombstone {
		if _, err := tx.Exec(`UPDATE torrents SET backend_id = '' WHERE backend_id = ?`, id); err != nil {
			return fmt.Errorf("tombstoning torrents: %w", err)
		}
		for _, table := range []string{"statuses", "transfer_jobs"} {
			if _, err := tx.Exec(`UPDATE `+table+` SET backend_id = '' WHERE backend_id = ?`, id); err != nil {
				return fmt.Errorf("tombstoning %s: %w", table, err)
			}
		}
	} else {
		if _, err := tx.Exec(`DELETE FROM torrents WHERE backend_id = ?`, id); err != nil {
			return fmt.Errorf("deleting torrents: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM backends WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting backend: %w", err)
	}
	return tx.Commit()
}

// --- Torrents ---------------------------------------------------------

func (s *SQLiteStore) UpsertTorrent(t *model.Torrent) error {
	labelsJSON, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO torrents (owner_user_id, backend_id, info_hash, name, size, is_private, base_path, added_at, labels_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_user_id, backend_id, info_hash) DO UPDATE SET
			name = excluded.name, size = excluded.size, is_private = excluded.is_private,
			base_path = excluded.base_path, labels_json = excluded.labels_json`,
		t.OwnerUserID, t.BackendID, t.InfoHash, t.Name, t.Size, boolToInt(t.IsPrivate), t.BasePath, fmtTime(t.AddedAt), string(labelsJSON),
	)
	if err != nil {
		return fmt.Errorf("upserting torrent: %w", err)
	}
	return nil
}

func scanTorrentRow(scan func(dest ...any) error) (*model.Torrent, error) {
	var t model.Torrent
	var isPrivate int
	var addedAt, labelsJSON string
	if err := scan(&t.OwnerUserID, &t.BackendID, &t.InfoHash, &t.Name, &t.Size, &isPrivate, &t.BasePath, &addedAt, &labelsJSON); err != nil {
		return nil, err
	}
	t.IsPrivate = isPrivate != 0
	var err error
	if t.AddedAt, err = parseTime(addedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(labelsJSON), &t.Labels); err != nil {
		return nil, err
	}
	return &t, nil
}

const torrentColumns = `owner_user_id, backend_id, info_hash, name, size, is_private, base_path, added_at, labels_json`

func (s *SQLiteStore) GetTorrent(ownerUserID, backendID, infoHash string) (*model.Torrent, error) {
	row := s.db.QueryRow(`SELECT `+torrentColumns+` FROM torrents WHERE owner_user_id = ? AND backend_id = ? AND info_hash = ?`, ownerUserID, backendID, infoHash)
	t, err := scanTorrentRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying torrent: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTorrentsByUser(ownerUserID string) ([]*model.Torrent, error) {
	rows, err := s.db.Query(`SELECT `+torrentColumns+` FROM torrents WHERE owner_user_id = ? ORDER BY added_at DESC, info_hash`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("listing torrents: %w", err)
	}
	defer rows.Close()

	var out []*model.Torrent
	for rows.Next() {
		t, err := scanTorrentRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning torrent: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTorrent(ownerUserID, backendID, infoHash string) error {
	_, err := s.db.Exec(`DELETE FROM torrents WHERE owner_user_id = ? AND backend_id = ? AND info_hash = ?`, ownerUserID, backendID, infoHash)
	if err != nil {
		return fmt.Errorf("deleting torrent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetTorrentLabels(ownerUserID, backendID, infoHash string, labels []string) error {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}
	_, err = s.db.Exec(`UPDATE torrents SET labels_json = ? WHERE owner_user_id = ? AND backend_id = ? AND info_hash = ?`, string(labelsJSON), ownerUserID, backendID, infoHash)
	if err != nil {
		return fmt.Errorf("setting labels: %w", err)
	}
	return nil
}

// --- Status / Action history -------------------------------------------

func (s *SQLiteStore) InsertStatus(st *model.Status) error {
	res, err := s.db.Exec(`INSERT INTO statuses (torrent_hash, backend_id, is_seeding, is_private, progress, down_rate, up_rate, peers, seeds, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.TorrentHash, st.BackendID, boolToInt(st.IsSeeding), boolToInt(st.IsPrivate), st.Progress, st.DownRate, st.UpRate, st.Peers, st.Seeds, fmtTime(st.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting status: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		st.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListStatuses(infoHash string, backendID string) ([]*model.Status, error) {
	query := `SELECT id, torrent_hash, backend_id, is_seeding, is_private, progress, down_rate, up_rate, peers, seeds, timestamp FROM statuses WHERE torrent_hash = ?`
	args := []any{infoHash}
	if backendID != "" {
		query += ` AND backend_id = ?`
		args = append(args, backendID)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing statuses: %w", err)
	}
	defer rows.Close()

	var out []*model.Status
	for rows.Next() {
		var st model.Status
		var isSeeding, isPrivate int
		var ts string
		if err := rows.Scan(&st.ID, &st.TorrentHash, &st.BackendID, &isSeeding, &isPrivate, &st.Progress, &st.DownRate, &st.UpRate, &st.Peers, &st.Seeds, &ts); err != nil {
			return nil, fmt.Errorf("scanning status: %w", err)
		}
		st.IsSeeding = isSeeding != 0
		st.IsPrivate = isPrivate != 0
		if st.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneStatusesBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM statuses WHERE timestamp < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning statuses: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) InsertAction(a *model.Action) error {
	res, err := s.db.Exec(`INSERT INTO actions (torrent_hash, kind, timestamp, detail) VALUES (?, ?, ?, ?)`,
		a.TorrentHash, string(a.Kind), fmtTime(a.Timestamp), a.Detail)
	if err != nil {
		return fmt.Errorf("inserting action: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		a.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListActions(infoHash string) ([]*model.Action, error) {
	rows, err := s.db.Query(`SELECT id, torrent_hash, kind, timestamp, detail FROM actions WHERE torrent_hash = ? ORDER BY timestamp ASC`, infoHash)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var out []*model.Action
	for rows.Next() {
		var a model.Action
		var kind, ts string
		if err := rows.Scan(&a.ID, &a.TorrentHash, &kind, &ts, &a.Detail); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		a.Kind = model.ActionKind(kind)
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- Transfer jobs ------------------------------------------------------

func (s *SQLiteStore) CreateTransferJob(j *model.TransferJob) error {
	_, err := s.db.Exec(`INSERT INTO transfer_jobs (id, torrent_hash, backend_id, source_path, dest_path, state, bytes_done, bytes_total, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TorrentHash, j.BackendID, j.SourcePath, j.DestPath, string(j.State), j.BytesDone, j.BytesTotal, fmtTime(j.StartedAt), fmtOptTime(j.FinishedAt), j.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting transfer job: %w", err)
	}
	return nil
}

func scanTransferJob(scan func(dest ...any) error) (*model.TransferJob, error) {
	var j model.TransferJob
	var state, startedAt string
	var finishedAt sql.NullString
	if err := scan(&j.ID, &j.TorrentHash, &j.BackendID, &j.SourcePath, &j.DestPath, &state, &j.BytesDone, &j.BytesTotal, &startedAt, &finishedAt, &j.Error); err != nil {
		return nil, err
	}
	j.State = model.TransferState(state)
	var err error
	if j.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if j.FinishedAt, err = parseOptTime(finishedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

const transferJobColumns = `id, torrent_hash, backend_id, source_path, dest_path, state, bytes_done, bytes_total, started_at, finished_at, error`

func (s *SQLiteStore) GetTransferJob(id string) (*model.TransferJob, error) {
	row := s.db.QueryRow(`SELECT `+transferJobColumns+` FROM transfer_jobs WHERE id = ?`, id)
	j, err := scanTransferJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying transfer job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) FindActiveTransferJob(infoHash, backendID string) (*model.TransferJob, error) {
	row := s.db.QueryRow(`SELECT `+transferJobColumns+` FROM transfer_jobs WHERE torrent_hash = ? AND backend_id = ? AND state IN ('pending', 'running') ORDER BY started_at DESC LIMIT 1`, infoHash, backendID)
	j, err := scanTransferJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active transfer job: %w", err)
	}
	return j, nil
}

// FindTransferJob returns the most recent transfer job for
// (infoHash, backendID) in any state, so a caller deciding whether to
// auto-submit a new one can tell "never submitted" apart from "already
// submitted and finished" rather than resubmitting on every tick.
func (s *SQLiteStore) FindTransferJob(infoHash, backendID string) (*model.TransferJob, error) {
	row := s.db.QueryRow(`SELECT `+transferJobColumns+` FROM transfer_jobs WHERE torrent_hash = ? AND backend_id = ? ORDER BY started_at DESC LIMIT 1`, infoHash, backendID)
	j, err := scanTransferJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying transfer job: %w", err)
	}
	return j, nil
}

// ListTransferJobsByUser returns every transfer job whose backend is
// owned by userID, most recently started first, so a user can see the
// auto-download jobs the maintenance scheduler submitted on their
// backends' behalf.
func (s *SQLiteStore) ListTransferJobsByUser(userID string) ([]*model.TransferJob, error) {
	rows, err := s.db.Query(`SELECT tj.id, tj.torrent_hash, tj.backend_id, tj.source_path, tj.dest_path, tj.state, tj.bytes_done, tj.bytes_total, tj.started_at, tj.finished_at, tj.error
		FROM transfer_jobs tj
		JOIN backends b ON b.id = tj.backend_id
		WHERE b.owner_user_id = ?
		ORDER BY tj.started_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying transfer jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.TransferJob
	for rows.Next() {
		j, err := scanTransferJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning transfer job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateTransferJob(j *model.TransferJob) error {
	_, err := s.db.Exec(`UPDATE transfer_jobs SET state=?, bytes_done=?, bytes_total=?, finished_at=?, error=? WHERE id = ?`,
		string(j.State), j.BytesDone, j.BytesTotal, fmtOptTime(j.FinishedAt), j.Error, j.ID,
	)
	if err != nil {
		return fmt.Errorf("updating transfer job: %w", err)
	}
	return nil
}

// --- Torrent settings -----------------------------------------------------

func (s *SQLiteStore) SetTorrentSetting(ts *model.TorrentSetting) error {
	_, err := s.db.Exec(`INSERT INTO torrent_settings (owner_user_id, torrent_hash, key, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_user_id, torrent_hash, key) DO UPDATE SET value = excluded.value`,
		ts.OwnerUserID, ts.TorrentHash, ts.Key, ts.Value,
	)
	if err != nil {
		return fmt.Errorf("setting torrent setting: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTorrentSettings(ownerUserID, infoHash string) ([]*model.TorrentSetting, error) {
	rows, err := s.db.Query(`SELECT owner_user_id, torrent_hash, key, value FROM torrent_settings WHERE owner_user_id = ? AND torrent_hash = ?`, ownerUserID, infoHash)
	if err != nil {
		return nil, fmt.Errorf("listing torrent settings: %w", err)
	}
	defer rows.Close()

	var out []*model.TorrentSetting
	for rows.Next() {
		var ts model.TorrentSetting
		if err := rows.Scan(&ts.OwnerUserID, &ts.TorrentHash, &ts.Key, &ts.Value); err != nil {
			return nil, fmt.Errorf("scanning torrent setting: %w", err)
		}
		out = append(out, &ts)
	}
	return out, rows.Err()
}

// --- Sessions -----------------------------------------------------------

func (s *SQLiteStore) CreateSession(sess *model.Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, user_id, created_at, last_activity, expires_at, ip, ua) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, fmtTime(sess.CreatedAt), fmtTime(sess.LastActivity), fmtTime(sess.ExpiresAt), sess.IP, sess.UA,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(`SELECT id, user_id, created_at, last_activity, expires_at, ip, ua FROM sessions WHERE id = ?`, id)
	var sess model.Session
	var createdAt, lastActivity, expiresAt string
	err := row.Scan(&sess.ID, &sess.UserID, &createdAt, &lastActivity, &expiresAt, &sess.IP, &sess.UA)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) UpdateSessionActivity(id string, lastActivity, expiresAt time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET last_activity = ?, expires_at = ? WHERE id = ?`, fmtTime(lastActivity), fmtTime(expiresAt), id)
	if err != nil {
		return fmt.Errorf("updating session activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// --- Remember tokens ------------------------------------------------------

func (s *SQLiteStore) CreateRememberToken(t *model.RememberToken) error {
	_, err := s.db.Exec(`INSERT INTO remember_tokens (id, user_id, created_at, expires_at, ip, ua, revoked) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, fmtTime(t.CreatedAt), fmtTime(t.ExpiresAt), t.IP, t.UA, boolToInt(t.Revoked),
	)
	if err != nil {
		return fmt.Errorf("inserting remember token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRememberToken(id string) (*model.RememberToken, error) {
	row := s.db.QueryRow(`SELECT id, user_id, created_at, expires_at, ip, ua, revoked FROM remember_tokens WHERE id = ?`, id)
	var t model.RememberToken
	var createdAt, expiresAt string
	var revoked int
	err := row.Scan(&t.ID, &t.UserID, &createdAt, &expiresAt, &t.IP, &t.UA, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying remember token: %w", err)
	}
	t.Revoked = revoked != 0
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) RevokeRememberToken(id string) error {
	_, err := s.db.Exec(`UPDATE remember_tokens SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoking remember token: %w", err)
	}
	return nil
}

// --- API keys -------------------------------------------------------------

func (s *SQLiteStore) CreateApiKey(k *model.ApiKey) error {
	_, err := s.db.Exec(`INSERT INTO api_keys (id, prefix, user_id, name, created_at, last_used_at, expires_at, revoked) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Prefix, k.UserID, k.Name, fmtTime(k.CreatedAt), fmtOptTime(k.LastUsedAt), fmtOptTime(k.ExpiresAt), boolToInt(k.Revoked),
	)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

func scanApiKey(scan func(dest ...any) error) (*model.ApiKey, error) {
	var k model.ApiKey
	var createdAt string
	var lastUsedAt, expiresAt sql.NullString
	var revoked int
	if err := scan(&k.ID, &k.Prefix, &k.UserID, &k.Name, &createdAt, &lastUsedAt, &expiresAt, &revoked); err != nil {
		return nil, err
	}
	k.Revoked = revoked != 0
	var err error
	if k.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if k.LastUsedAt, err = parseOptTime(lastUsedAt); err != nil {
		return nil, err
	}
	if k.ExpiresAt, err = parseOptTime(expiresAt); err != nil {
		return nil, err
	}
	return &k, nil
}

const apiKeyColumns = `id, prefix, user_id, name, created_at, last_used_at, expires_at, revoked`

func (s *SQLiteStore) GetApiKeyByID(id string) (*model.ApiKey, error) {
	row := s.db.QueryRow(`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	k, err := scanApiKey(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return k, nil
}

func (s *SQLiteStore) GetApiKeyByPrefix(userID, prefix string) (*model.ApiKey, error) {
	row := s.db.QueryRow(`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = ? AND prefix = ?`, userID, prefix)
	k, err := scanApiKey(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key by prefix: %w", err)
	}
	return k, nil
}

func (s *SQLiteStore) ListApiKeysByUser(userID string) ([]*model.ApiKey, error) {
	rows, err := s.db.Query(`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var out []*model.ApiKey
	for rows.Next() {
		k, err := scanApiKey(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RevokeApiKeyByPrefix(userID, prefix string) error {
	_, err := s.db.Exec(`UPDATE api_keys SET revoked = 1 WHERE user_id = ? AND prefix = ?`, userID, prefix)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchApiKey(id string, lastUsedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, fmtTime(lastUsedAt), id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

// --- Webhook subscribers ---------------------------------------------------

func (s *SQLiteStore) CreateWebhook(w *model.WebhookSubscriber) error {
	_, err := s.db.Exec(`INSERT INTO webhook_subscribers (id, user_id, url, secret, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.URL, w.Secret, fmtTime(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting webhook: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListWebhooksByUser(userID string) ([]*model.WebhookSubscriber, error) {
	rows, err := s.db.Query(`SELECT id, user_id, url, secret, created_at FROM webhook_subscribers WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close()

	var out []*model.WebhookSubscriber
	for rows.Next() {
		var w model.WebhookSubscriber
		var createdAt string
		if err := rows.Scan(&w.ID, &w.UserID, &w.URL, &w.Secret, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning webhook: %w", err)
		}
		if w.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteWebhook(userID, id string) error {
	_, err := s.db.Exec(`DELETE FROM webhook_subscribers WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

var _ Store = (*SQLiteStore)(nil)
