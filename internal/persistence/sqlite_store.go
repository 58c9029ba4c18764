package persistence

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/durable/pkg/api"
)

// SQLiteStore implements InstanceStore and EntityStateStore on top of SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interfaces.
var _ InstanceStore = (*SQLiteStore)(nil)

var _ EntityStateStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			orchestrator TEXT NOT NULL,
			status TEXT NOT NULL,
			input BLOB,
			output BLOB,
			fault TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			task_id INTEGER NOT NULL DEFAULT -1,
			type TEXT NOT NULL,
			at INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			entity TEXT NOT NULL DEFAULT '',
			fire_at INTEGER NOT NULL DEFAULT 0,
			payload BLOB,
			fault TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_history_instance ON history(instance_id, seq);
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			state BLOB,
			updated_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) CreateInstance(inst *api.Instance) error {
	input, err := EncodeValue(inst.Input)
	if err != nil {
		return err
	}
	output, err := EncodeValue(inst.Output)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO instances (id, orchestrator, status, input, output, fault, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.Orchestrator,
		string(inst.Status),
		input,
		output,
		inst.Fault,
		inst.CreatedAt.UnixNano(),
		inst.UpdatedAt.UnixNano(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrInstanceExists
	}
	return err
}

func (s *SQLiteStore) UpdateInstance(inst *api.Instance) error {
	input, err := EncodeValue(inst.Input)
	if err != nil {
		return err
	}
	output, err := EncodeValue(inst.Output)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE instances
		SET orchestrator = ?, status = ?, input = ?, output = ?, fault = ?, updated_at = ?
		WHERE id = ?`,
		inst.Orchestrator,
		string(inst.Status),
		input,
		output,
		inst.Fault,
		inst.UpdatedAt.UnixNano(),
		inst.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *SQLiteStore) GetInstance(id string) (*api.Instance, error) {
	row := s.db.QueryRow(`
		SELECT id, orchestrator, status, input, output, fault, created_at, updated_at
		FROM instances
		WHERE id = ?`,
		id,
	)
	inst, err := scanInstance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteStore) ListInstances(filter api.InstanceFilter) ([]*api.Instance, error) {
	query := `
		SELECT id, orchestrator, status, input, output, fault, created_at, updated_at
		FROM instances`
	var args []any
	var clauses []string

	if filter.Orchestrator != "" {
		clauses = append(clauses, "orchestrator = ?")
		args = append(args, filter.Orchestrator)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.Instance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

func scanInstance(scan func(dest ...any) error) (*api.Instance, error) {
	var inst api.Instance
	var statusStr string
	var input, output []byte
	var createdAt, updatedAt int64

	if err := scan(&inst.ID, &inst.Orchestrator, &statusStr, &input, &output, &inst.Fault, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	inst.Status = api.Status(statusStr)
	inst.CreatedAt = time.Unix(0, createdAt)
	inst.UpdatedAt = time.Unix(0, updatedAt)

	inVal, err := DecodeValue[any](input)
	if err != nil {
		return nil, err
	}
	inst.Input = inVal

	outVal, err := DecodeValue[any](output)
	if err != nil {
		return nil, err
	}
	inst.Output = outVal

	return &inst, nil
}

// instanceExists probes for the instance row so history operations can
// report ErrInstanceNotFound like the other backends.
func (s *SQLiteStore) instanceExists(id string) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM instances WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInstanceNotFound
	}
	return err
}

func (s *SQLiteStore) AppendEvent(instanceID string, ev *api.HistoryEvent) error {
	if err := s.instanceExists(instanceID); err != nil {
		return err
	}

	payload, err := EncodeValue(ev.Payload)
	if err != nil {
		return err
	}

	var fireAt int64
	if !ev.FireAt.IsZero() {
		fireAt = ev.FireAt.UnixNano()
	}

	res, err := s.db.Exec(`
		INSERT INTO history (instance_id, task_id, type, at, name, entity, fire_at, payload, fault)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instanceID,
		ev.TaskID,
		string(ev.Type),
		ev.At.UnixNano(),
		ev.Name,
		ev.Entity,
		fireAt,
		payload,
		ev.Fault,
	)
	if err != nil {
		return err
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.Sequence = seq
	return nil
}

func (s *SQLiteStore) GetHistory(instanceID string) ([]api.HistoryEvent, error) {
	if err := s.instanceExists(instanceID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT seq, task_id, type, at, name, entity, fire_at, payload, fault
		FROM history
		WHERE instance_id = ?
		ORDER BY seq ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEvent
	for rows.Next() {
		var (
			ev      api.HistoryEvent
			typ     string
			atN     int64
			fireAtN int64
			payload []byte
		)
		if err := rows.Scan(&ev.Sequence, &ev.TaskID, &typ, &atN, &ev.Name, &ev.Entity, &fireAtN, &payload, &ev.Fault); err != nil {
			return nil, err
		}
		ev.Type = api.EventType(typ)
		ev.At = time.Unix(0, atN)
		if fireAtN != 0 {
			ev.FireAt = time.Unix(0, fireAtN)
		}
		val, err := DecodeValue[any](payload)
		if err != nil {
			return nil, err
		}
		ev.Payload = val
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveEntityState(id string, state any) error {
	data, err := EncodeValue(state)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO entities (id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		id, data, time.Now().UnixNano(),
	)
	return err
}

func (s *SQLiteStore) GetEntityState(id string) (any, error) {
	row := s.db.QueryRow(`SELECT state FROM entities WHERE id = ?`, id)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	return DecodeValue[any](data)
}

func (s *SQLiteStore) DeleteEntityState(id string) error {
	_, err := s.db.Exec(`DELETE FROM entities WHERE id = ?`, id)
	return err
}
