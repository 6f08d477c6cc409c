package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gridworld.ai/internal/sim/tuning"
	"gridworld.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of the step log. Writes are queued
// and applied by one writer goroutine so the world loop never waits on disk.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan world.StepLogEntry
	wg   sync.WaitGroup
	once sync.Once

	// mu orders WriteStep sends against close(ch).
	mu     sync.RWMutex
	closed bool

	dropStepTotal atomic.Uint64
}

var ErrClosed = errors.New("indexdb: closed")

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropStepTotal uint64 `json:"drop_step_total"`
}

type MovementRow struct {
	Step    uint64
	AgentID string
	From    [2]int
	To      [2]int
	Status  string
	Kind    string
	Applied bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan world.StepLogEntry, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			step INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			movements INTEGER NOT NULL,
			missing INTEGER NOT NULL,
			unconfirmed INTEGER NOT NULL,
			stalled INTEGER NOT NULL,
			duration_ms REAL NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS joins (
			step INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			pos_row INTEGER NOT NULL,
			pos_col INTEGER NOT NULL,
			PRIMARY KEY (step, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS leaves (
			step INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			PRIMARY KEY (step, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS movements (
			step INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			from_row INTEGER NOT NULL,
			from_col INTEGER NOT NULL,
			to_row INTEGER NOT NULL,
			to_col INTEGER NOT NULL,
			status TEXT NOT NULL,
			kind TEXT NOT NULL,
			applied INTEGER NOT NULL,
			PRIMARY KEY (step, agent_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_movements_agent_step ON movements(agent_id, step);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteStep(entry world.StepLogEntry) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- entry:
	default:
		// Drop if the indexer falls behind; the JSONL step log remains the source of truth.
		s.dropStepTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropStepTotal: s.dropStepTotal.Load(),
	}
}

// UpsertConfig stores the tuning the run was started with.
func (s *SQLiteIndex) UpsertConfig(worldID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('world_id',?)`, worldID); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES('tuning',?,?,?)`,
		hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// BeginRun clears the step tables left by an earlier run and records runID.
// Call it before the first WriteStep of the run.
func (s *SQLiteIndex) BeginRun(runID string) error {
	if s == nil {
		return nil
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"steps", "joins", "leaves", "movements"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('run_id',?)`, runID); err != nil {
		return err
	}
	return tx.Commit()
}

// RunID returns the run recorded by BeginRun, or "" when none was.
func (s *SQLiteIndex) RunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'run_id'`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *SQLiteIndex) StepCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps`).Scan(&n)
	return n, err
}

// MovementsFor returns the agent's finalized movements in step order.
func (s *SQLiteIndex) MovementsFor(ctx context.Context, agentID string) ([]MovementRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step,agent_id,from_row,from_col,to_row,to_col,status,kind,applied
		FROM movements WHERE agent_id = ? ORDER BY step`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MovementRow
	for rows.Next() {
		var (
			r       MovementRow
			step    int64
			applied int
		)
		if err := rows.Scan(&step, &r.AgentID, &r.From[0], &r.From[1], &r.To[0], &r.To[1], &r.Status, &r.Kind, &applied); err != nil {
			return nil, err
		}
		r.Step = uint64(step)
		r.Applied = applied != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(step,digest,joins,leaves,movements,missing,unconfirmed,stalled,duration_ms,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO joins(step,agent_id,name,pos_row,pos_col) VALUES(?,?,?,?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT OR REPLACE INTO leaves(step,agent_id) VALUES(?,?)`)
	insertMove, _ := s.db.Prepare(`INSERT OR REPLACE INTO movements(step,agent_id,from_row,from_col,to_row,to_col,status,kind,applied) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStep, insertJoin, insertLeave, insertMove} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for e := range s.ch {
		begin()
		if tx == nil || insertStep == nil || insertJoin == nil || insertLeave == nil || insertMove == nil {
			continue
		}
		if err := writeEntry(tx, e, insertStep, insertJoin, insertLeave, insertMove); err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func writeEntry(tx *sql.Tx, e world.StepLogEntry, insertStep, insertJoin, insertLeave, insertMove *sql.Stmt) error {
	step := int64(e.Step)
	raw, _ := json.Marshal(e)
	if _, err := tx.Stmt(insertStep).Exec(
		step,
		e.Digest,
		len(e.Joins),
		len(e.Leaves),
		len(e.Movements),
		len(e.Missing),
		len(e.Unconfirmed),
		boolInt(e.Stalled),
		e.DurationMS,
		string(raw),
	); err != nil {
		return err
	}
	for _, j := range e.Joins {
		if _, err := tx.Stmt(insertJoin).Exec(step, j.AgentID, j.Name, j.Pos[0], j.Pos[1]); err != nil {
			return err
		}
	}
	for _, id := range e.Leaves {
		if _, err := tx.Stmt(insertLeave).Exec(step, id); err != nil {
			return err
		}
	}
	for _, m := range e.Movements {
		if _, err := tx.Stmt(insertMove).Exec(step, m.AgentID, m.From[0], m.From[1], m.To[0], m.To[1], m.Status, m.Kind, boolInt(m.Applied)); err != nil {
			return err
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
