package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "brightsched/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.snapshot.json  (periodic snapshot)
//   - <prefix>.journal.jsonl  (append-only journal, fsynced per write)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	state        fileState

	writes       int
	compactEvery int
}

type fileState struct {
	Occurrences map[int64]Occurrence  `json:"occurrences"`
	Alarms      map[string]AlarmRecord `json:"alarms"`
}

const (
	opOccPut   = "occ.put"
	opOccDel   = "occ.del"
	opAlarmPut = "alarm.put"
	opAlarmDel = "alarm.del"
)

type journalRecord struct {
	Op    string       `json:"op"`
	Occ   *Occurrence  `json:"occ,omitempty"`
	Token int64        `json:"token,omitempty"`
	Alarm *AlarmRecord `json:"alarm,omitempty"`
	ID    string       `json:"id,omitempty"`
}

func newFileState() fileState {
	return fileState{
		Occurrences: map[int64]Occurrence{},
		Alarms:      map[string]AlarmRecord{},
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	st := newFileState()
	if err := loadSnapshot(snapPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("storage snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("storage journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		state:        st,
		compactEvery: 256,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2, err3 error
	if s.journalFile != nil {
		err1 = s.compactLocked()
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if s.auditFile != nil {
		err3 = s.auditFile.Close()
		s.auditFile = nil
	}
	return errors.Join(err1, err2, err3)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutOccurrence(ctx context.Context, o Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opOccPut, Occ: &o}); err != nil {
		return err
	}
	s.state.Occurrences[o.Token] = o
	return nil
}

func (s *fileStore) DeleteOccurrence(ctx context.Context, token int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Occurrences[token]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: opOccDel, Token: token}); err != nil {
		return err
	}
	delete(s.state.Occurrences, token)
	return nil
}

func (s *fileStore) ListOccurrences(ctx context.Context) ([]Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Occurrence, 0, len(s.state.Occurrences))
	for _, o := range s.state.Occurrences {
		out = append(out, o)
	}
	sortOccurrences(out)
	return out, nil
}

func (s *fileStore) PutAlarm(ctx context.Context, r AlarmRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opAlarmPut, Alarm: &r}); err != nil {
		return err
	}
	s.state.Alarms[r.ID] = r
	return nil
}

func (s *fileStore) GetAlarm(ctx context.Context, id string) (AlarmRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Alarms[id]
	return r, ok, nil
}

func (s *fileStore) DeleteAlarm(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Alarms[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: opAlarmDel, ID: id}); err != nil {
		return err
	}
	delete(s.state.Alarms, id)
	return nil
}

func (s *fileStore) ListAlarms(ctx context.Context) ([]AlarmRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AlarmRecord, 0, len(s.state.Alarms))
	for _, r := range s.state.Alarms {
		out = append(out, r)
	}
	sortAlarms(out)
	return out, nil
}

// appendLocked writes and fsyncs one journal record. Callers mutate the
// in-memory state only after it succeeds.
func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	if err := s.journalFile.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort compact; the journal is still authoritative on failure.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// The rename must be durable before the journal it replaces is dropped.
	if err := syncDir(filepath.Dir(s.snapshotPath)); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func loadSnapshot(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	for k, v := range st.Occurrences {
		out.Occurrences[k] = v
	}
	for k, v := range st.Alarms {
		out.Alarms[k] = v
	}
	return nil
}

func replayJournal(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// torn tail write after a crash
			continue
		}
		switch r.Op {
		case opOccPut:
			if r.Occ != nil {
				out.Occurrences[r.Occ.Token] = *r.Occ
			}
		case opOccDel:
			delete(out.Occurrences, r.Token)
		case opAlarmPut:
			if r.Alarm != nil && r.Alarm.ID != "" {
				out.Alarms[r.Alarm.ID] = *r.Alarm
			}
		case opAlarmDel:
			delete(out.Alarms, r.ID)
		}
	}
	return sc.Err()
}
