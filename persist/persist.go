// Package persist snapshots a task's resumable state so a restarted process picks up
// the same mapping and submission history instead of re-deriving them.
package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/condortask/common/log/tags"
	"github.com/twitter/condortask/domain"
)

// BackupFileName is the snapshot file kept in a task's working directory.
const BackupFileName = "backup.json"

const stateVersion = 1

// ErrNoState is returned by Load when nothing has been saved yet.
var ErrNoState = errors.New("no saved state")

// State is everything a task restores on restart. Nothing else is persisted.
type State struct {
	Version           int                      `json:"version"`
	Mapping           domain.IOMapping         `json:"io_mapping"`
	SubmissionHistory domain.SubmissionHistory `json:"job_submission_history"`
	PreparedInputs    bool                     `json:"prepared_inputs"`
	GlobalTag         string                   `json:"global_tag"`
	QueriedEvents     int64                    `json:"queried_nevents"`

	// RetiredInputs were mapped to outputs dropped as stragglers; they are never mapped again.
	RetiredInputs []string `json:"retired_inputs,omitempty"`

	// Paths of the staged executable, package and parameter set, when prepared.
	ExecutablePath string `json:"executable_path,omitempty"`
	PackagePath    string `json:"package_path,omitempty"`
	PsetPath       string `json:"pset_path,omitempty"`

	SavedAt time.Time `json:"saved_at"`
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := *s
	c.Mapping = s.Mapping.Clone()
	c.SubmissionHistory = s.SubmissionHistory.Clone()
	c.RetiredInputs = append([]string(nil), s.RetiredInputs...)
	return &c
}

// Persistor stores and retrieves one task's State.
type Persistor interface {
	// Load returns ErrNoState when nothing was saved.
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}

// FilePersistor writes State as JSON. Saves go to a temp file that is renamed over
// the previous snapshot, so a crash leaves either the old or the new state.
type FilePersistor struct {
	path string
}

var _ Persistor = (*FilePersistor)(nil)

// NewFilePersistor keeps the snapshot at dir/backup.json, creating dir if needed.
func NewFilePersistor(dir string) (*FilePersistor, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating state directory %s", dir)
	}
	return &FilePersistor{path: filepath.Join(dir, BackupFileName)}, nil
}

func (p *FilePersistor) Path() string { return p.path }

func (p *FilePersistor) Load(ctx context.Context) (*State, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", p.path)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", p.path)
	}
	if s.Version > stateVersion {
		return nil, errors.Errorf("%s has state version %d, newer than supported %d", p.path, s.Version, stateVersion)
	}
	if s.SubmissionHistory == nil {
		s.SubmissionHistory = domain.SubmissionHistory{}
	}
	log.WithFields(log.Fields{
		tags.File: p.path,
		"outputs": len(s.Mapping),
	}).Debug("Loaded task state")
	return &s, nil
}

func (p *FilePersistor) Save(ctx context.Context, s *State) error {
	c := s.Clone()
	c.Version = stateVersion
	c.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding state")
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "renaming %s", tmp)
	}
	return nil
}

// MemoryPersistor keeps the last saved State in memory.
type MemoryPersistor struct {
	mu    sync.Mutex
	state *State
	saves int
}

var _ Persistor = (*MemoryPersistor)(nil)

func NewMemoryPersistor() *MemoryPersistor {
	return &MemoryPersistor{}
}

func (p *MemoryPersistor) Load(ctx context.Context) (*State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return nil, ErrNoState
	}
	return p.state.Clone(), nil
}

func (p *MemoryPersistor) Save(ctx context.Context, s *State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s.Clone()
	p.saves++
	return nil
}

// Saves counts calls to Save.
func (p *MemoryPersistor) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// NopPersistor never saves and never has state. Read-only tasks use it.
type NopPersistor struct{}

func (NopPersistor) Load(ctx context.Context) (*State, error) { return nil, ErrNoState }
func (NopPersistor) Save(ctx context.Context, s *State) error { return nil }
