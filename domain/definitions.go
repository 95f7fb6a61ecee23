// Package domain provides definitions for condor tasks: input and output files,
// the input->output mapping, submission history and typed scheduler job records.
package domain

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// UnknownEvents marks a File whose event count has not been set.
const UnknownEvents int64 = -1

// Storage is the backend that answers whether a file physically exists and removes it.
type Storage interface {
	Exists(ctx context.Context, name string) (bool, error)
	Remove(ctx context.Context, name string) error
}

// File is an input or output file addressed by name.
type File struct {
	Name   string `json:"name" yaml:"name"`
	Events int64  `json:"nevents" yaml:"nevents"`
}

// NewFile returns a File with an unknown event count.
func NewFile(name string) File {
	return File{Name: name, Events: UnknownEvents}
}

// EventsOrZero treats unknown counts as zero for packing and sums.
func (f File) EventsOrZero() int64 {
	if f.Events < 0 {
		return 0
	}
	return f.Events
}

func (f File) String() string {
	return fmt.Sprintf("%s(%d)", f.Name, f.Events)
}

// Status of an output, as seen by reconciliation.
type Status int

const (
	// No job has been submitted yet, or the last one went away without producing the output.
	Unsubmitted Status = iota

	// A job was handed to the scheduler during this pass.
	Submitted

	Running
	Idle
	Held

	// The output exists and no job is live for it.
	Done

	// The job ran past the running threshold and was removed.
	LongRunningRemoved

	// The job stayed held past the held threshold and was removed.
	HeldAndRemoved
)

var statusNames = [...]string{
	"UNSUBMITTED", "SUBMITTED", "RUNNING", "IDLE", "HELD", "DONE",
	"LONG_RUNNING_REMOVED", "HELD_AND_REMOVED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return errors.Errorf("unknown output status %q", string(text))
}

// EventsFile is an output file. Its index is parsed from the numeric suffix of its name.
type EventsFile struct {
	File
	Index  int    `json:"index"`
	Status Status `json:"status"`
}

var indexRe = regexp.MustCompile(`_(\d+)(\.[^./]*)?$`)

// ParseIndex extracts the output index from names like "/out/dir/output_12.root".
func ParseIndex(name string) (int, error) {
	m := indexRe.FindStringSubmatch(path.Base(name))
	if m == nil {
		return 0, errors.Errorf("no output index in %q", name)
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, errors.Wrapf(err, "bad output index in %q", name)
	}
	if idx < 1 {
		return 0, errors.Errorf("output index must be positive in %q", name)
	}
	return idx, nil
}

// NewEventsFile builds an unsubmitted output whose index comes from name.
func NewEventsFile(name string, events int64) (*EventsFile, error) {
	idx, err := ParseIndex(name)
	if err != nil {
		return nil, err
	}
	return &EventsFile{File: File{Name: name, Events: events}, Index: idx, Status: Unsubmitted}, nil
}

// OutputName renders "{dir}/{stem}_{index}{ext}" from a template like "output.root".
func OutputName(dir, template string, index int) string {
	ext := path.Ext(template)
	stem := strings.TrimSuffix(template, ext)
	return path.Join(dir, fmt.Sprintf("%s_%d%s", stem, index, ext))
}

// BaseNoExt is the output's file name without directory or extension.
func (e *EventsFile) BaseNoExt() string {
	base := path.Base(e.Name)
	return strings.TrimSuffix(base, path.Ext(base))
}

// SumEvents adds up the known event counts of files.
func SumEvents(files []File) int64 {
	var n int64
	for _, f := range files {
		n += f.EventsOrZero()
	}
	return n
}

// IOEntry pairs the inputs of one chunk with the output they produce.
type IOEntry struct {
	Inputs []File      `json:"inputs"`
	Output *EventsFile `json:"output"`
}

// IOMapping is ordered by output index, in append order.
type IOMapping []IOEntry

// MappedInputNames returns every input name already assigned to an output.
func (m IOMapping) MappedInputNames() map[string]bool {
	names := make(map[string]bool)
	for _, e := range m {
		for _, f := range e.Inputs {
			names[f.Name] = true
		}
	}
	return names
}

// NextIndex is one past the largest index in the mapping, or 1 when empty.
func (m IOMapping) NextIndex() int {
	max := 0
	for _, e := range m {
		if e.Output.Index > max {
			max = e.Output.Index
		}
	}
	return max + 1
}

func (m IOMapping) Outputs() []*EventsFile {
	outs := make([]*EventsFile, 0, len(m))
	for _, e := range m {
		outs = append(outs, e.Output)
	}
	return outs
}

// Find returns the entry producing the named output.
func (m IOMapping) Find(output string) (IOEntry, bool) {
	for _, e := range m {
		if e.Output.Name == output {
			return e, true
		}
	}
	return IOEntry{}, false
}

// Validate checks that indices strictly increase in append order.
func (m IOMapping) Validate() error {
	last := 0
	for _, e := range m {
		if e.Output == nil {
			return errors.New("mapping entry without output")
		}
		if e.Output.Index <= last {
			return errors.Errorf("output index %d not greater than %d", e.Output.Index, last)
		}
		last = e.Output.Index
	}
	return nil
}

// Clone copies entries and outputs so a snapshot is not mutated by later passes.
func (m IOMapping) Clone() IOMapping {
	c := make(IOMapping, 0, len(m))
	for _, e := range m {
		out := *e.Output
		c = append(c, IOEntry{Inputs: append([]File(nil), e.Inputs...), Output: &out})
	}
	return c
}
