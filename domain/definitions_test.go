package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIndex(t *testing.T) {
	cases := map[string]int{
		"/hadoop/out/output_1.root": 1,
		"output_42.root":            42,
		"/x/y/skim_tag_v1_7.root":   7,
		"/x/y/noext_3":              3,
	}
	for name, want := range cases {
		got, err := ParseIndex(name)
		if err != nil {
			t.Errorf("ParseIndex(%q) unexpected error: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParseIndex(%q) = %d, expected %d", name, got, want)
		}
	}

	for _, bad := range []string{"output.root", "/dir_5/output.root", "output_0.root"} {
		if _, err := ParseIndex(bad); err == nil {
			t.Errorf("ParseIndex(%q) expected error", bad)
		}
	}
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "/out/dir/output_3.root", OutputName("/out/dir/", "output.root", 3))
	assert.Equal(t, "/out/tree_10", OutputName("/out", "tree", 10))
}

func TestEventsFileBaseNoExt(t *testing.T) {
	out, err := NewEventsFile("/a/b/output_2.root", 10)
	assert.NoError(t, err)
	assert.Equal(t, "output_2", out.BaseNoExt())
	assert.Equal(t, 2, out.Index)
	assert.Equal(t, Unsubmitted, out.Status)
}

func TestIOMappingNextIndexAndNames(t *testing.T) {
	var m IOMapping
	assert.Equal(t, 1, m.NextIndex())

	o1, _ := NewEventsFile("/o/output_1.root", 3)
	o4, _ := NewEventsFile("/o/output_4.root", 5)
	m = IOMapping{
		{Inputs: []File{{"a", 1}, {"b", 2}}, Output: o1},
		{Inputs: []File{{"c", 5}}, Output: o4},
	}
	assert.Equal(t, 5, m.NextIndex())
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, m.MappedInputNames())
	assert.NoError(t, m.Validate())

	m = append(m, IOEntry{Inputs: []File{{"d", 1}}, Output: o1})
	assert.Error(t, m.Validate())
}

func TestIOMappingCloneIsDeep(t *testing.T) {
	o1, _ := NewEventsFile("/o/output_1.root", 3)
	m := IOMapping{{Inputs: []File{{"a", 1}}, Output: o1}}
	c := m.Clone()
	o1.Status = Done
	if c[0].Output.Status != Unsubmitted {
		t.Errorf("Expected clone to keep UNSUBMITTED, got %s", c[0].Output.Status)
	}
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(struct{ S Status }{HeldAndRemoved})
	assert.NoError(t, err)
	assert.Equal(t, `{"S":"HELD_AND_REMOVED"}`, string(data))

	var back struct{ S Status }
	assert.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, HeldAndRemoved, back.S)

	assert.Error(t, json.Unmarshal([]byte(`{"S":"BOGUS"}`), &back))
}

func TestParseJobStatus(t *testing.T) {
	assert.Equal(t, JobRunning, ParseJobStatus(2))
	assert.Equal(t, JobHeld, ParseJobStatus(5))
	assert.Equal(t, JobIdle, ParseJobStatus(17))
	assert.Equal(t, "H", JobHeld.String())
}

func TestSubmissionHistory(t *testing.T) {
	h := SubmissionHistory{}
	_, ok := h.Last(1)
	assert.False(t, ok)

	h.Append(1, Submission{ID: "10"})
	h.Append(1, Submission{ID: "11", Site: "T2_US_UCSD"})
	last, ok := h.Last(1)
	assert.True(t, ok)
	assert.Equal(t, "11", last.ID)

	c := h.Clone()
	h.Append(1, Submission{ID: "12"})
	assert.Len(t, c[1], 2)
}

func TestJobRecordElapsed(t *testing.T) {
	now := time.Unix(10000, 0)
	j := JobRecord{EnteredStatus: now.Add(-2 * time.Hour)}
	assert.Equal(t, 2*time.Hour, j.Elapsed(now))
	assert.Equal(t, time.Duration(0), JobRecord{}.Elapsed(now))
}

func TestStdLogPaths(t *testing.T) {
	out, err := StdLogPaths("/task/logs", "123")
	assert.Equal(t, "/task/logs/std_logs/1e.123.0.out", out)
	assert.Equal(t, "/task/logs/std_logs/1e.123.0.err", err)
}
