package orphan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadimtuhin/loopwork/internal/process"
)

type fakeRegistry struct {
	records map[int]*process.Record
}

func newFakeRegistry(recs ...*process.Record) *fakeRegistry {
	r := &fakeRegistry{records: map[int]*process.Record{}}
	for _, rec := range recs {
		r.records[rec.PID] = rec
	}
	return r
}

func (f *fakeRegistry) List() []*process.Record {
	out := make([]*process.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out
}

func (f *fakeRegistry) UpdateStatus(pid int, status process.Status) error {
	if rec, ok := f.records[pid]; ok {
		rec.Status = status
	}
	return nil
}

func TestDetectorFlagsDeadEngineOwner(t *testing.T) {
	reg := newFakeRegistry(&process.Record{PID: 111, EnginePID: 999, Status: process.StatusRunning, StartedAt: time.Now()})
	d := NewDetector(reg, time.Hour, time.Minute, nil)
	d.isAlive = func(pid int) bool { return pid != 999 }

	orphans := d.Scan()
	require.Len(t, orphans, 1)
	assert.Equal(t, process.StatusOrphaned, reg.records[111].Status)
}

func TestDetectorFlagsStaleByTimeout(t *testing.T) {
	reg := newFakeRegistry(&process.Record{PID: 222, EnginePID: 1, Status: process.StatusRunning, StartedAt: time.Now().Add(-time.Hour)})
	d := NewDetector(reg, time.Hour, time.Minute, nil)
	d.isAlive = func(pid int) bool { return true }

	orphans := d.Scan()
	require.Len(t, orphans, 1)
	assert.Equal(t, 222, orphans[0].PID)
}

func TestDetectorIgnoresHealthyRecords(t *testing.T) {
	reg := newFakeRegistry(&process.Record{PID: 333, EnginePID: 1, Status: process.StatusRunning, StartedAt: time.Now()})
	d := NewDetector(reg, time.Hour, time.Minute, nil)
	d.isAlive = func(pid int) bool { return true }

	assert.Empty(t, d.Scan())
}

func TestDetectorInvokesOnOrphanCallback(t *testing.T) {
	reg := newFakeRegistry(&process.Record{PID: 444, EnginePID: 999, Status: process.StatusRunning, StartedAt: time.Now()})
	d := NewDetector(reg, time.Hour, time.Minute, nil)
	d.isAlive = func(pid int) bool { return false }

	var called []int
	d.OnOrphan(func(rec *process.Record) { called = append(called, rec.PID) })
	d.Scan()
	assert.Equal(t, []int{444}, called)
}
