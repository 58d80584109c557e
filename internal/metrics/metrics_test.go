package metrics_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/calvinalkan/rocky/internal/metrics"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics

	m.ObserveLoad(metrics.SourcePrimary)
	m.LoadFailed()
	m.ObserveSave(time.Millisecond, nil)
	m.BackupCreated()
	m.BackupsPruned(3)
	m.BackupFailed()
	m.LogLineAppended()
}

func TestMetrics_Counts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveSave(time.Millisecond, nil)
	m.ObserveSave(time.Millisecond, errors.New("disk full"))
	m.ObserveSave(time.Millisecond, nil)
	m.BackupsPruned(2)
	m.BackupsPruned(0)
	m.BackupsPruned(-1)

	want := `
# HELP rocky_backups_pruned_total Backup snapshots removed by retention
# TYPE rocky_backups_pruned_total counter
rocky_backups_pruned_total 2
# HELP rocky_store_saves_total Saves by result
# TYPE rocky_store_saves_total counter
rocky_store_saves_total{result="error"} 1
rocky_store_saves_total{result="ok"} 2
`

	err := testutil.GatherAndCompare(reg, strings.NewReader(want), "rocky_store_saves_total", "rocky_backups_pruned_total")
	if err != nil {
		t.Fatal(err)
	}

	if got := testutil.CollectAndCount(reg, "rocky_store_save_duration_seconds"); got != 1 {
		t.Fatalf("histogram series=%d, want 1", got)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics.New(reg)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()

	metrics.New(reg)
}
