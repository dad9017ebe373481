package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/opine/internal/config"
	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/services"
)

func TestStartScheduler(t *testing.T) {
	store := db.NewMemoryStore(quiet)
	rules := services.DefaultAutoRejectRules()
	lc := services.NewLifecycle(store, quiet)
	dedup := services.NewDuplicateIndex(store, lc, services.DefaultSweepPolicy(), rules, quiet)
	ev := services.NewAutoRejectionEvaluator(rules, dedup, quiet)
	maint := services.NewMaintenanceService(store, lc, dedup, ev, services.BatchOptions{}, quiet)

	c, err := startScheduler(config.ScheduleConfig{DedupSweep: "@every 15m", Repair: "@hourly"}, maint, quiet)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)
	<-c.Stop().Done()

	_, err = startScheduler(config.ScheduleConfig{Repair: "every tuesday"}, maint, quiet)
	assert.Error(t, err)
}
