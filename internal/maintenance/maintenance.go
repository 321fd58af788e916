// Package maintenance runs the gateway's periodic housekeeping on cron
// schedules: demoting stale materialized schemas, reconnecting configured
// tool servers that dropped, and logging catalog stats.
package maintenance

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/toolserver"
)

type Runner struct {
	cron *cron.Cron
	cat  *catalog.Catalog
	dir  *toolserver.Directory

	ttl     time.Duration
	max     int
	servers map[string]config.ServerEndpoint
}

func New(cfg *config.Config, cat *catalog.Catalog, dir *toolserver.Directory) (*Runner, error) {
	r := &Runner{
		cron:    cron.New(),
		cat:     cat,
		dir:     dir,
		ttl:     config.Duration(cfg.Catalog.MaterializedTTL, 30*time.Minute),
		max:     cfg.Catalog.MaxMaterialized,
		servers: cfg.Servers,
	}

	sweep := cfg.Maintenance.SweepSchedule
	if sweep == "" {
		sweep = "@every 5m"
	}
	if _, err := r.cron.AddFunc(sweep, r.sweep); err != nil {
		return nil, err
	}

	refresh := cfg.Maintenance.RefreshSchedule
	if refresh == "" {
		refresh = "@every 15m"
	}
	if _, err := r.cron.AddFunc(refresh, r.refresh); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) Start() { r.cron.Start() }

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// sweep demotes materialized schemas past their TTL and over the max count,
// then logs where the catalog stands.
func (r *Runner) sweep() {
	demoted := r.cat.SweepMaterialized(r.ttl, r.max)
	s := r.cat.Stats()
	log.Printf("maintenance: sweep demoted %d; catalog: %d tools, %d materialized, %d retired, %d workflows",
		demoted, s.Tools, s.Materialized, s.Retired, s.Workflows)
}

// refresh reconnects any configured tool server that has no live connection.
// A server that went away and came back re-advertises its tools; unchanged
// schemas keep their catalog sequence, changed ones invalidate dependents.
func (r *Runner) refresh() {
	if r.dir == nil {
		return
	}
	connected := make(map[string]bool)
	for _, name := range r.dir.Connected() {
		connected[name] = true
	}
	for name, ep := range r.servers {
		if connected[name] {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.dir.Connect(ctx, name, ep.Network, ep.Address); err != nil {
			log.Printf("maintenance: reconnecting %s (%s %s): %v", name, ep.Network, ep.Address, err)
		} else {
			log.Printf("maintenance: reconnected %s", name)
		}
		cancel()
	}
}
