package engine

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/casemodel"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/procutil"
)

// Reconcile repairs on-disk state at startup: legacy manifests are migrated
// to the current grammar, and cases stuck in a transient status by a crashed
// process are moved to ERROR. A transient case whose job.pid points at a live
// process is left alone; another engine instance owns it.
func (e *Engine) Reconcile() error {
	cases, err := e.Builder.List()
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, c := range cases {
		migrated, err := e.Manifests.MigrateLegacy(c.ID)
		if err != nil {
			log.WithField("case", c.ID).Warnf("legacy manifest migration failed: %v", err)
			continue
		}
		if migrated {
			log.WithField("case", c.ID).Info("migrated legacy manifest")
			// Rebuild: the fold result may have changed.
			if c, err = e.Builder.Get(c.ID); err != nil {
				continue
			}
		}
		if !c.Status.Transient() {
			continue
		}

		pid, err := procutil.ReadPIDFile(e.pidPath(c.ID))
		if err != nil {
			log.WithField("case", c.ID).Warnf("unreadable job.pid: %v", err)
		}
		if pid != 0 && procutil.PIDAlive(pid) {
			log.WithFields(log.Fields{"case": c.ID, "pid": pid}).Warn("transient case owned by live process, leaving untouched")
			continue
		}

		log.WithFields(log.Fields{"case": c.ID, "status": c.Status}).Warn("repairing stale transient case")
		// On append failure the case stays transient; the next startup
		// retries the repair.
		if e.appendError(c.ID, "stale_job", fmt.Sprintf("process died while case was %s", c.Status)) != nil {
			continue
		}
		_ = e.appendStatus(c.ID, "", casemodel.StatusError)
	}
	return nil
}
