package workers

import (
	"log"
	"time"

	"github.com/claimflow/engine/services"
)

// ScanWorker drives the periodic overload scan. The engine itself owns no
// cadence; this worker is the external scheduler that calls ScanOverload
// on a fixed tick. Overlapping ticks are dropped by the service.
type ScanWorker struct {
	Workload *services.WorkloadService
	Interval time.Duration
}

func NewScanWorker(workload *services.WorkloadService, interval time.Duration) *ScanWorker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &ScanWorker{Workload: workload, Interval: interval}
}

// StartScanWorker runs the scan loop until stop is closed.
func (w *ScanWorker) StartScanWorker(stop <-chan struct{}) {
	log.Printf("Overload scan worker started (interval %s)", w.Interval)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			alerts, err := w.Workload.ScanOverload()
			if err != nil {
				if err == services.ErrScanInProgress {
					log.Println("Overload scan tick dropped: previous scan still running")
					continue
				}
				log.Printf("Overload scan failed: %v", err)
				continue
			}
			if len(alerts) > 0 {
				log.Printf("Overload scan raised %d alerts", len(alerts))
			}
		case <-stop:
			log.Println("Overload scan worker stopped")
			return
		}
	}
}
