package metrics

import (
	"time"

	"media-converter/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// DBMetricsUpdater refreshes connection pool and file size gauges.
type DBMetricsUpdater interface {
	UpdateDBMetrics()
}

// Stats holds the current catalog statistics
type Stats struct {
	OriginalAssets     int
	ConvertedAssets    int
	IncompatibleAssets int
	UsedMB             int64
	AllottedMB         int64
	JobsInProgress     int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	dbUpdater     DBMetricsUpdater
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector. dbUpdater may be nil.
func NewCollector(provider StatsProvider, dbUpdater DBMetricsUpdater, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		dbUpdater:     dbUpdater,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.dbUpdater != nil {
		c.dbUpdater.UpdateDBMetrics()
	}

	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	AssetsTotal.WithLabelValues("original").Set(float64(stats.OriginalAssets))
	AssetsTotal.WithLabelValues("converted").Set(float64(stats.ConvertedAssets))
	AssetsTotal.WithLabelValues("incompatible").Set(float64(stats.IncompatibleAssets))
	StorageMB.WithLabelValues("used").Set(float64(stats.UsedMB))
	StorageMB.WithLabelValues("allotted").Set(float64(stats.AllottedMB))
	ConversionJobsInProgress.Set(float64(stats.JobsInProgress))

	logging.Debug("Metrics collected: originals=%d, converted=%d, incompatible=%d, used=%dMB/%dMB",
		stats.OriginalAssets, stats.ConvertedAssets, stats.IncompatibleAssets, stats.UsedMB, stats.AllottedMB)
}
