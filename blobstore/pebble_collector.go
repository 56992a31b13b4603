package blobstore

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// PebbleCollector surfaces the blob store's pebble internals to prometheus.
type PebbleCollector struct {
	db *pebble.DB

	compactionCount *prometheus.Desc
	compactionDebt  *prometheus.Desc

	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc

	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc

	diskSpaceUsage *prometheus.Desc
	flushCount     *prometheus.Desc
}

func NewPebbleCollector(db *pebble.DB) *PebbleCollector {
	return &PebbleCollector{
		db: db,

		compactionCount: prometheus.NewDesc(
			"flatstate_blobstore_compaction_count_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionDebt: prometheus.NewDesc(
			"flatstate_blobstore_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"flatstate_blobstore_memtable_size_bytes",
			"Current size of memtables in bytes",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"flatstate_blobstore_memtable_count_total",
			"Current count of memtables",
			nil, nil,
		),
		walFiles: prometheus.NewDesc(
			"flatstate_blobstore_wal_files_total",
			"Number of live WAL files",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"flatstate_blobstore_wal_size_bytes",
			"Size of live WAL data in bytes",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"flatstate_blobstore_wal_bytes_written_total",
			"Total physical bytes written to the WAL",
			nil, nil,
		),
		diskSpaceUsage: prometheus.NewDesc(
			"flatstate_blobstore_disk_space_usage_bytes",
			"Total disk space used by the store",
			nil, nil,
		),
		flushCount: prometheus.NewDesc(
			"flatstate_blobstore_flush_count_total",
			"Total number of memtable flushes",
			nil, nil,
		),
	}
}

func (pc *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.compactionCount
	ch <- pc.compactionDebt
	ch <- pc.memtableSize
	ch <- pc.memtableCount
	ch <- pc.walFiles
	ch <- pc.walSize
	ch <- pc.walBytesWritten
	ch <- pc.diskSpaceUsage
	ch <- pc.flushCount
}

func (pc *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	metrics := pc.db.Metrics()

	ch <- prometheus.MustNewConstMetric(
		pc.compactionCount,
		prometheus.CounterValue,
		float64(metrics.Compact.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.compactionDebt,
		prometheus.GaugeValue,
		float64(metrics.Compact.EstimatedDebt),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.memtableSize,
		prometheus.GaugeValue,
		float64(metrics.MemTable.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.memtableCount,
		prometheus.GaugeValue,
		float64(metrics.MemTable.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.walFiles,
		prometheus.GaugeValue,
		float64(metrics.WAL.Files),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.walSize,
		prometheus.GaugeValue,
		float64(metrics.WAL.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.walBytesWritten,
		prometheus.CounterValue,
		float64(metrics.WAL.BytesWritten),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.diskSpaceUsage,
		prometheus.GaugeValue,
		float64(metrics.DiskSpaceUsage()),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.flushCount,
		prometheus.CounterValue,
		float64(metrics.Flush.Count),
	)
}
