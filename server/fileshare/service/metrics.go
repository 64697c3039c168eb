package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "share_live_records",
		Help: "Number of codes currently resolvable.",
	})
	issueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "share_issue_total",
		Help: "Upload attempts by result.",
	}, []string{"result"})
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "share_downloads_total",
		Help: "Download attempts by result.",
	}, []string{"result"})
	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "share_evictions_total",
		Help: "Records removed by the registry, by reason.",
	}, []string{"reason"})
	uploadSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "share_upload_size_bytes",
		Help:    "Size of accepted uploads.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})
	thumbnailCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "share_thumbnail_cache_total",
		Help: "Preview thumbnail cache lookups by result.",
	}, []string{"result"})
)

const (
	resultOK        = "ok"
	resultRejected  = "rejected"
	resultExhausted = "exhausted"
	resultNotFound  = "not_found"
	resultError     = "error"
)
