package kbcontent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kb_uploads_total",
		Help: "Total number of upload attempts by outcome",
	}, []string{"outcome"})

	uploadCompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kb_upload_compensations_total",
		Help: "Total number of compensating object deletes by outcome",
	}, []string{"outcome"})

	contentViewsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kb_content_views_total",
		Help: "Total number of counted content views",
	})

	downloadURLsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kb_download_urls_total",
		Help: "Total number of download URL requests by outcome",
	}, []string{"outcome"})

	tagCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kb_tag_cache_hits_total",
		Help: "Total number of tag lookups served from the cache",
	})

	tagCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kb_tag_cache_misses_total",
		Help: "Total number of tag lookups that went to the datastore",
	})

	reconcileMarkedFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kb_reconcile_marked_failed_total",
		Help: "Total number of rows marked Failed because their object is missing",
	})
)

const (
	outcomeSuccess  = "success"
	outcomeFailed   = "failed"
	outcomeNotFound = "not_found"
	outcomeRejected = "rejected"
)
