package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doc_assistant",
		Name:      "answer_routes_total",
		Help:      "Questions answered, by route.",
	}, []string{"route"})

	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doc_assistant",
		Name:      "ingest_total",
		Help:      "Ingested sources, by result status.",
	}, []string{"status"})

	retrievalSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "doc_assistant",
		Name:      "retrieval_duration_seconds",
		Help:      "Time spent embedding a question and searching the store.",
		Buckets:   prometheus.DefBuckets,
	})
)
