package metrics

import (
	"expvar"
)

var (
	// SearchesStarted counts accepted search runs
	SearchesStarted = expvar.NewInt("searches_started_total")

	// SearchesCompleted counts runs that reached Complete
	SearchesCompleted = expvar.NewInt("searches_completed_total")

	// SearchesFailed counts runs that reached Failed
	SearchesFailed = expvar.NewInt("searches_failed_total")

	// SearchesCanceled counts runs stopped by cancellation
	SearchesCanceled = expvar.NewInt("searches_canceled_total")

	// SearchesRejected counts Start calls refused because a run was active
	SearchesRejected = expvar.NewInt("searches_rejected_total")

	// EmbeddingsExtracted counts successful embedding extractions
	EmbeddingsExtracted = expvar.NewInt("embeddings_extracted_total")

	// EmbeddingsFailed counts files skipped because extraction failed
	EmbeddingsFailed = expvar.NewInt("embeddings_failed_total")

	// AnalysesTotal counts full track analyses
	AnalysesTotal = expvar.NewInt("analyses_total")

	// MasteringJobsTotal counts mastering invocations
	MasteringJobsTotal = expvar.NewInt("mastering_jobs_total")

	// APIErrorsTotal counts HTTP handler errors
	APIErrorsTotal = expvar.NewInt("api_errors_total")
)
