package metrics

import "sync/atomic"

// Metrics captures shared operational stats for the monitor and workers.
type Metrics struct {
	callsStarted   atomic.Int64
	callsCompleted atomic.Int64
	dispatchDrops  atomic.Int64

	downloadsOK     atomic.Int64
	downloadsFailed atomic.Int64
	voiceSent       atomic.Int64
	textFallbacks   atomic.Int64
	failureNotices  atomic.Int64
	otpsFound       atomic.Int64

	refreshesOK      atomic.Int64
	refreshesFailed  atomic.Int64
	reauthAttempts   atomic.Int64
	reauthFailures   atomic.Int64
	challengesSeen   atomic.Int64
	challengesSolved atomic.Int64
	errorBudget      atomic.Int64

	queueLength   atomic.Int64
	queueCapacity atomic.Int64
	workerCount   atomic.Int64
	processedJobs atomic.Int64
	failedJobs    atomic.Int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	CallsStarted     int64 `json:"calls_started"`
	CallsCompleted   int64 `json:"calls_completed"`
	DispatchDrops    int64 `json:"dispatch_drops"`
	DownloadsOK      int64 `json:"downloads_ok"`
	DownloadsFailed  int64 `json:"downloads_failed"`
	VoiceSent        int64 `json:"voice_sent"`
	TextFallbacks    int64 `json:"text_fallbacks"`
	FailureNotices   int64 `json:"failure_notices"`
	OTPsFound        int64 `json:"otps_found"`
	RefreshesOK      int64 `json:"refreshes_ok"`
	RefreshesFailed  int64 `json:"refreshes_failed"`
	ReauthAttempts   int64 `json:"reauth_attempts"`
	ReauthFailures   int64 `json:"reauth_failures"`
	ChallengesSeen   int64 `json:"challenges_seen"`
	ChallengesSolved int64 `json:"challenges_solved"`
	ErrorBudget      int64 `json:"error_budget"`
	QueueLength      int   `json:"queue_length"`
	QueueCapacity    int   `json:"queue_capacity"`
	WorkerCount      int   `json:"worker_count"`
	ProcessedJobs    int64 `json:"processed_jobs"`
	FailedJobs       int64 `json:"failed_jobs"`
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) CallStarted()     { m.callsStarted.Add(1) }
func (m *Metrics) CallCompleted()   { m.callsCompleted.Add(1) }
func (m *Metrics) DispatchDropped() { m.dispatchDrops.Add(1) }

// Download records a download attempt outcome.
func (m *Metrics) Download(ok bool) {
	if ok {
		m.downloadsOK.Add(1)
		return
	}
	m.downloadsFailed.Add(1)
}

func (m *Metrics) VoiceSent()     { m.voiceSent.Add(1) }
func (m *Metrics) TextFallback()  { m.textFallbacks.Add(1) }
func (m *Metrics) FailureNotice() { m.failureNotices.Add(1) }
func (m *Metrics) OTPFound()      { m.otpsFound.Add(1) }

// Refresh records a scheduled reload outcome.
func (m *Metrics) Refresh(ok bool) {
	if ok {
		m.refreshesOK.Add(1)
		return
	}
	m.refreshesFailed.Add(1)
}

// Reauth records a re-authentication attempt outcome.
func (m *Metrics) Reauth(ok bool) {
	m.reauthAttempts.Add(1)
	if !ok {
		m.reauthFailures.Add(1)
	}
}

// Challenge records a detected challenge and whether it cleared.
func (m *Metrics) Challenge(resolved bool) {
	m.challengesSeen.Add(1)
	if resolved {
		m.challengesSolved.Add(1)
	}
}

// SetErrorBudget records the current consecutive error count.
func (m *Metrics) SetErrorBudget(n int) { m.errorBudget.Store(int64(n)) }

// UpdateQueue records the current queue stats.
func (m *Metrics) UpdateQueue(length, capacity, workers int) {
	m.queueLength.Store(int64(length))
	m.queueCapacity.Store(int64(capacity))
	m.workerCount.Store(int64(workers))
}

// RecordJobCompletion increments processed/failed counters based on outcome.
func (m *Metrics) RecordJobCompletion(err error) {
	m.processedJobs.Add(1)
	if err != nil {
		m.failedJobs.Add(1)
	}
}

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		CallsStarted:     m.callsStarted.Load(),
		CallsCompleted:   m.callsCompleted.Load(),
		DispatchDrops:    m.dispatchDrops.Load(),
		DownloadsOK:      m.downloadsOK.Load(),
		DownloadsFailed:  m.downloadsFailed.Load(),
		VoiceSent:        m.voiceSent.Load(),
		TextFallbacks:    m.textFallbacks.Load(),
		FailureNotices:   m.failureNotices.Load(),
		OTPsFound:        m.otpsFound.Load(),
		RefreshesOK:      m.refreshesOK.Load(),
		RefreshesFailed:  m.refreshesFailed.Load(),
		ReauthAttempts:   m.reauthAttempts.Load(),
		ReauthFailures:   m.reauthFailures.Load(),
		ChallengesSeen:   m.challengesSeen.Load(),
		ChallengesSolved: m.challengesSolved.Load(),
		ErrorBudget:      m.errorBudget.Load(),
		QueueLength:      int(m.queueLength.Load()),
		QueueCapacity:    int(m.queueCapacity.Load()),
		WorkerCount:      int(m.workerCount.Load()),
		ProcessedJobs:    m.processedJobs.Load(),
		FailedJobs:       m.failedJobs.Load(),
	}
}
