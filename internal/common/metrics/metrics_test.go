package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSubmissionRecorder(t *testing.T) {
	r := NewSubmissionRecorder(nil)

	inflight := testutil.ToFloat64(ChartSubmissionsInFlight)
	succeeded := testutil.ToFloat64(ChartSubmissions.WithLabelValues(OutcomeSucceeded))
	rejected := testutil.ToFloat64(ChartSubmissions.WithLabelValues(OutcomeRejected))

	r.SubmissionStarted()
	assert.Equal(t, inflight+1, testutil.ToFloat64(ChartSubmissionsInFlight))

	r.SubmissionFinished(context.Background(), OutcomeSucceeded, 1500*time.Millisecond)
	assert.Equal(t, inflight, testutil.ToFloat64(ChartSubmissionsInFlight))
	assert.Equal(t, succeeded+1, testutil.ToFloat64(ChartSubmissions.WithLabelValues(OutcomeSucceeded)))

	r.SubmissionRejected()
	assert.Equal(t, rejected+1, testutil.ToFloat64(ChartSubmissions.WithLabelValues(OutcomeRejected)))
}
