package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestQueriesTotal(t *testing.T) {
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues(OutcomeSuccess))
	QueriesTotal.WithLabelValues(OutcomeSuccess).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(QueriesTotal.WithLabelValues(OutcomeSuccess)))
}

func TestObserveSince(t *testing.T) {
	before := testutil.CollectAndCount(RetrievalDuration)
	ObserveSince(RetrievalDuration, time.Now().Add(-time.Second))
	assert.Equal(t, before, testutil.CollectAndCount(RetrievalDuration))
}
