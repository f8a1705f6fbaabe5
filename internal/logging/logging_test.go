package logging_test

import (
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-ticket-sales/internal/logging"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := logging.WithCorrelationID(context.Background(), "req-42")

	assert.Equal(t, "req-42", logging.CorrelationID(ctx))
	assert.Equal(t, "req-42", logging.FromContext(ctx).Data["correlation_id"])
}

func TestCorrelationIDMissing(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, logging.CorrelationID(ctx))
	require.NotNil(t, logging.FromContext(ctx))
}

func TestNewCorrelationIDIsGeneratedAndUnique(t *testing.T) {
	a := logging.NewCorrelationID()
	b := logging.NewCorrelationID()

	assert.True(t, strings.HasPrefix(a, "gen_"))
	assert.NotEqual(t, a, b)
}

func TestWithFieldsKeepsCorrelationID(t *testing.T) {
	ctx := logging.WithCorrelationID(context.Background(), "abc")
	ctx = logging.WithFields(ctx, logrus.Fields{"queue": "seat.released"})

	data := logging.FromContext(ctx).Data
	assert.Equal(t, "abc", data["correlation_id"])
	assert.Equal(t, "seat.released", data["queue"])
	assert.Equal(t, "abc", logging.CorrelationID(ctx))
}
