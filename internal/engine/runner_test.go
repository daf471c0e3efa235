package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) AppendTrades(rows []models.TradeRow) error {
	return m.Called(rows).Error(0)
}

func (m *mockSink) MarkSession(date string) error {
	return m.Called(date).Error(0)
}

func (m *mockSink) HasSession(date string) bool {
	return m.Called(date).Bool(0)
}

func TestTradingDays(t *testing.T) {
	days := TradingDays(day, day.AddDate(0, 0, 7))
	require.Len(t, days, 6)
	assert.Equal(t, time.Monday, days[0].Weekday())
	assert.Equal(t, time.Monday, days[5].Weekday())
	assert.Empty(t, TradingDays(day.AddDate(0, 0, 5), day.AddDate(0, 0, 6)), "weekend only")
}

func TestRunner_Run(t *testing.T) {
	p := fixture(6, quotes{25000: {100, 90}, 25100: {50}}, nil)
	sink := &mockSink{}
	sink.On("HasSession", "2025-08-05").Return(true)
	sink.On("HasSession", mock.Anything).Return(false)
	sink.On("AppendTrades", mock.MatchedBy(func(rows []models.TradeRow) bool {
		return len(rows) == 1 && rows[0].Date == "2025-08-04" && rows[0].RunID != ""
	})).Return(nil).Once()

	r := NewRunner(p, sink, Options{}, 2)
	res, err := r.Run(context.Background(), config(5, shortCall()), day, day.AddDate(0, 0, 6))
	require.NoError(t, err)

	_, perr := uuid.Parse(res.RunID)
	require.NoError(t, perr)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, res.RunID, res.Rows[0].RunID)
	assert.Equal(t, []string{"2025-08-05"}, res.Skipped)
	require.Len(t, res.Failures, 3)
	for _, f := range res.Failures {
		assert.Equal(t, FailureDataGap, f.Reason)
		var gap *models.DataGapError
		assert.ErrorAs(t, f.Err, &gap)
	}
	assert.Equal(t, "2025-08-06", res.Failures[0].Date)
	sink.AssertExpectations(t)
}

func TestRunner_EmptySessionIsMarked(t *testing.T) {
	// No put quotes, so the only leg fails strike selection every day.
	p := fixture(6, quotes{25000: {100}, 25100: {50}}, nil)
	pe := shortCall()
	pe.StrikeCriteria = models.StrikeCriteria{Mode: models.ModeStraddleWidth, Params: models.StrikeParams{"multiplier": "1"}}
	sink := &mockSink{}
	sink.On("HasSession", mock.Anything).Return(false)
	sink.On("MarkSession", "2025-08-04").Return(nil).Once()

	res, err := NewRunner(p, sink, Options{}, 1).Run(context.Background(), config(5, pe), day, day)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Empty(t, res.Failures)
	sink.AssertExpectations(t)
	sink.AssertNotCalled(t, "AppendTrades", mock.Anything)
}

func TestRunner_InvalidConfigFailsFast(t *testing.T) {
	sink := &mockSink{}
	cfg := config(5, shortCall())
	cfg.Legs[0].QtyLots = 0

	_, err := NewRunner(fixture(1, quotes{25000: {1}}, nil), sink, Options{}, 0).
		Run(context.Background(), cfg, day, day)
	var cerr *models.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	sink.AssertNotCalled(t, "HasSession", mock.Anything)
}

func TestRunner_SinkErrorStopsRun(t *testing.T) {
	p := fixture(6, quotes{25000: {100}, 25100: {50}}, nil)
	sink := &mockSink{}
	sink.On("HasSession", mock.Anything).Return(false)
	sink.On("AppendTrades", mock.Anything).Return(errors.New("disk full"))

	_, err := NewRunner(p, sink, Options{}, 1).Run(context.Background(), config(5, shortCall()), day, day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunner_CanceledRunIsNotPersisted(t *testing.T) {
	p := fixture(6, quotes{25000: {100}, 25100: {50}}, nil)
	sink := &mockSink{}
	sink.On("HasSession", mock.Anything).Return(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(p, sink, Options{}, 1).Run(ctx, config(5, shortCall()), day, day)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	sink.AssertNotCalled(t, "AppendTrades", mock.Anything)
}
