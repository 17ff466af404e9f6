package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/serial-archiver/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StageJobStart, Work: "novelpia/42"},
		{JobID: "a", TS: now, Stage: progress.StageUnitDone, Completed: 1, Total: 1, Outcome: "cached"},
		{JobID: "a", TS: now, Stage: progress.StageJobDone, Completed: 1, Total: 1},
		{JobID: "b", TS: now, Stage: progress.StageJobError, Note: "boom"},
	}))

	entries := logs.All()
	require.Len(t, entries, 4)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, "cached", entries[1].ContextMap()["outcome"])
	require.Equal(t, "job done", entries[2].Message)
	require.Equal(t, zapcore.WarnLevel, entries[3].Level)
	require.Equal(t, "boom", entries[3].ContextMap()["note"])
}
