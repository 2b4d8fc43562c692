package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageTracker_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		want   Stage
	}{
		{name: "initial", want: StageNotFetched},
		{
			name: "full install",
			events: []string{eventFetched, eventEnginesChecked, eventDependenciesReady,
				eventCopied, eventNativeInstalled, eventRecorded},
			want: StageRecorded,
		},
		{name: "already installed", events: []string{eventFetched, eventAlreadyInstalled}, want: StageRecorded},
		{name: "engine skip", events: []string{eventFetched, eventSkip}, want: StageSkipped},
		{name: "unknown event is ignored", events: []string{eventCopied}, want: StageNotFetched},
		{name: "retry after skip", events: []string{eventFetched, eventSkip, eventRetry}, want: StageNotFetched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, err := newStageTracker("a", "web")
			require.NoError(t, err)
			defer tracker.stop()

			for _, e := range tt.events {
				tracker.advance(e)
			}
			assert.Equal(t, tt.want, tracker.Stage())
		})
	}
}

func TestStageTracker_FailCarriesReachedStage(t *testing.T) {
	tracker, err := newStageTracker("a", "web")
	require.NoError(t, err)
	defer tracker.stop()

	tracker.advance(eventFetched)
	tracker.advance(eventEnginesChecked)
	failed := tracker.fail(errors.New("boom"))

	var installErr *InstallError
	require.ErrorAs(t, failed, &installErr)
	assert.Equal(t, StageEngineChecked, installErr.Stage)
	assert.Equal(t, "a", installErr.Plugin)
	assert.Equal(t, StageFailed, tracker.Stage())

	assert.Same(t, installErr, tracker.fail(installErr).(*InstallError))
}
