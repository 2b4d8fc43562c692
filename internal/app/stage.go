package app

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Stage is a state of the per plugin-platform install machine.
type Stage string

// Machine state names. Untyped so they work as statekit state ids.
const (
	stateNotFetched           = "not_fetched"
	stateFetched              = "fetched"
	stateEngineChecked        = "engine_checked"
	stateDependenciesResolved = "dependencies_resolved"
	stateCopied               = "copied"
	stateNativelyInstalled    = "natively_installed"
	stateRecorded             = "recorded"
	stateSkipped              = "skipped"
	stateFailed               = "failed"
)

const (
	StageNotFetched           Stage = stateNotFetched
	StageFetched              Stage = stateFetched
	StageEngineChecked        Stage = stateEngineChecked
	StageDependenciesResolved Stage = stateDependenciesResolved
	StageCopied               Stage = stateCopied
	StageNativelyInstalled    Stage = stateNativelyInstalled
	StageRecorded             Stage = stateRecorded
	StageSkipped              Stage = stateSkipped
	StageFailed               Stage = stateFailed
)

// Events driving the install machine.
const (
	eventFetched           = "FETCHED"
	eventEnginesChecked    = "ENGINES_CHECKED"
	eventDependenciesReady = "DEPENDENCIES_RESOLVED"
	eventCopied            = "COPIED"
	eventNativeInstalled   = "NATIVELY_INSTALLED"
	eventRecorded          = "RECORDED"
	eventAlreadyInstalled  = "ALREADY_INSTALLED"
	eventSkip              = "SKIP"
	eventFail              = "FAIL"
	eventRetry             = "RETRY"
)

// installContext is the statekit context of one plugin-platform install.
type installContext struct {
	Plugin   string
	Platform string
}

// stageTracker walks one plugin-platform pair through the install stages.
type stageTracker struct {
	interp   *statekit.Interpreter[installContext]
	plugin   string
	platform string
}

func newStageTracker(pluginID, platform string) (*stageTracker, error) {
	machine, err := statekit.NewMachine[installContext]("plugin-install").
		WithInitial(stateNotFetched).
		WithContext(installContext{Plugin: pluginID, Platform: platform}).
		State(stateNotFetched).
		On(eventFetched).Target(stateFetched).
		On(eventFail).Target(stateFailed).Done().
		State(stateFetched).
		On(eventEnginesChecked).Target(stateEngineChecked).
		On(eventAlreadyInstalled).Target(stateRecorded).
		On(eventSkip).Target(stateSkipped).
		On(eventFail).Target(stateFailed).Done().
		State(stateEngineChecked).
		On(eventDependenciesReady).Target(stateDependenciesResolved).
		On(eventSkip).Target(stateSkipped).
		On(eventFail).Target(stateFailed).Done().
		State(stateDependenciesResolved).
		On(eventCopied).Target(stateCopied).
		On(eventFail).Target(stateFailed).Done().
		State(stateCopied).
		On(eventNativeInstalled).Target(stateNativelyInstalled).
		On(eventFail).Target(stateFailed).Done().
		State(stateNativelyInstalled).
		On(eventRecorded).Target(stateRecorded).
		On(eventFail).Target(stateFailed).Done().
		State(stateRecorded).
		On(eventRetry).Target(stateNotFetched).Done().
		State(stateSkipped).
		On(eventRetry).Target(stateNotFetched).Done().
		State(stateFailed).
		On(eventRetry).Target(stateNotFetched).Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build install state machine: %w", err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return &stageTracker{interp: interp, plugin: pluginID, platform: platform}, nil
}

// advance sends event to the machine.
func (t *stageTracker) advance(event string) {
	t.interp.Send(statekit.Event{Type: statekit.EventType(event)})
}

// Stage returns the current stage.
func (t *stageTracker) Stage() Stage {
	return Stage(t.interp.State().Value)
}

// fail moves the machine to failed and wraps err with the stage reached.
// Errors already carrying a stage are returned unchanged.
func (t *stageTracker) fail(err error) error {
	reached := t.Stage()
	t.advance(eventFail)
	if IsInstallError(err) {
		return err
	}
	return &InstallError{Plugin: t.plugin, Platform: t.platform, Stage: reached, Err: err}
}

func (t *stageTracker) stop() {
	t.interp.Stop()
}
