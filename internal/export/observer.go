package export

import (
	"github.com/rs/zerolog"
)

// Stage names one phase of an export.
type Stage string

const (
	StageOpen     Stage = "open"
	StageCollect  Stage = "collect"
	StageAssemble Stage = "assemble"
	StageAnnex    Stage = "annex"
	StageBudget   Stage = "budget"
	StageVerify   Stage = "verify"
	StageWrite    Stage = "write"
	StageIndex    Stage = "index"
)

// Observer is told about the progress of one export. Implementations must
// not retain the result past the call.
type Observer interface {
	Stage(s Stage)
	Warning(msg string)
	Finished(res *Result, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) Stage(Stage)             {}
func (NopObserver) Warning(string)          {}
func (NopObserver) Finished(*Result, error) {}

// LogObserver writes progress to a zerolog logger. Record contents are
// never logged.
type LogObserver struct {
	Logger zerolog.Logger
}

func (o LogObserver) Stage(s Stage) {
	o.Logger.Debug().Str("stage", string(s)).Msg("export stage")
}

func (o LogObserver) Warning(msg string) {
	o.Logger.Warn().Msg(msg)
}

func (o LogObserver) Finished(res *Result, err error) {
	if err != nil {
		o.Logger.Error().Err(err).Int("exit_code", ExitCode(err, res)).Msg("export failed")
		return
	}
	ev := o.Logger.Info().
		Str("session_id", res.SessionID).
		Str("status", res.Status).
		Str("core_path", res.CorePath).
		Int("size_bytes", res.Size).
		Bool("truncated", res.Truncated)
	if len(res.Applied) > 0 {
		steps := make([]string, len(res.Applied))
		for i, s := range res.Applied {
			steps[i] = string(s)
		}
		ev = ev.Strs("degraded", steps)
	}
	if res.Annex != nil {
		ev = ev.Int("annex_files", len(res.Annex.Files))
	}
	if len(res.Pruned) > 0 {
		ev = ev.Int("pruned_runs", len(res.Pruned))
	}
	ev.Msg("export complete")
}
