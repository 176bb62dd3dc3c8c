/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package storage

import "time"
import "github.com/dc0d/onexit"
import "github.com/launix-de/memcp-xa/scm"

type SettingsT struct {
	Backtrace              bool
	Trace                  bool
	TracePrint             bool
	PartitionMaxDimensions int
	DefaultEngine          string
	ShardSize              uint
	AnalyzeMinItems        int
	AIEstimator            bool
	// TCHeuristicRecover is the crash-recovery fallback for XA branches
	// that can't otherwise be resolved at startup: "NONE" (refuse to
	// start until resolved by hand), "COMMIT" or "ROLLBACK".
	TCHeuristicRecover string
	// LockWaitTimeout bounds how long XA COMMIT waits to acquire the
	// process-wide commit lock before giving up and rolling back.
	LockWaitTimeout time.Duration
}

var Settings SettingsT = SettingsT{false, false, false, 10, "safe", 60000, 50, false, "NONE", 50 * time.Second}

// LockWaitTimeoutChanged, if set, is notified whenever LockWaitTimeout is
// changed through ChangeSettings - the hook cmd/memcpxa/main.go uses to
// push the new value into its xa.Coordinator, the way AIEstimator's change
// below starts/stops the estimator goroutine rather than just recording
// the new value and doing nothing with it.
var LockWaitTimeoutChanged func(time.Duration)

// call this after you filled Settings
func InitSettings() {
	scm.SettingsHaveGoodBacktraces = Settings.Backtrace
	scm.SetTrace(Settings.Trace)
	scm.TracePrint = Settings.TracePrint
	onexit.Register(func() { scm.SetTrace(false) }) // close trace file on exit
}

func ChangeSettings(a ...scm.Scmer) scm.Scmer {
	// (): list all settings, (name): get one, (name value): set one
	if len(a) == 0 {
		return scm.NewSlice([]scm.Scmer{
			scm.NewString("Backtrace"), scm.NewBool(Settings.Backtrace),
			scm.NewString("Trace"), scm.NewBool(Settings.Trace),
			scm.NewString("TracePrint"), scm.NewBool(Settings.TracePrint),
			scm.NewString("PartitionMaxDimensions"), scm.NewInt(int64(Settings.PartitionMaxDimensions)),
			scm.NewString("DefaultEngine"), scm.NewString(Settings.DefaultEngine),
			scm.NewString("ShardSize"), scm.NewInt(int64(Settings.ShardSize)),
			scm.NewString("AnalyzeMinItems"), scm.NewInt(int64(Settings.AnalyzeMinItems)),
			scm.NewString("AIEstimator"), scm.NewBool(Settings.AIEstimator),
			scm.NewString("TCHeuristicRecover"), scm.NewString(Settings.TCHeuristicRecover),
			scm.NewString("LockWaitTimeout"), scm.NewInt(int64(Settings.LockWaitTimeout / time.Second)),
		})
	} else if len(a) == 1 {
		switch scm.String(a[0]) {
		case "Backtrace":
			return scm.NewBool(Settings.Backtrace)
		case "Trace":
			return scm.NewBool(Settings.Trace)
		case "TracePrint":
			return scm.NewBool(Settings.TracePrint)
		case "PartitionMaxDimensions":
			return scm.NewInt(int64(Settings.PartitionMaxDimensions))
		case "DefaultEngine":
			return scm.NewString(Settings.DefaultEngine)
		case "ShardSize":
			return scm.NewInt(int64(Settings.ShardSize))
		case "AnalyzeMinItems":
			return scm.NewInt(int64(Settings.AnalyzeMinItems))
		case "AIEstimator":
			return scm.NewBool(Settings.AIEstimator)
		case "TCHeuristicRecover":
			return scm.NewString(Settings.TCHeuristicRecover)
		case "LockWaitTimeout":
			return scm.NewInt(int64(Settings.LockWaitTimeout / time.Second))
		default:
			panic("unknown setting: " + scm.String(a[0]))
		}
	} else {
		switch scm.String(a[0]) {
		case "Backtrace":
			scm.SettingsHaveGoodBacktraces = Settings.Backtrace
			Settings.Backtrace = scm.ToBool(a[1])
		case "Trace":
			Settings.Trace = scm.ToBool(a[1])
			scm.SetTrace(Settings.Trace)
		case "TracePrint":
			Settings.TracePrint = scm.ToBool(a[1])
			scm.TracePrint = Settings.TracePrint
		case "PartitionMaxDimensions":
			Settings.PartitionMaxDimensions = scm.ToInt(a[1])
		case "DefaultEngine":
			Settings.DefaultEngine = scm.String(a[1])
		case "ShardSize":
			Settings.ShardSize = uint(scm.ToInt(a[1]))
		case "AnalyzeMinItems":
			Settings.AnalyzeMinItems = scm.ToInt(a[1])
		case "AIEstimator":
			prev := Settings.AIEstimator
			Settings.AIEstimator = scm.ToBool(a[1])
			if prev != Settings.AIEstimator {
				// start/stop estimator on change
				if Settings.AIEstimator {
					StartGlobalEstimator()
				} else {
					StopGlobalEstimator()
				}
			} else if Settings.AIEstimator {
				// Setting already true; if estimator not running, try to (re)start
				globalEstimatorMu.Lock()
				est := globalEstimator
				globalEstimatorMu.Unlock()
				if est == nil {
					StartGlobalEstimator()
				}
			}
		case "TCHeuristicRecover":
			Settings.TCHeuristicRecover = scm.String(a[1])
		case "LockWaitTimeout":
			Settings.LockWaitTimeout = time.Duration(scm.ToInt(a[1])) * time.Second
			if LockWaitTimeoutChanged != nil {
				LockWaitTimeoutChanged(Settings.LockWaitTimeout)
			}
		default:
			panic("unknown setting: " + scm.String(a[0]))
		}
		return scm.NewBool(true)
	}
}
