package task

import (
	"github.com/pkg/errors"
)

// Configuration errors are returned by New and are never retried.
var (
	ErrMissingSample             = errors.New("task needs a sample")
	ErrMissingTag                = errors.New("task needs a tag")
	ErrMissingExecutable         = errors.New("task needs an executable")
	ErrMissingPset               = errors.New("cmssw task needs a pset")
	ErrMissingTarfile            = errors.New("cmssw task needs a tarfile")
	ErrMissingCMSSWVersion       = errors.New("cmssw task needs a cmssw version")
	ErrInvalidUniqueName         = errors.New("unique name can't be used as a scheduler label")
	ErrInvalidCompletionFraction = errors.New("min completion fraction must be in (0, 1]")
	ErrInvalidChunking           = errors.New("task needs a files or events per output bound")
	ErrUnknownKind               = errors.New("unknown task kind")
)

// ErrSplitWithinFiles is returned while building the mapping when splitting within
// files lacks the total event count or the events per output.
var ErrSplitWithinFiles = errors.New("splitting within files needs total events and events per output")
