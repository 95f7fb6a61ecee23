package task

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/condortask/chunker"
	"github.com/twitter/condortask/domain"
)

// MappingOptions adjusts one UpdateMapping call.
type MappingOptions struct {
	// Flush closes the trailing partial chunk of an open dataset.
	Flush bool

	// Requery asks the sample for new files even when the dataset is closed and mapped.
	Requery bool

	// Override chunks are mapped verbatim instead of packing the sample's files.
	Override [][]domain.File
}

// UpdateMapping appends an entry for every new chunk and returns how many were added.
// Existing entries are never changed. The sample is queried when the mapping is empty,
// the dataset is open, RequeryClosedDataset is set or opts.Requery asks for it.
func (t *Task) UpdateMapping(ctx context.Context, opts MappingOptions) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chunks, err := t.newChunks(ctx, opts)
	if err != nil {
		return 0, err
	}
	if t.cfg.MaxJobs > 0 {
		room := t.cfg.MaxJobs - len(t.state.Mapping)
		if room < 0 {
			room = 0
		}
		if len(chunks) > room {
			t.logger.WithFields(log.Fields{"chunks": len(chunks), "max_jobs": t.cfg.MaxJobs}).
				Info("Truncating chunks to max jobs")
			chunks = chunks[:room]
		}
	}

	next := t.nextIndex()
	added := 0
	for _, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		name := domain.OutputName(t.outputDir, t.cfg.OutputName, next)
		out, err := domain.NewEventsFile(name, domain.SumEvents(chunk))
		if err != nil {
			return added, errors.Wrapf(err, "output for chunk %d", next)
		}
		t.state.Mapping = append(t.state.Mapping, domain.IOEntry{
			Inputs: append([]domain.File(nil), chunk...),
			Output: out,
		})
		next++
		added++
	}
	if added > 0 {
		t.logger.WithFields(log.Fields{"added": added, "outputs": len(t.state.Mapping)}).Info("Updated mapping")
	}
	return added, nil
}

func (t *Task) shouldQuery(opts MappingOptions) bool {
	return len(t.state.Mapping) == 0 || t.cfg.OpenDataset || t.cfg.RequeryClosedDataset || opts.Requery
}

func (t *Task) newChunks(ctx context.Context, opts MappingOptions) ([][]domain.File, error) {
	if len(opts.Override) > 0 {
		t.logger.WithFields(log.Fields{"chunks": len(opts.Override)}).Info("Using override chunks")
		return opts.Override, nil
	}
	if t.cfg.SplitWithinFiles && (t.cfg.TotalEvents < 1 || t.cfg.EventsPerOutput < 1) {
		return nil, ErrSplitWithinFiles
	}
	if !t.shouldQuery(opts) {
		return nil, nil
	}

	files, err := t.sample.Files(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "listing files of %s", t.sample.DatasetName())
	}
	if n, err := t.sample.NEvents(ctx); err != nil {
		t.logger.WithFields(log.Fields{"err": err}).Warn("Couldn't query event count")
	} else {
		t.state.QueriedEvents = n
	}

	mapped := t.state.Mapping.MappedInputNames()
	for _, name := range t.state.RetiredInputs {
		mapped[name] = true
	}
	fresh := make([]domain.File, 0, len(files))
	for _, f := range files {
		if !mapped[f.Name] {
			fresh = append(fresh, f)
		}
	}

	if t.cfg.SplitWithinFiles {
		if len(fresh) == 0 {
			return nil, nil
		}
		return chunker.Replicate(fresh, int(t.cfg.TotalEvents/t.cfg.EventsPerOutput)), nil
	}

	flush := !t.cfg.OpenDataset || opts.Flush
	chunks, leftover := chunker.Chunk(fresh, bound(t.cfg.FilesPerOutput), bound(t.cfg.EventsPerOutput), flush)
	if len(leftover) > 0 {
		t.logger.WithFields(log.Fields{"files": len(leftover)}).Debug("Holding back partial chunk until more files arrive")
	}
	return chunks, nil
}

// nextIndex is past every index in the mapping and in the history, so a new output never
// inherits the submissions of a dropped one.
func (t *Task) nextIndex() int {
	next := t.state.Mapping.NextIndex()
	for index := range t.state.SubmissionHistory {
		if index >= next {
			next = index + 1
		}
	}
	return next
}

func bound(n int64) int64 {
	if n <= 0 {
		return chunker.Unbounded
	}
	return n
}
