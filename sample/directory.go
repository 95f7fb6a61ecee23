package sample

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/twitter/condortask/domain"
)

const (
	DefaultGlob      = "*.root"
	DefaultGlobalTag = "dummy_gtag"
)

// Lister lists file names under a directory. storage.BlobStore implements it.
type Lister interface {
	List(ctx context.Context, dir string) ([]string, error)
}

// DirectorySample takes every file in Location whose base name matches Glob.
// Event counts are unknown, so tasks over it chunk by file count.
type DirectorySample struct {
	Dataset  string
	Location string
	Glob     string
	Tag      string

	// StripPrefix is removed from listed names, e.g. "/hadoop/cms" to address files as /store/...
	StripPrefix string

	lister Lister
}

var _ Sample = (*DirectorySample)(nil)

// NewDirectorySample needs a dataset name and a location.
func NewDirectorySample(dataset, location string, lister Lister) (*DirectorySample, error) {
	if dataset == "" || location == "" {
		return nil, errors.New("directory sample needs a dataset and a location")
	}
	return &DirectorySample{Dataset: dataset, Location: location, Glob: DefaultGlob, Tag: DefaultGlobalTag, lister: lister}, nil
}

func (s *DirectorySample) DatasetName() string { return s.Dataset }

func (s *DirectorySample) Files(ctx context.Context) ([]domain.File, error) {
	names, err := s.lister.List(ctx, s.Location)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", s.Location)
	}
	dir := path.Clean(s.Location)
	var files []domain.File
	for _, name := range names {
		if path.Dir(name) != dir {
			continue
		}
		ok, err := path.Match(s.Glob, path.Base(name))
		if err != nil {
			return nil, errors.Wrapf(err, "bad glob %q", s.Glob)
		}
		if !ok {
			continue
		}
		if s.StripPrefix != "" {
			name = strings.TrimPrefix(name, s.StripPrefix)
		}
		files = append(files, domain.NewFile(name))
	}
	sortFiles(files)
	return files, nil
}

func (s *DirectorySample) NEvents(ctx context.Context) (int64, error) { return 0, nil }

func (s *DirectorySample) GlobalTag(ctx context.Context) (string, error) {
	if s.Tag == "" {
		return DefaultGlobalTag, nil
	}
	return s.Tag, nil
}
