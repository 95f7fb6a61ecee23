// Package sample provides the data sources a task draws its inputs from: a fixed
// file list, a storage directory listing, or a metadata catalog queried over HTTP
// with responses held in a TTL cache.
package sample

import (
	"context"
	"sort"

	"github.com/twitter/condortask/domain"
)

// Sample is a dataset. Reads may be served from a cache and lag the source by up to its TTL.
type Sample interface {
	DatasetName() string
	Files(ctx context.Context) ([]domain.File, error)
	NEvents(ctx context.Context) (int64, error)
	GlobalTag(ctx context.Context) (string, error)
}

// StaticSample serves a fixed list of files.
type StaticSample struct {
	Dataset string
	Tag     string
	files   []domain.File
}

var _ Sample = (*StaticSample)(nil)

func NewStaticSample(dataset, globalTag string, files []domain.File) *StaticSample {
	return &StaticSample{Dataset: dataset, Tag: globalTag, files: append([]domain.File(nil), files...)}
}

// SetFiles replaces the file list, as when an open dataset grows.
func (s *StaticSample) SetFiles(files []domain.File) {
	s.files = append([]domain.File(nil), files...)
}

func (s *StaticSample) DatasetName() string { return s.Dataset }

func (s *StaticSample) Files(ctx context.Context) ([]domain.File, error) {
	return append([]domain.File(nil), s.files...), nil
}

func (s *StaticSample) NEvents(ctx context.Context) (int64, error) {
	return domain.SumEvents(s.files), nil
}

func (s *StaticSample) GlobalTag(ctx context.Context) (string, error) {
	return s.Tag, nil
}

func sortFiles(files []domain.File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
}
