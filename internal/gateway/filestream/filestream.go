// Package filestream streams a whole file verbatim, the non-core
// "whole-file" path a served request takes when no center/size query
// parameter is present (spec.md §6).
package filestream

import (
	"context"
	"io"
	"os"

	"fitsgw/pkg/gatewayerrors"
	"fitsgw/pkg/platform/sentinel"
)

// Opener is the subset of *os.File construction the service needs,
// substitutable in tests the way the teacher's storage interfaces are.
type Opener func(absPath string) (io.ReadCloser, int64, error)

// OSOpener opens absPath via os.Open, reporting its size from Stat.
func OSOpener(absPath string) (io.ReadCloser, int64, error) {
	f, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, gatewayerrors.Wrap(gatewayerrors.CodeNotFound, "file not found", sentinel.ErrNotFound)
		}
		return nil, 0, gatewayerrors.Wrap(gatewayerrors.CodeIO, "failed to open file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, gatewayerrors.Wrap(gatewayerrors.CodeIO, "failed to stat file", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, gatewayerrors.New(gatewayerrors.CodeBadRequest, "path is a directory")
	}
	return f, info.Size(), nil
}

// Service streams a whole file to a sink.
type Service struct {
	open Opener
}

// New constructs a Service using open to resolve paths to readers.
func New(open Opener) *Service {
	if open == nil {
		open = OSOpener
	}
	return &Service{open: open}
}

// Stream copies the file at absPath to w and, once the copy has finished,
// returns the file size reported by open (0 on error). The HTTP handler
// feeds it to its bytes-streamed metric.
func (s *Service) Stream(_ context.Context, absPath string, w io.Writer) (int64, error) {
	r, size, err := s.open(absPath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return 0, gatewayerrors.Wrap(gatewayerrors.CodeIO, "failed to stream file", err)
	}
	return size, nil
}
