package app

import (
	"os"
	"path/filepath"
)

// StopFlags lets a second request interrupt an in-flight streamed reply. The
// streaming handler polls Stopped between sent chunks; setting the flag is a
// plain file write so it works across processes.
type StopFlags struct {
	dir string
}

func NewStopFlags(dir string) (*StopFlags, error) {
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return nil, err
	}
	return &StopFlags{dir: dir}, nil
}

func (f *StopFlags) path(chatID string) string {
	return filepath.Join(f.dir, "stop_"+chatID+".flag")
}

func (f *StopFlags) Set(chatID string) error {
	return os.WriteFile(f.path(chatID), []byte("1"), 0o664)
}

func (f *StopFlags) Clear(chatID string) {
	_ = os.Remove(f.path(chatID))
}

func (f *StopFlags) Stopped(chatID string) bool {
	_, err := os.Stat(f.path(chatID))
	return err == nil
}
