package ground

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Follower reads a file that is still being written, e.g. a capture of a
// serial download in progress. At the end of the data Read waits for the
// file to grow instead of returning io.EOF. It returns io.EOF once ctx is
// done or the file is removed or renamed.
type Follower struct {
	ctx     context.Context
	file    *os.File
	watcher *fsnotify.Watcher
}

// Follow opens path for following.
func Follow(ctx context.Context, path string) (*Follower, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		file.Close()
		return nil, err
	}
	return &Follower{ctx: ctx, file: file, watcher: watcher}, nil
}

// Read implements io.Reader.
func (f *Follower) Read(p []byte) (int, error) {
	for {
		n, err := f.file.Read(p)
		if n > 0 || (err != nil && !errors.Is(err, io.EOF)) {
			return n, err
		}
		select {
		case <-f.ctx.Done():
			return 0, io.EOF
		case event, ok := <-f.watcher.Events:
			if !ok || event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return 0, io.EOF
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return 0, io.EOF
			}
			return 0, err
		}
	}
}

// Close implements io.Closer.
func (f *Follower) Close() error {
	f.watcher.Close()
	return f.file.Close()
}
