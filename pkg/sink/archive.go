package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/robotalks/payload.go/pkg/telemetry"
)

// Archive file name patterns.
const (
	PacketFilePattern = "RAWDATA%d.BIN"
	TextFilePattern   = "DATA%d.CSV"
)

// MaxArchiveFiles bounds the search for an unused file name.
const MaxArchiveFiles = 10000

// Archive appends records to a file in a directory, the removable card
// analogue. Every successful Verify starts a new file named with the first
// unused number.
type Archive struct {
	Dir string
	// Text selects DATA<n>.CSV rows instead of RAWDATA<n>.BIN packets.
	Text bool

	// OnPowerCycled is called when Verify finds earlier files.
	OnPowerCycled func()
	// OnFailure is called when the directory or file is unusable.
	OnFailure func(error)

	path string
}

// NewArchive creates an Archive.
func NewArchive(dir string, text bool) *Archive {
	return &Archive{Dir: dir, Text: text}
}

// Name implements Sink.
func (a *Archive) Name() string {
	return "archive"
}

// Path is the file currently written.
func (a *Archive) Path() string {
	return a.path
}

// Verify implements Sink.
func (a *Archive) Verify() error {
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return a.fail(err)
	}
	pattern := PacketFilePattern
	if a.Text {
		pattern = TextFilePattern
	}
	for n := 0; n < MaxArchiveFiles; n++ {
		path := filepath.Join(a.Dir, fmt.Sprintf(pattern, n))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return a.fail(err)
		}
		if err = f.Close(); err != nil {
			return a.fail(err)
		}
		a.path = path
		glog.Infof("[Core 1] archive: writing %s", path)
		if n != 0 && a.OnPowerCycled != nil {
			a.OnPowerCycled()
		}
		return nil
	}
	return a.fail(fmt.Errorf("no unused file name in %s", a.Dir))
}

// StoreText implements Sink.
func (a *Archive) StoreText(s string) error {
	return a.write([]byte(s + "\n"))
}

// StorePacket implements Sink.
func (a *Archive) StorePacket(record []byte) error {
	pkt, err := telemetry.Trim(record)
	if err != nil {
		return err
	}
	return a.write(pkt)
}

func (a *Archive) write(data []byte) error {
	if a.path == "" {
		return ErrNotConnected
	}
	f, err := os.OpenFile(a.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return a.fail(err)
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		return a.fail(err)
	}
	if err = f.Close(); err != nil {
		return a.fail(err)
	}
	return nil
}

func (a *Archive) fail(err error) error {
	a.path = ""
	if a.OnFailure != nil {
		a.OnFailure(err)
	}
	return err
}
