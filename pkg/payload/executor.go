package payload

import (
	"fmt"
	"io"

	"github.com/golang/glog"

	"github.com/robotalks/payload.go/pkg/flash"
	"github.com/robotalks/payload.go/pkg/xcore"
)

// Executor runs administrative commands against the flash log. It must
// only be used by the storage context.
type Executor struct {
	Flash *flash.Log
}

// Execute runs cmd writing its console output to w.
func (e *Executor) Execute(cmd xcore.Command, w io.Writer) error {
	glog.Infof("[Core 1] executing %s %d", cmd.Type, cmd.FileNumber)
	switch cmd.Type {
	case xcore.CommandStatus:
		return e.Flash.WriteStatus(w)
	case xcore.CommandDownload:
		return e.Flash.Download(cmd.FileNumber, w)
	case xcore.CommandDelete:
		return e.Flash.RemoveFile(cmd.FileNumber)
	case xcore.CommandEraseAll:
		if err := e.Flash.EraseAll(); err != nil {
			return err
		}
		return e.Flash.Reinit()
	}
	glog.Error("[Core 1] ERROR: Invalid command")
	return fmt.Errorf("%w: %d", xcore.ErrInvalidCommand, cmd.Type)
}
