// Package flash exposes the flash log administration commands in the
// shell.
package flash

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/payload.go/pkg/cli/sh"
)

// Download output framing.
var (
	startData = []byte("[Flash] START_DATA\n")
	stopData  = []byte("[Flash] STOP_DATA\n")
)

// ParseFileNumber parses the file number argument.
func ParseFileNumber(args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("FILE required")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid FILE %q", args[0])
	}
	return n, nil
}

// Unframe extracts the bytes between the START_DATA and STOP_DATA lines
// of a download.
func Unframe(output []byte) ([]byte, error) {
	start := bytes.Index(output, startData)
	if start < 0 {
		return nil, fmt.Errorf("download output not framed")
	}
	data := output[start+len(startData):]
	end := bytes.LastIndex(data, stopData)
	if end < 0 {
		return nil, fmt.Errorf("download output truncated")
	}
	return data[:end], nil
}

var (
	// StatusCmd shows the flash status.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"s"},
		Help:    "show flash address, space and files",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, "status", 0)
		}),
	}

	// DownloadCmd downloads one file.
	DownloadCmd = ishell.Cmd{
		Name:    "download",
		Aliases: []string{"dl"},
		Help:    "FILE [OUTPUT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			n, err := ParseFileNumber(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			if len(c.Args) < 2 {
				sh.DoCommand(c, "download", n)
				return
			}
			reply, err := sh.ShellFrom(c).Command("download", n)
			if err != nil {
				c.Err(err)
				return
			}
			data, err := Unframe(reply.Output)
			if err != nil {
				c.Err(err)
				return
			}
			if err := os.WriteFile(c.Args[1], data, 0644); err != nil {
				c.Err(err)
				return
			}
			c.Printf("%d bytes written to %s\n", len(data), c.Args[1])
		}),
	}

	// DeleteCmd removes one file.
	DeleteCmd = ishell.Cmd{
		Name:    "delete",
		Aliases: []string{"rm"},
		Help:    "FILE",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			n, err := ParseFileNumber(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, "delete", n)
		}),
	}

	// EraseCmd erases the whole flash.
	EraseCmd = ishell.Cmd{
		Name:    "erase",
		Aliases: []string{"erase_all"},
		Help:    "erase all files",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if sh.ShellFrom(c).Interactive {
				c.Print("Erase all files? (yes/no) ")
				if strings.TrimSpace(c.ReadLine()) != "yes" {
					c.Println("Canceled")
					return
				}
			}
			sh.DoCommand(c, "erase_all", 0)
		}),
	}
)

func init() {
	sh.AddCmds(
		&StatusCmd,
		&DownloadCmd,
		&DeleteCmd,
		&EraseCmd,
	)
}
