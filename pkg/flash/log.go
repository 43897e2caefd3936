// Package flash implements the sector-indexed append log kept on the
// payload's NOR flash.
//
// Files begin at a sector boundary with a 4-byte sentinel. The index of
// files is not stored anywhere: it is rebuilt by scanning the sectors for
// sentinels, so the flash content is the only source of truth.
package flash

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/telemetry"
)

// Flash layout constants.
const (
	// Sentinel marks the first bytes of a sector starting a file.
	Sentinel uint32 = 0xDEADBEEF
	// SentinelSize is the size of the sentinel.
	SentinelSize = 4
	// ProbeSize is the number of leading bytes checked to tell whether a
	// sector is erased.
	ProbeSize = 16
	// MarkerWriting marks an atomic commit in progress.
	MarkerWriting byte = 0xAA
	// MarkerComplete marks a finished atomic commit.
	MarkerComplete byte = 0xBB
	// CommitHeaderSize is the marker plus checksum following the sentinel.
	CommitHeaderSize = 2

	DefaultSectorSize       = 4096
	DefaultMaxSize    int64 = 15000000
)

var sentinelBytes = []byte{0xDE, 0xAD, 0xBE, 0xEF}

// warnThresholds are remaining-space levels, most severe first.
var warnThresholds = []int64{0, 4096, 16384, 65536}

// Config configures a Log.
type Config struct {
	// MaxSize bounds the log below the physical capacity.
	MaxSize    int64 `yaml:"max_size"`
	SectorSize int   `yaml:"sector_size"`
	// Image is the path of the backing image file, in-memory when empty.
	Image string `yaml:"image"`
	// Manifest enables committing a manifest file at boot.
	Manifest bool `yaml:"manifest"`
}

// CommitState describes the atomic-commit header of a file.
type CommitState int

// Commit states.
const (
	// CommitNone is a plain appended file.
	CommitNone CommitState = iota
	CommitIncomplete
	CommitComplete
	CommitCorrupt
)

// String implements fmt.Stringer.
func (s CommitState) String() string {
	switch s {
	case CommitIncomplete:
		return "incomplete"
	case CommitComplete:
		return "complete"
	case CommitCorrupt:
		return "corrupt"
	}
	return "plain"
}

// FileRecord is the byte range of one file. Start is the sentinel address;
// End is exclusive.
type FileRecord struct {
	Number int
	Start  int64
	End    int64
	Commit CommitState
}

// Size is the number of bytes in the file, sentinel included.
func (f FileRecord) Size() int64 {
	return f.End - f.Start
}

// Status is a snapshot of the log.
type Status struct {
	Address   int64
	Remaining int64
	Active    bool
	Files     []FileRecord
}

// Log is the flash log. It is used by a single execution context.
type Log struct {
	dev     Device
	maxSize int64
	clock   fx.Clock

	// Manifest, when set, returns content committed as its own file each
	// time a boot file is claimed.
	Manifest func() []byte

	address int64
	files   []FileRecord
	active  bool
	warned  []bool
}

// NewLog creates a Log on dev bounded to maxSize bytes, or the whole
// device if maxSize is not positive.
func NewLog(dev Device, maxSize int64) *Log {
	if maxSize <= 0 || maxSize > dev.Size() {
		maxSize = dev.Size()
	}
	return &Log{
		dev:     dev,
		maxSize: maxSize,
		clock:   fx.RealClock{},
		warned:  make([]bool, len(warnThresholds)),
	}
}

// WithClock replaces the clock.
func (l *Log) WithClock(c fx.Clock) *Log {
	l.clock = c
	return l
}

// Name implements the sink contract.
func (l *Log) Name() string {
	return "flash"
}

// Device returns the underlying device.
func (l *Log) Device() Device {
	return l.dev
}

// MaxSize is the log capacity.
func (l *Log) MaxSize() int64 {
	return l.maxSize
}

// Address is the next write address.
func (l *Log) Address() int64 {
	return l.address
}

// Remaining is the number of bytes left.
func (l *Log) Remaining() int64 {
	if l.address >= l.maxSize {
		return 0
	}
	return l.maxSize - l.address
}

// Active reports whether a file is open for appends.
func (l *Log) Active() bool {
	return l.active
}

// Files returns a copy of the index.
func (l *Log) Files() []FileRecord {
	return append([]FileRecord(nil), l.files...)
}

// Status takes a snapshot.
func (l *Log) Status() Status {
	return Status{
		Address:   l.address,
		Remaining: l.Remaining(),
		Active:    l.active,
		Files:     l.Files(),
	}
}

// Verify brings the device up. On the first success after boot or after
// the open file was lost, it rebuilds the index and opens a new boot file.
func (l *Log) Verify() error {
	if err := l.dev.Init(); err != nil {
		return fmt.Errorf("flash init: %w", err)
	}
	if l.address >= l.maxSize {
		glog.Error("[Flash] memory is full")
		return ErrCapacityExhausted
	}
	if l.active && len(l.files) > 0 {
		last := l.files[len(l.files)-1]
		glog.Infof("[Flash] active, writing to file %d at address %d in sector %d",
			last.Number, l.address, l.address/l.sectorSize())
		return nil
	}
	if err := l.boot(); err != nil {
		return err
	}
	glog.Infof("[Flash] remaining space: %d bytes", l.Remaining())
	return nil
}

// Reinit rebuilds the index and opens a new boot file, e.g. after EraseAll.
func (l *Log) Reinit() error {
	l.active = false
	return l.boot()
}

func (l *Log) boot() error {
	if err := l.Index(); err != nil {
		return err
	}
	if l.Manifest != nil {
		if content := l.Manifest(); len(content) > 0 {
			if err := l.AtomicCommit(content); err != nil {
				return fmt.Errorf("manifest: %w", err)
			}
		}
	}
	if err := l.startFile(); err != nil {
		return err
	}
	l.active = true
	glog.Infof("[Flash] address %d in sector %d", l.address, l.address/l.sectorSize())
	return nil
}

// Index rebuilds the file index by scanning every sector. A sector
// starting with the sentinel opens a file which extends through the
// following programmed sectors up to its last programmed byte. Erased
// sectors end the current file and programmed sectors outside any file
// are skipped. The write address becomes the end of the highest
// programmed byte. Index does not write anything.
func (l *Log) Index() error {
	sectorSize := int64(l.sectorSize())
	sector := make([]byte, sectorSize)
	var files []FileRecord
	var current *FileRecord
	var address int64
	for start := int64(0); start < l.maxSize; start += sectorSize {
		buf := sector[:l.span(start, sectorSize)]
		if len(buf) < ProbeSize {
			break
		}
		if _, err := l.dev.ReadAt(buf[:ProbeSize], start); err != nil {
			return fmt.Errorf("index sector %d: %w", start/sectorSize, err)
		}
		if isErased(buf[:ProbeSize]) {
			current = nil
			continue
		}
		if _, err := l.dev.ReadAt(buf, start); err != nil {
			return fmt.Errorf("index sector %d: %w", start/sectorSize, err)
		}
		end := start + int64(lastProgrammed(buf)) + 1
		if bytes.HasPrefix(buf, sentinelBytes) {
			files = append(files, FileRecord{Number: len(files) + 1, Start: start})
			current = &files[len(files)-1]
		} else if current == nil {
			glog.Warningf("[Flash] orphan data in sector %d", start/sectorSize)
		}
		if current != nil {
			current.End = end
		}
		if end > address {
			address = end
		}
	}
	for n := range files {
		files[n].Commit = l.commitState(files[n])
		glog.V(1).Infof("[Flash] file %d: %d to %d", files[n].Number, files[n].Start, files[n].End)
	}
	l.files, l.address = files, address
	return nil
}

// Append writes data at the end of the open file.
func (l *Log) Append(data []byte) error {
	if !l.active || len(l.files) == 0 {
		return ErrNoOpenFile
	}
	if l.address+int64(len(data)) > l.maxSize {
		l.checkFreeSpace()
		return ErrCapacityExhausted
	}
	n, err := l.dev.WriteAt(data, l.address)
	l.address += int64(n)
	l.files[len(l.files)-1].End = l.address
	if err != nil {
		return fmt.Errorf("flash write at %d: %w", l.address, err)
	}
	glog.V(2).Infof("[Flash] wrote %d bytes, now at %d", n, l.address)
	l.checkFreeSpace()
	return nil
}

// StoreText appends s followed by a newline.
func (l *Log) StoreText(s string) error {
	return l.Append([]byte(s + "\n"))
}

// StorePacket appends the packet carried by a record, sized by its length
// field.
func (l *Log) StorePacket(record []byte) error {
	pkt, err := telemetry.Trim(record)
	if err != nil {
		return err
	}
	return l.Append(pkt)
}

// AtomicCommit writes data as a new file with a commit header: the marker
// is set to writing, the data and its checksum follow, then the marker is
// set to complete. The new file becomes the last file of the index.
func (l *Log) AtomicCommit(data []byte) error {
	start := l.alignUp(l.address)
	if start+SentinelSize+CommitHeaderSize+int64(len(data)) > l.maxSize {
		return ErrCapacityExhausted
	}
	if err := l.startFile(); err != nil {
		return err
	}
	markerAddr := l.address
	if err := l.write([]byte{MarkerWriting, Erased}); err != nil {
		return err
	}
	if err := l.write(data); err != nil {
		return err
	}
	checksum := sum(data)
	if _, err := l.dev.WriteAt([]byte{checksum}, markerAddr+1); err != nil {
		return fmt.Errorf("flash commit checksum: %w", err)
	}
	if _, err := l.dev.WriteAt([]byte{MarkerComplete}, markerAddr); err != nil {
		return fmt.Errorf("flash commit marker: %w", err)
	}
	last := &l.files[len(l.files)-1]
	last.Commit = CommitComplete
	glog.Infof("[Flash] atomic commit of file %d complete, checksum %d", last.Number, checksum)
	l.checkFreeSpace()
	return nil
}

// EraseAll erases every sector of the log and forgets all files. The log
// has no open file afterwards; call Reinit to continue logging.
func (l *Log) EraseAll() error {
	glog.Info("[Flash] ==== Erasing FLASH ====")
	begin := l.clock.Now()
	sectorSize := int64(l.sectorSize())
	total := (l.maxSize + sectorSize - 1) / sectorSize
	var progress int64
	for start := int64(0); start < l.maxSize; start += sectorSize {
		if err := l.dev.EraseSector(start); err != nil {
			return fmt.Errorf("erase sector %d: %w", start/sectorSize, err)
		}
		progress++
		if progress%100 == 0 {
			glog.Infof("[Flash] progress: %d/%d sectors erased", progress, total)
		}
	}
	l.address, l.files, l.active = 0, nil, false
	for n := range l.warned {
		l.warned[n] = false
	}
	glog.Infof("[Flash] erase complete in %s", l.clock.Now().Sub(begin).Round(time.Millisecond))
	return nil
}

// RemoveFile erases the sectors of file number n and rebuilds the index,
// which renumbers the remaining files. Removing the open file closes it.
func (l *Log) RemoveFile(n int) error {
	if n < 1 || n > len(l.files) {
		return fmt.Errorf("remove file %d: %w", n, ErrNoSuchFile)
	}
	target := l.files[n-1]
	wasActive := l.active && n == len(l.files)
	address := l.address
	sectorSize := int64(l.sectorSize())
	first := target.Start / sectorSize * sectorSize
	last := (target.End - 1) / sectorSize * sectorSize
	for sector := first; sector <= last; sector += sectorSize {
		if err := l.dev.EraseSector(sector); err != nil {
			return fmt.Errorf("erase sector %d: %w", sector/sectorSize, err)
		}
		glog.V(1).Infof("[Flash] erased sector at address %d", sector)
	}
	if err := l.Index(); err != nil {
		return err
	}
	if wasActive {
		l.active = false
	} else if l.active {
		// Index stops at the last programmed byte; the open file may end in 0xFF.
		l.address = address
		if len(l.files) > 0 {
			l.files[len(l.files)-1].End = address
		}
	}
	glog.Infof("[Flash] file %d removed", n)
	return nil
}

// Download streams the content of file n after its sentinel to w, framed
// by START_DATA and STOP_DATA lines.
func (l *Log) Download(n int, w io.Writer) error {
	glog.Infof("[Flash] ==== DOWNLOAD file %d ====", n)
	if n < 1 || n > len(l.files) {
		fmt.Fprintln(w, startDataLine)
		fmt.Fprintln(w, "[Flash] ERROR")
		fmt.Fprintln(w, stopDataLine)
		return fmt.Errorf("download file %d: %w", n, ErrNoSuchFile)
	}
	file := l.files[n-1]
	glog.Infof("[Flash] file size: %d bytes", file.Size())
	begin := l.clock.Now()
	if _, err := fmt.Fprintln(w, startDataLine); err != nil {
		return err
	}
	buf := make([]byte, 256)
	for addr := file.Start + SentinelSize; addr < file.End; {
		chunk := buf[:l.span(addr, int64(len(buf)))]
		if rest := file.End - addr; rest < int64(len(chunk)) {
			chunk = chunk[:rest]
		}
		if _, err := l.dev.ReadAt(chunk, addr); err != nil {
			fmt.Fprintln(w, stopDataLine)
			return fmt.Errorf("download read at %d: %w", addr, err)
		}
		if _, err := w.Write(chunk); err != nil {
			fmt.Fprintln(w, stopDataLine)
			return fmt.Errorf("download write: %w", err)
		}
		addr += int64(len(chunk))
	}
	if _, err := fmt.Fprintln(w, stopDataLine); err != nil {
		return err
	}
	glog.Infof("[Flash] download complete in %s", l.clock.Now().Sub(begin).Round(time.Millisecond))
	return nil
}

// WriteStatus reports address, remaining space and file sizes, the file
// list framed like a download.
func (l *Log) WriteStatus(w io.Writer) error {
	glog.Info("[Flash] ==== STATUS ====")
	glog.Infof("[Flash] address: %d", l.address)
	glog.Infof("[Flash] remaining storage: %d bytes", l.Remaining())
	fmt.Fprintln(w, startDataLine)
	for _, f := range l.files {
		fmt.Fprintf(w, "[Flash] File %d || Size: %d bytes\n", f.Number, f.Size())
	}
	_, err := fmt.Fprintln(w, stopDataLine)
	return err
}

const (
	startDataLine = "[Flash] START_DATA"
	stopDataLine  = "[Flash] STOP_DATA"
)

func (l *Log) startFile() error {
	start := l.alignUp(l.address)
	if start+SentinelSize > l.maxSize {
		glog.Error("[Flash] memory is full")
		return ErrCapacityExhausted
	}
	l.address = start
	l.files = append(l.files, FileRecord{Number: len(l.files) + 1, Start: start, End: start})
	if err := l.write(sentinelBytes); err != nil {
		return err
	}
	glog.Infof("[Flash] new file %d at address %d", len(l.files), start)
	return nil
}

func (l *Log) write(data []byte) error {
	n, err := l.dev.WriteAt(data, l.address)
	l.address += int64(n)
	if len(l.files) > 0 && l.files[len(l.files)-1].End < l.address {
		l.files[len(l.files)-1].End = l.address
	}
	if err != nil {
		return fmt.Errorf("flash write at %d: %w", l.address, err)
	}
	return nil
}

func (l *Log) commitState(f FileRecord) CommitState {
	hdr := f.Start + SentinelSize
	if f.End < hdr+CommitHeaderSize {
		return CommitNone
	}
	var head [CommitHeaderSize]byte
	if _, err := l.dev.ReadAt(head[:], hdr); err != nil {
		return CommitNone
	}
	switch head[0] {
	case MarkerWriting:
		return CommitIncomplete
	case MarkerComplete:
	default:
		return CommitNone
	}
	data := make([]byte, f.End-hdr-CommitHeaderSize)
	if _, err := l.dev.ReadAt(data, hdr+CommitHeaderSize); err != nil {
		return CommitCorrupt
	}
	if sum(data) != head[1] {
		return CommitCorrupt
	}
	return CommitComplete
}

func (l *Log) checkFreeSpace() {
	remaining := l.Remaining()
	for n, threshold := range warnThresholds {
		if remaining > threshold {
			continue
		}
		if !l.warned[n] {
			for i := n; i < len(l.warned); i++ {
				l.warned[i] = true
			}
			if threshold == 0 {
				glog.Warning("[Flash] WARNING: flash memory is full (0 bytes remaining)!")
			} else {
				glog.Warningf("[Flash] WARNING: only %dKB remaining!", threshold/1024)
			}
		}
		return
	}
}

// Warned reports whether the warning for a remaining-space threshold has
// been issued.
func (l *Log) Warned(threshold int64) bool {
	for n, th := range warnThresholds {
		if th == threshold {
			return l.warned[n]
		}
	}
	return false
}

func (l *Log) sectorSize() int64 {
	return int64(l.dev.SectorSize())
}

func (l *Log) alignUp(addr int64) int64 {
	s := l.sectorSize()
	return (addr + s - 1) / s * s
}

// span clips a read of n bytes at addr to the device.
func (l *Log) span(addr, n int64) int64 {
	if rest := l.dev.Size() - addr; rest < n {
		return rest
	}
	return n
}

func isErased(b []byte) bool {
	for _, v := range b {
		if v != Erased {
			return false
		}
	}
	return true
}

func lastProgrammed(b []byte) int {
	for n := len(b) - 1; n >= 0; n-- {
		if b[n] != Erased {
			return n
		}
	}
	return -1
}

func sum(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s
}
