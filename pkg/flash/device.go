package flash

import (
	"fmt"
	"os"
	"sync"
)

// Device is a byte-addressable NOR flash. Programming can only clear bits;
// EraseSector sets a whole sector back to 0xFF.
type Device interface {
	// Init brings the chip up, it may be called again after a failure.
	Init() error
	ReadAt(p []byte, addr int64) (int, error)
	WriteAt(p []byte, addr int64) (int, error)
	// EraseSector erases the sector containing addr.
	EraseSector(addr int64) error
	Size() int64
	SectorSize() int
}

// Erased is the value of every byte after an erase.
const Erased byte = 0xFF

// RangeError indicates an access beyond the device.
type RangeError struct {
	Addr int64
	Len  int
	Size int64
}

// Error implements error.
func (e *RangeError) Error() string {
	return fmt.Sprintf("access %d+%d beyond device size %d", e.Addr, e.Len, e.Size)
}

func checkRange(addr int64, n int, size int64) error {
	if addr < 0 || addr+int64(n) > size {
		return &RangeError{Addr: addr, Len: n, Size: size}
	}
	return nil
}

// MemoryDevice is a Device backed by memory, with fault injection for
// tests and simulation.
type MemoryDevice struct {
	// InitErr is returned by Init when set.
	InitErr error
	// WriteErr is returned by WriteAt when set.
	WriteErr error

	data       []byte
	sectorSize int
	erases     int
	lock       sync.Mutex
}

// NewMemoryDevice creates an erased MemoryDevice.
func NewMemoryDevice(size int64, sectorSize int) *MemoryDevice {
	data := make([]byte, size)
	for n := range data {
		data[n] = Erased
	}
	return &MemoryDevice{data: data, sectorSize: sectorSize}
}

// Init implements Device.
func (d *MemoryDevice) Init() error {
	return d.InitErr
}

// ReadAt implements Device.
func (d *MemoryDevice) ReadAt(p []byte, addr int64) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if err := checkRange(addr, len(p), int64(len(d.data))); err != nil {
		return 0, err
	}
	return copy(p, d.data[addr:]), nil
}

// WriteAt implements Device. Bytes are stored as written; the memory model
// does not emulate bit clearing.
func (d *MemoryDevice) WriteAt(p []byte, addr int64) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.WriteErr != nil {
		return 0, d.WriteErr
	}
	if err := checkRange(addr, len(p), int64(len(d.data))); err != nil {
		return 0, err
	}
	return copy(d.data[addr:], p), nil
}

// EraseSector implements Device.
func (d *MemoryDevice) EraseSector(addr int64) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	start := addr - addr%int64(d.sectorSize)
	if err := checkRange(start, d.sectorSize, int64(len(d.data))); err != nil {
		return err
	}
	for n := start; n < start+int64(d.sectorSize); n++ {
		d.data[n] = Erased
	}
	d.erases++
	return nil
}

// Size implements Device.
func (d *MemoryDevice) Size() int64 {
	return int64(len(d.data))
}

// SectorSize implements Device.
func (d *MemoryDevice) SectorSize() int {
	return d.sectorSize
}

// Erases is the number of sector erases so far.
func (d *MemoryDevice) Erases() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.erases
}

// FileDevice is a Device backed by an image file, so the log survives
// restarts of the process.
type FileDevice struct {
	Path string

	size       int64
	sectorSize int
	file       *os.File
	lock       sync.Mutex
}

// NewFileDevice creates a FileDevice. The image is created or extended
// with erased bytes on Init.
func NewFileDevice(path string, size int64, sectorSize int) *FileDevice {
	return &FileDevice{Path: path, size: size, sectorSize: sectorSize}
}

// Init implements Device.
func (d *FileDevice) Init() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.file != nil {
		return nil
	}
	f, err := os.OpenFile(d.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if cur := st.Size(); cur < d.size {
		if err := fillErased(f, cur, d.size-cur); err != nil {
			f.Close()
			return fmt.Errorf("extend image: %w", err)
		}
	}
	d.file = f
	return nil
}

// Close releases the image file.
func (d *FileDevice) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *FileDevice) opened() (*os.File, error) {
	if d.file == nil {
		return nil, ErrNotInitialized
	}
	return d.file, nil
}

// ReadAt implements Device.
func (d *FileDevice) ReadAt(p []byte, addr int64) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	f, err := d.opened()
	if err != nil {
		return 0, err
	}
	if err := checkRange(addr, len(p), d.size); err != nil {
		return 0, err
	}
	return f.ReadAt(p, addr)
}

// WriteAt implements Device.
func (d *FileDevice) WriteAt(p []byte, addr int64) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	f, err := d.opened()
	if err != nil {
		return 0, err
	}
	if err := checkRange(addr, len(p), d.size); err != nil {
		return 0, err
	}
	return f.WriteAt(p, addr)
}

// EraseSector implements Device.
func (d *FileDevice) EraseSector(addr int64) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	f, err := d.opened()
	if err != nil {
		return err
	}
	start := addr - addr%int64(d.sectorSize)
	if err := checkRange(start, d.sectorSize, d.size); err != nil {
		return err
	}
	return fillErased(f, start, int64(d.sectorSize))
}

// Size implements Device.
func (d *FileDevice) Size() int64 {
	return d.size
}

// SectorSize implements Device.
func (d *FileDevice) SectorSize() int {
	return d.sectorSize
}

func fillErased(f *os.File, off, n int64) error {
	chunk := make([]byte, 4096)
	for i := range chunk {
		chunk[i] = Erased
	}
	for n > 0 {
		size := int64(len(chunk))
		if size > n {
			size = n
		}
		if _, err := f.WriteAt(chunk[:size], off); err != nil {
			return err
		}
		off, n = off+size, n-size
	}
	return nil
}
