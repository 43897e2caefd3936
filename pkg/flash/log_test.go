package flash

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSector = 4096

type flashTestEnv struct {
	t   *testing.T
	dev *MemoryDevice
	log *Log
}

func newFlashTestEnv(t *testing.T, sectors int) *flashTestEnv {
	dev := NewMemoryDevice(int64(sectors*testSector), testSector)
	return &flashTestEnv{t: t, dev: dev, log: NewLog(dev, 0)}
}

func (e *flashTestEnv) verify() *flashTestEnv {
	require.NoError(e.t, e.log.Verify())
	return e
}

func (e *flashTestEnv) append(n int, b byte) *flashTestEnv {
	require.NoError(e.t, e.log.Append(bytes.Repeat([]byte{b}, n)))
	return e
}

func (e *flashTestEnv) read(addr int64, n int) []byte {
	buf := make([]byte, n)
	_, err := e.dev.ReadAt(buf, addr)
	require.NoError(e.t, err)
	return buf
}

func (e *flashTestEnv) requireErased(addr int64, n int) {
	require.Equal(e.t, bytes.Repeat([]byte{Erased}, n), e.read(addr, n))
}

func requireDisjoint(t *testing.T, files []FileRecord) {
	for i := 1; i < len(files); i++ {
		require.LessOrEqual(t, files[i-1].End, files[i].Start, "file %d overlaps file %d", i, i+1)
	}
}

func TestVerifyClaimsBootFile(t *testing.T) {
	env := newFlashTestEnv(t, 16).verify()
	require.True(t, env.log.Active())
	require.Equal(t, []FileRecord{{Number: 1, Start: 0, End: 4}}, env.log.Files())
	require.Equal(t, sentinelBytes, env.read(0, 4))
	require.Equal(t, int64(4), env.log.Address())

	// verifying again does not open another file.
	env.verify()
	require.Len(t, env.log.Files(), 1)
}

func TestVerifyInitFailure(t *testing.T) {
	env := newFlashTestEnv(t, 16)
	env.dev.InitErr = errors.New("no chip")
	require.Error(t, env.log.Verify())
	require.False(t, env.log.Active())
	require.ErrorIs(t, env.log.Append([]byte{1}), ErrNoOpenFile)

	env.dev.InitErr = nil
	env.verify()
	require.True(t, env.log.Active())
}

func TestRemoveFileAfterAtomicCommit(t *testing.T) {
	env := newFlashTestEnv(t, 16).verify().append(100, 0x11)
	require.NoError(t, env.log.AtomicCommit(bytes.Repeat([]byte{0x22}, 200)))
	files := env.log.Files()
	require.Len(t, files, 2)
	file2 := files[1]
	require.Equal(t, int64(testSector), file2.Start)
	require.Equal(t, int64(testSector+SentinelSize+CommitHeaderSize+200), file2.End)

	require.NoError(t, env.log.RemoveFile(1))
	require.NoError(t, env.log.Index())
	files = env.log.Files()
	require.Len(t, files, 1)
	require.Equal(t, 1, files[0].Number)
	require.Equal(t, file2.Start, files[0].Start)
	require.Equal(t, file2.End, files[0].End)
	require.Equal(t, CommitComplete, files[0].Commit)
	env.requireErased(0, testSector)
	// appends continue at the end of the committed file.
	require.True(t, env.log.Active())
}

func TestIndexIsIdempotent(t *testing.T) {
	env := newFlashTestEnv(t, 32).verify().append(5000, 0x31)
	require.NoError(t, env.log.AtomicCommit([]byte("header\n")))
	env.append(300, 0x32)
	require.NoError(t, env.log.AtomicCommit([]byte("more")))
	require.NoError(t, env.log.RemoveFile(2))

	steps := []func(){
		func() {},
		func() { require.NoError(t, env.log.RemoveFile(1)) },
		func() { require.NoError(t, env.log.Reinit()) },
		func() { require.NoError(t, env.log.EraseAll()) },
	}
	for _, step := range steps {
		step()
		require.NoError(t, env.log.Index())
		first := env.log.Files()
		requireDisjoint(t, first)
		addr := env.log.Address()
		require.NoError(t, env.log.Index())
		require.Equal(t, first, env.log.Files())
		require.Equal(t, addr, env.log.Address())
	}
}

func TestRemoveFileRenumbers(t *testing.T) {
	env := newFlashTestEnv(t, 32).verify().append(5000, 0x41)
	require.NoError(t, env.log.AtomicCommit([]byte("a")))
	require.NoError(t, env.log.AtomicCommit([]byte("b")))
	files := env.log.Files()
	require.Len(t, files, 3)

	require.NoError(t, env.log.RemoveFile(2))
	after := env.log.Files()
	require.Len(t, after, 2)
	require.Equal(t, files[0].Start, after[0].Start)
	require.Equal(t, files[0].End, after[0].End)
	require.Equal(t, 2, after[1].Number)
	require.Equal(t, files[2].Start, after[1].Start)
	for _, f := range after {
		require.NotEqual(t, files[1].Start, f.Start)
	}
	env.requireErased(files[1].Start, testSector)
	// file 1 spans two sectors and survives intact.
	require.Equal(t, bytes.Repeat([]byte{0x41}, 5000), env.read(SentinelSize, 5000))

	err := env.log.RemoveFile(3)
	require.ErrorIs(t, err, ErrNoSuchFile)
	require.ErrorIs(t, env.log.RemoveFile(0), ErrNoSuchFile)
}

func TestRemoveInactiveFileKeepsAppending(t *testing.T) {
	dev := NewMemoryDevice(32*testSector, testSector)
	first := NewLog(dev, 0)
	require.NoError(t, first.Verify())
	require.NoError(t, first.Append([]byte("old data")))

	// reboot: the old file is indexed and a new boot file is claimed.
	log := NewLog(dev, 0)
	require.NoError(t, log.Verify())
	require.Len(t, log.Files(), 2)
	require.NoError(t, log.Append([]byte("new")))

	require.NoError(t, log.RemoveFile(1))
	require.True(t, log.Active())
	require.NoError(t, log.Append([]byte(" data")))
	files := log.Files()
	require.Len(t, files, 1)
	require.Equal(t, int64(testSector), files[0].Start)
	require.Equal(t, []byte("new data"), readRange(t, dev, files[0].Start+SentinelSize, files[0].End))
}

func TestStartFileAfterMultiSectorFile(t *testing.T) {
	dev := NewMemoryDevice(32*testSector, testSector)
	first := NewLog(dev, 0)
	require.NoError(t, first.Verify())
	require.NoError(t, first.Append(bytes.Repeat([]byte{0x61}, 2*testSector)))

	log := NewLog(dev, 0)
	require.NoError(t, log.Verify())
	files := log.Files()
	require.Len(t, files, 2)
	require.Equal(t, int64(SentinelSize+2*testSector), files[0].End)
	require.Equal(t, int64(3*testSector), files[1].Start)
	requireDisjoint(t, files)

	require.NoError(t, log.AtomicCommit([]byte("commit")))
	requireDisjoint(t, log.Files())

	require.NoError(t, log.RemoveFile(1))
	files = log.Files()
	require.Len(t, files, 2)
	require.Equal(t, int64(3*testSector), files[0].Start)
	require.Equal(t, sentinelBytes, readRange(t, dev, files[0].Start, files[0].Start+SentinelSize))
	require.True(t, log.Active())
	require.NoError(t, log.Append([]byte{0x62}))
}

func TestRemoveFileKeepsTrailingErasedByte(t *testing.T) {
	dev := NewMemoryDevice(32*testSector, testSector)
	first := NewLog(dev, 0)
	require.NoError(t, first.Verify())
	require.NoError(t, first.Append([]byte("old")))

	log := NewLog(dev, 0)
	require.NoError(t, log.Verify())
	require.NoError(t, log.Append([]byte{0x01, 0x02, Erased}))
	addr := log.Address()

	require.NoError(t, log.RemoveFile(1))
	require.Equal(t, addr, log.Address())
	require.NoError(t, log.Append([]byte{0x09}))
	files := log.Files()
	require.Len(t, files, 1)
	require.Equal(t, []byte{0x01, 0x02, Erased, 0x09},
		readRange(t, dev, files[0].Start+SentinelSize, files[0].End))
}

func TestRemoveActiveFileReopensOnVerify(t *testing.T) {
	env := newFlashTestEnv(t, 16).verify().append(10, 0x51)
	require.NoError(t, env.log.RemoveFile(1))
	require.False(t, env.log.Active())
	require.Empty(t, env.log.Files())
	require.ErrorIs(t, env.log.Append([]byte{1}), ErrNoOpenFile)

	env.verify()
	require.True(t, env.log.Active())
	require.Equal(t, []FileRecord{{Number: 1, Start: 0, End: 4}}, env.log.Files())
}

func TestIndexSkipsOrphanSectors(t *testing.T) {
	env := newFlashTestEnv(t, 16)
	_, err := env.dev.WriteAt([]byte("orphan"), 2*testSector)
	require.NoError(t, err)
	_, err = env.dev.WriteAt(append(append([]byte(nil), sentinelBytes...), 'x'), 5*testSector)
	require.NoError(t, err)

	require.NoError(t, env.log.Index())
	require.Equal(t, []FileRecord{{Number: 1, Start: 5 * testSector, End: 5*testSector + 5}}, env.log.Files())
	require.Equal(t, int64(5*testSector+5), env.log.Address())

	env.verify()
	require.Equal(t, int64(6*testSector), env.log.Files()[1].Start)
}

func TestAppendCapacity(t *testing.T) {
	env := newFlashTestEnv(t, 2).verify()
	env.append(2*testSector-SentinelSize, 0x61)
	require.Zero(t, env.log.Remaining())
	require.True(t, env.log.Warned(0))
	require.ErrorIs(t, env.log.Append([]byte{1}), ErrCapacityExhausted)
	require.ErrorIs(t, env.log.Verify(), ErrCapacityExhausted)
	require.ErrorIs(t, env.log.AtomicCommit([]byte{1}), ErrCapacityExhausted)
}

func TestFreeSpaceWarningsAreOneShot(t *testing.T) {
	env := newFlashTestEnv(t, 32).verify()
	maxSize := env.log.MaxSize()

	env.append(int(maxSize-65537-env.log.Address()), 0x71)
	require.False(t, env.log.Warned(65536))
	env.append(1, 0x71)
	require.True(t, env.log.Warned(65536))
	require.False(t, env.log.Warned(16384))

	env.append(int(maxSize-4096-env.log.Address()), 0x71)
	require.True(t, env.log.Warned(16384))
	require.True(t, env.log.Warned(4096))
	require.False(t, env.log.Warned(0))

	require.NoError(t, env.log.EraseAll())
	require.False(t, env.log.Warned(65536))
}

func TestAtomicCommitLayout(t *testing.T) {
	env := newFlashTestEnv(t, 16).verify().append(10, 0x01)
	data := []byte("presence,millis,\n")
	require.NoError(t, env.log.AtomicCommit(data))

	hdr := env.read(testSector, SentinelSize+CommitHeaderSize+len(data))
	require.Equal(t, sentinelBytes, hdr[:SentinelSize])
	require.Equal(t, MarkerComplete, hdr[SentinelSize])
	require.Equal(t, sum(data), hdr[SentinelSize+1])
	require.Equal(t, data, hdr[SentinelSize+CommitHeaderSize:])

	require.NoError(t, env.log.Index())
	files := env.log.Files()
	require.Equal(t, CommitNone, files[0].Commit)
	require.Equal(t, CommitComplete, files[1].Commit)

	_, err := env.dev.WriteAt([]byte{'P' + 1}, testSector+SentinelSize+CommitHeaderSize)
	require.NoError(t, err)
	require.NoError(t, env.log.Index())
	require.Equal(t, CommitCorrupt, env.log.Files()[1].Commit)

	_, err = env.dev.WriteAt([]byte{MarkerWriting}, testSector+SentinelSize)
	require.NoError(t, err)
	require.NoError(t, env.log.Index())
	require.Equal(t, CommitIncomplete, env.log.Files()[1].Commit)
}

func TestBootManifest(t *testing.T) {
	env := newFlashTestEnv(t, 16)
	env.log.Manifest = func() []byte { return []byte("presence,millis,a,\n") }
	env.verify()
	files := env.log.Files()
	require.Len(t, files, 2)
	require.Equal(t, CommitComplete, files[0].Commit)
	require.Equal(t, int64(testSector), files[1].Start)
	require.True(t, env.log.Active())

	var out bytes.Buffer
	require.NoError(t, env.log.Download(1, &out))
	require.Contains(t, out.String(), "presence,millis,a,\n")
}

func TestEraseAllAndReinit(t *testing.T) {
	env := newFlashTestEnv(t, 16).verify().append(9000, 0x55)
	require.NoError(t, env.log.EraseAll())
	require.False(t, env.log.Active())
	require.Empty(t, env.log.Files())
	require.Zero(t, env.log.Address())
	require.Equal(t, 16, env.dev.Erases())
	env.requireErased(0, 16*testSector)

	require.NoError(t, env.log.Reinit())
	require.True(t, env.log.Active())
	require.Equal(t, []FileRecord{{Number: 1, Start: 0, End: 4}}, env.log.Files())
}

func TestDownload(t *testing.T) {
	env := newFlashTestEnv(t, 16).verify()
	require.NoError(t, env.log.StoreText("a,b,c"))
	require.NoError(t, env.log.StoreText("1,2,3"))

	var out bytes.Buffer
	require.NoError(t, env.log.Download(1, &out))
	require.Equal(t, "[Flash] START_DATA\na,b,c\n1,2,3\n[Flash] STOP_DATA\n", out.String())

	out.Reset()
	require.ErrorIs(t, env.log.Download(2, &out), ErrNoSuchFile)
	require.Equal(t, "[Flash] START_DATA\n[Flash] ERROR\n[Flash] STOP_DATA\n", out.String())
}

func TestWriteStatus(t *testing.T) {
	env := newFlashTestEnv(t, 16).verify().append(96, 0x10)
	require.NoError(t, env.log.AtomicCommit([]byte("xy")))
	var out bytes.Buffer
	require.NoError(t, env.log.WriteStatus(&out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, []string{
		"[Flash] START_DATA",
		"[Flash] File 1 || Size: 100 bytes",
		"[Flash] File 2 || Size: 8 bytes",
		"[Flash] STOP_DATA",
	}, lines)

	status := env.log.Status()
	require.Equal(t, int64(testSector+8), status.Address)
	require.Equal(t, int64(16*testSector-testSector-8), status.Remaining)
	require.Len(t, status.Files, 2)
}

func TestStorePacketUsesLengthField(t *testing.T) {
	env := newFlashTestEnv(t, 16).verify()
	record := make([]byte, 500)
	copy(record, "ASU!")
	record[8] = 16
	record[15] = 0x7f
	require.NoError(t, env.log.StorePacket(record))
	require.Equal(t, int64(SentinelSize+16), env.log.Address())

	require.Error(t, env.log.StorePacket([]byte("ASU!")))
}

func TestWriteFailure(t *testing.T) {
	env := newFlashTestEnv(t, 16).verify()
	env.dev.WriteErr = errors.New("bus fault")
	require.Error(t, env.log.Append([]byte{1}))
	require.Equal(t, int64(SentinelSize), env.log.Address())
}

func TestFileDevicePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	dev := NewFileDevice(path, 8*testSector, testSector)
	log := NewLog(dev, 0)
	require.NoError(t, log.Verify())
	require.NoError(t, log.StoreText("hello"))
	require.NoError(t, dev.Close())

	dev = NewFileDevice(path, 8*testSector, testSector)
	defer dev.Close()
	log = NewLog(dev, 0)
	require.NoError(t, log.Verify())
	files := log.Files()
	require.Len(t, files, 2)
	require.Equal(t, []byte("hello\n"), readRange(t, dev, files[0].Start+SentinelSize, files[0].End))
	require.Equal(t, int64(testSector), files[1].Start)

	require.NoError(t, dev.EraseSector(0))
	require.NoError(t, log.Index())
	require.Len(t, log.Files(), 1)
}

func TestFileDeviceRange(t *testing.T) {
	dev := NewFileDevice(filepath.Join(t.TempDir(), "f.img"), testSector, testSector)
	_, err := dev.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.NoError(t, dev.Init())
	defer dev.Close()
	_, err = dev.WriteAt(make([]byte, 2), testSector-1)
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
}

func readRange(t *testing.T, dev Device, start, end int64) []byte {
	buf := make([]byte, end-start)
	_, err := dev.ReadAt(buf, start)
	require.NoError(t, err)
	return buf
}
