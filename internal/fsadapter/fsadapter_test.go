package fsadapter

import (
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mojyack/daemonfs/internal/clock"
	"github.com/mojyack/daemonfs/internal/supervisor"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	return newTestFSWithBootstrap(t, "")
}

func newTestFSWithBootstrap(t *testing.T, bootstrap string) *FS {
	t.Helper()
	sup := supervisor.New(clock.Real{}, false)
	go sup.Run()
	t.Cleanup(func() {
		sup.Quit()
		<-sup.Stopped()
	})
	return New(sup, 1000, 1000, bootstrap)
}

func TestLookUpInodeUnknownDaemonIsENOENT(t *testing.T) {
	fs := newTestFS(t)
	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "ghost"}
	err := fs.LookUpInode(op)
	assert.Error(t, err)
}

func TestMkDirThenLookUpInodeSucceeds(t *testing.T) {
	fs := newTestFS(t)
	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "svc"}
	require.NoError(t, fs.MkDir(mk))
	assert.True(t, mk.Entry.Attributes.Mode.IsDir())

	look := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "svc"}
	require.NoError(t, fs.LookUpInode(look))
	assert.Equal(t, mk.Entry.Child, look.Entry.Child)
}

func TestMkDirTwiceFails(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.MkDir(&fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "svc"}))
	err := fs.MkDir(&fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "svc"})
	assert.Error(t, err)
}

func TestWriteArgsThenReadRoundTrips(t *testing.T) {
	fs := newTestFS(t)
	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "svc"}
	require.NoError(t, fs.MkDir(mk))

	look := &fuseops.LookUpInodeOp{Parent: mk.Entry.Child, Name: "args"}
	require.NoError(t, fs.LookUpInode(look))

	openOp := &fuseops.OpenFileOp{Inode: look.Entry.Child, OpenFlags: 1 /* O_WRONLY */}
	require.NoError(t, fs.OpenFile(openOp))
	assert.True(t, fs.fileHandles[openOp.Handle].writable)

	writeOp := &fuseops.WriteFileOp{Handle: openOp.Handle, Offset: 0, Data: []byte("/bin/true\n")}
	require.NoError(t, fs.WriteFile(writeOp))
	require.NoError(t, fs.ReleaseFileHandle(&fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}))

	// Re-open read-only and confirm the write landed.
	openOp2 := &fuseops.OpenFileOp{Inode: look.Entry.Child}
	require.NoError(t, fs.OpenFile(openOp2))
	readOp := &fuseops.ReadFileOp{Handle: openOp2.Handle, Offset: 0, Dst: make([]byte, 64)}
	require.NoError(t, fs.ReadFile(readOp))
	assert.Equal(t, "/bin/true\n", string(readOp.Dst[:readOp.BytesRead]))
}

func TestReadDirListsDaemonEntries(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.MkDir(&fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "a"}))
	require.NoError(t, fs.MkDir(&fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "b"}))

	openOp := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t, fs.OpenDir(openOp))

	readOp := &fuseops.ReadDirOp{Handle: openOp.Handle, Dst: make([]byte, 4096)}
	require.NoError(t, fs.ReadDir(readOp))
	assert.Greater(t, readOp.BytesRead, 0)
}

func TestRmDirBusyWhileUp(t *testing.T) {
	fs := newTestFS(t)
	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "svc"}
	require.NoError(t, fs.MkDir(mk))

	look := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "svc"}
	require.NoError(t, fs.LookUpInode(look))
	argsLook := &fuseops.LookUpInodeOp{Parent: look.Entry.Child, Name: "args"}
	require.NoError(t, fs.LookUpInode(argsLook))

	openOp := &fuseops.OpenFileOp{Inode: argsLook.Entry.Child, OpenFlags: 1}
	require.NoError(t, fs.OpenFile(openOp))
	require.NoError(t, fs.WriteFile(&fuseops.WriteFileOp{Handle: openOp.Handle, Data: []byte("/bin/sleep\n60")}))
	require.NoError(t, fs.ReleaseFileHandle(&fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}))

	stateLook := &fuseops.LookUpInodeOp{Parent: look.Entry.Child, Name: "state"}
	require.NoError(t, fs.LookUpInode(stateLook))
	stateOpen := &fuseops.OpenFileOp{Inode: stateLook.Entry.Child, OpenFlags: 1}
	require.NoError(t, fs.OpenFile(stateOpen))
	require.NoError(t, fs.WriteFile(&fuseops.WriteFileOp{Handle: stateOpen.Handle, Data: []byte("up")}))
	require.NoError(t, fs.ReleaseFileHandle(&fuseops.ReleaseFileHandleOp{Handle: stateOpen.Handle}))

	err := fs.RmDir(&fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "svc"})
	assert.Error(t, err)
}

// TestInitStartsBootstrapDaemon confirms the oneshot bootstrap daemon is
// only registered once the kernel's FUSE handshake completes (the Init
// callback), not at fsadapter construction time.
func TestInitStartsBootstrapDaemon(t *testing.T) {
	fs := newTestFSWithBootstrap(t, "/bin/true")

	look := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "bootstrap"}
	assert.Error(t, fs.LookUpInode(look), "bootstrap daemon must not exist before Init")

	require.NoError(t, fs.Init(&fuseops.InitOp{}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		look = &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "bootstrap"}
		if err := fs.LookUpInode(look); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("bootstrap daemon never appeared after Init")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestForgetInodeRemovesBookkeeping(t *testing.T) {
	fs := newTestFS(t)
	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "svc"}
	require.NoError(t, fs.MkDir(mk))

	require.NoError(t, fs.ForgetInode(&fuseops.ForgetInodeOp{Inode: mk.Entry.Child, N: 1}))

	fs.mu.Lock()
	_, stillThere := fs.pathByInode[mk.Entry.Child]
	fs.mu.Unlock()
	assert.False(t, stillThere)
}
