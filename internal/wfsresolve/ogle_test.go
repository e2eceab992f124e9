package wfsresolve_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"

	"github.com/eyunku/wfs/internal/wfsfmt"
	"github.com/eyunku/wfs/internal/wfsimage"
	"github.com/eyunku/wfs/internal/wfslog"
	"github.com/eyunku/wfs/internal/wfsresolve"
)

func TestResolver(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type ResolverTest struct {
	dir string
	img *wfsimage.Image
	r   *wfsresolve.Resolver
}

func init() { RegisterTestSuite(&ResolverTest{}) }

func append_(img *wfsimage.Image, rec []byte) {
	head := img.Head()
	copy(img.Bytes()[head:], rec)
	img.SetHead(head + uint32(len(rec)))
}

func (t *ResolverTest) SetUp(ti *TestInfo) {
	var err error
	t.dir, err = ioutil.TempDir("", "wfsresolve_test")
	AssertEq(nil, err)

	path := filepath.Join(t.dir, "image")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	AssertEq(nil, err)
	AssertEq(nil, f.Truncate(wfsimage.DiskSize))
	AssertEq(nil, f.Close())

	rootEntries, err := wfsfmt.EncodeDirents([]wfsfmt.Dirent{{Name: "sub", Inode: 1}})
	AssertEq(nil, err)
	rootHeader := wfsfmt.InodeHeader{InodeNumber: 0, Mode: wfsfmt.ModeDir | 0755, Size: uint32(len(rootEntries)), Links: 1}
	rootRec := make([]byte, wfsfmt.InodeHeaderSize+len(rootEntries))
	wfsfmt.EncodeRecord(rootRec, rootHeader, rootEntries)

	img, err := wfsimage.Create(path, rootRec)
	AssertEq(nil, err)
	t.img = img

	subEntries, err := wfsfmt.EncodeDirents([]wfsfmt.Dirent{{Name: "file", Inode: 2}})
	AssertEq(nil, err)
	subHeader := wfsfmt.InodeHeader{InodeNumber: 1, Mode: wfsfmt.ModeDir | 0755, Size: uint32(len(subEntries)), Links: 1}
	subRec := make([]byte, wfsfmt.InodeHeaderSize+len(subEntries))
	wfsfmt.EncodeRecord(subRec, subHeader, subEntries)
	append_(img, subRec)

	fileHeader := wfsfmt.InodeHeader{InodeNumber: 2, Mode: 0644, Size: 5, Links: 1}
	fileRec := make([]byte, wfsfmt.InodeHeaderSize+5)
	wfsfmt.EncodeRecord(fileRec, fileHeader, []byte("hello"))
	append_(img, fileRec)

	idx, err := wfslog.Build(img)
	AssertEq(nil, err)
	t.r = wfsresolve.New(idx)
}

func (t *ResolverTest) TearDown() {
	AssertEq(nil, t.img.Close())
	os.RemoveAll(t.dir)
}

////////////////////////////////////////////////////////////////////////
// Test cases
////////////////////////////////////////////////////////////////////////

func (t *ResolverTest) ResolvesNestedFile() {
	n, err := t.r.Path("/sub/file")
	AssertEq(nil, err)
	ExpectEq(uint32(2), n)
}

func (t *ResolverTest) ResolvesRootForEmptyAndSlashPaths() {
	for _, p := range []string{"", "/", "//"} {
		n, err := t.r.Path(p)
		AssertEq(nil, err)
		ExpectEq(wfsfmt.RootInode, n)
	}
}

func (t *ResolverTest) ReturnsErrorForMissingPath() {
	_, err := t.r.Path("/sub/nonexistent")
	ExpectThat(err, Error(HasSubstr("no such entry")))
}

func (t *ResolverTest) ParentAndNameSplitsCorrectly() {
	parent, name, err := t.r.ParentAndName("/sub/file")
	AssertEq(nil, err)
	ExpectEq(uint32(1), parent)
	ExpectEq("file", name)
}
