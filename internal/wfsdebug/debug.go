// Package wfsdebug provides the flag-gated debug logging every wfs binary
// and the operation surface share: silent unless -wfs.debug is passed, and
// never buffered so messages interleave correctly with fuse's own debug
// log. Unlike a single shared logger, every caller here gets its own
// component-tagged instance, and appends are logged through Append rather
// than ad hoc Printf calls, so a -wfs.debug trace reads as a sequence of
// head movements (the one thing spec.md §5 says actually matters between
// operations) rather than a grab-bag of free-form strings.
package wfsdebug

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sync"
)

var fEnableDebug = flag.Bool(
	"wfs.debug",
	false,
	"Write wfs debugging messages (mutations, compaction, corruption) to stderr.")

var (
	gWriter     io.Writer
	gWriterOnce sync.Once
)

func writer() io.Writer {
	gWriterOnce.Do(func() {
		if !flag.Parsed() {
			panic("wfsdebug: Component called before flags available")
		}
		gWriter = ioutil.Discard
		if *fEnableDebug {
			gWriter = os.Stderr
		}
	})
	return gWriter
}

const logFlags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

// Component returns a debug logger tagged with name (e.g. "mkfs", "wfsfs",
// "wfscompact"), so messages from whichever binary or package emitted them
// can be told apart in a shared -wfs.debug trace instead of all carrying
// the same bare prefix.
func Component(name string) *log.Logger {
	return log.New(writer(), fmt.Sprintf("wfs[%s]: ", name), logFlags)
}

// Append logs one append-then-publish event: the component that performed
// it, the head offset before and after, and how many records were written
// in the batch. internal/wfsmutate and internal/wfscompact both call this
// at the same point they call wfsimage.Image.SetHead, so a -wfs.debug
// trace shows exactly when and how far the log head moved rather than a
// prose description of "a mutation happened".
func Append(component string, oldHead, newHead uint32, records int) {
	Component(component).Printf("head %d -> %d (+%d record(s))", oldHead, newHead, records)
}
