// Package increment implements the incremental-check and cache adapter: per
// leaf task, it decides between skipping (up to date), restoring from the
// shared cache, or running for real, and afterwards records the result so
// the next run can make the same decision without re-executing anything.
package increment

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/sail-build/sail/internal/turbopath"
)

// NamedHash is one file's path and content hash, the unit both srcHashes and
// dstHashes are built from.
type NamedHash struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// DoneFile is the on-disk record a leaf task's local up-to-date check
// compares against. It exists purely for local incremental checks; it is
// never read by the shared cache store.
type DoneFile struct {
	SrcHashes   []NamedHash `json:"srcHashes"`
	DstHashes   []NamedHash `json:"dstHashes"`
	DepHash     string      `json:"depHash,omitempty"`
	ToolVersion string      `json:"toolVersion,omitempty"`
	CommandLine string      `json:"commandLine,omitempty"`
}

// Equal reports whether two done-files describe the same build, the
// condition that lets a task skip execution as UpToDate. Comparison is by
// value, not by serialized bytes, so key-ordering differences from a JSON
// round-trip never cause a spurious miss.
func (d DoneFile) Equal(other DoneFile) bool {
	return namedHashesEqual(d.SrcHashes, other.SrcHashes) &&
		namedHashesEqual(d.DstHashes, other.DstHashes) &&
		d.DepHash == other.DepHash &&
		d.ToolVersion == other.ToolVersion &&
		d.CommandLine == other.CommandLine
}

func namedHashesEqual(a, b []NamedHash) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := sortedCopy(a), sortedCopy(b)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func sortedCopy(in []NamedHash) []NamedHash {
	out := append([]NamedHash{}, in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// donefilePath is the path convention for a leaf task's done-file: a
// dotfile under the package directory, namespaced by task name so sibling
// tasks in the same package never collide.
func donefilePath(packageDir turbopath.AbsoluteSystemPath, taskName string) turbopath.AbsoluteSystemPath {
	return packageDir.UntypedJoin(".sail", "done-"+taskName+".json")
}

// readDoneFile loads a task's done-file, if present. A missing or
// unparsable file is reported as "absent" rather than an error: the only
// consequence is a forced rebuild.
func readDoneFile(packageDir turbopath.AbsoluteSystemPath, taskName string) (DoneFile, bool) {
	data, err := os.ReadFile(donefilePath(packageDir, taskName).ToString())
	if err != nil {
		return DoneFile{}, false
	}
	var df DoneFile
	if err := json.Unmarshal(data, &df); err != nil {
		return DoneFile{}, false
	}
	return df, true
}

// writeDoneFile persists df using the atomic-rename pattern: a sibling temp
// file is written first and renamed over the target, so no reader ever
// observes a partially written done-file.
func writeDoneFile(packageDir turbopath.AbsoluteSystemPath, taskName string, df DoneFile) error {
	path := donefilePath(packageDir, taskName)
	if err := path.UntypedJoin("..").MkdirAll(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(df, "", "  ")
	if err != nil {
		return err
	}
	tmp := path.UntypedJoin("..", ".tmp-"+taskName+"-donefile")
	if err := os.WriteFile(tmp.ToString(), data, 0644); err != nil {
		return err
	}
	return tmp.Rename(path)
}
