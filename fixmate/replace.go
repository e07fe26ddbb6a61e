package fixmate

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/jourdren/picard/encoding/bamprovider"
)

// backupSuffix is appended to the input path while it is being replaced.
const backupSuffix = ".old"

// fileSystem is the set of local file operations of the in-place swap.
type fileSystem interface {
	Stat(path string) (os.FileInfo, error)
	Rename(oldPath, newPath string) error
	Remove(path string) error
}

type osFileSystem struct{}

func (osFileSystem) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }
func (osFileSystem) Rename(oldPath, newPath string) error  { return os.Rename(oldPath, newPath) }
func (osFileSystem) Remove(path string) error              { return os.Remove(path) }

// stagedPath returns a new unique path beside input for the fixed data. It
// keeps the extension of input so that the output format is unchanged.
func stagedPath(input string) string {
	dir, base := filepath.Split(input)
	return filepath.Join(dir, base+".being_fixed."+uuid.New().String()+filepath.Ext(base))
}

type replaceResult struct {
	status         ReplaceStatus
	backupPath     string
	stagedPath     string
	leftoverBackup bool
	leftoverIndex  bool
}

// replaceInPlace moves the staged output and its index over input. The
// original is first renamed to <input>.old and deleted once the staged file
// is in place.
//
// An error is returned, and the staged files are removed, if the original
// could not be moved aside; the original is then untouched. If the staged
// file cannot be moved over the input, both the backup and the staged file
// are kept and the status is ReplaceFailed. Failures to move the index or to
// delete the backup are reported as leftovers.
func replaceInPlace(fs fileSystem, input, staged, stagedIndex string) (replaceResult, error) {
	backup := input + backupSuffix
	removeStaged := func() {
		for _, p := range []string{staged, stagedIndex} {
			if p == "" {
				continue
			}
			if err := fs.Remove(p); err != nil {
				log.Error.Printf("remove %s: %v", p, err)
			}
		}
	}
	if _, err := fs.Stat(backup); err == nil {
		removeStaged()
		return replaceResult{}, errors.E(errors.Exists, "backup file already exists:", backup)
	} else if !os.IsNotExist(err) {
		removeStaged()
		return replaceResult{}, errors.E(err, "stat", backup)
	}
	if err := fs.Rename(input, backup); err != nil {
		removeStaged()
		return replaceResult{}, errors.E(err, "could not move original", input, "to", backup)
	}
	if err := fs.Rename(staged, input); err != nil {
		log.Error.Printf("could not move fixed file %s over %s: %v. The original file is at %s, the fixed file is at %s",
			staged, input, err, backup, staged)
		return replaceResult{status: ReplaceFailed, backupPath: backup, stagedPath: staged}, nil
	}
	r := replaceResult{status: Replaced, backupPath: backup, stagedPath: staged}
	if stagedIndex != "" {
		index := bamprovider.IndexPath(input)
		if err := fs.Rename(stagedIndex, index); err != nil {
			log.Error.Printf("warning: could not move index %s to %s: %v", stagedIndex, index, err)
			r.leftoverIndex = true
		}
	}
	if err := fs.Remove(backup); err != nil {
		log.Error.Printf("warning: could not delete backup %s: %v", backup, err)
		r.leftoverBackup = true
	}
	return r, nil
}
