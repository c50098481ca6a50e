package upsert

import (
	"context"
	"fmt"
	"time"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// File is a tracked file (ISO, RPM, script, disk image, or other) known to
// the cluster, keyed by its MD5 sum rather than its name.
type File struct {
	UUID      string
	Name      string
	Directory string
	Size      int64
	MD5       string
	Type      string // iso, rpm, script, image, other
	MTime     *time.Time
}

var validFileTypes = map[string]bool{"iso": true, "rpm": true, "script": true, "image": true, "other": true}

// UpsertFile inserts or updates a files row.
func UpsertFile(ctx context.Context, ex *sqlexec.Executor, f File) (Result, error) {
	if f.MD5 == "" {
		return Result{}, fmt.Errorf("upsert: md5 is required")
	}
	if !validFileTypes[f.Type] {
		return Result{}, fmt.Errorf("upsert: invalid file type %q", f.Type)
	}

	var mtime any
	if f.MTime != nil {
		mtime = *f.MTime
	}

	spec := Spec{
		Table:      "files",
		HistoryOK:  true,
		UUIDColumn: "file_uuid",
		UUID:       f.UUID,
		NaturalKey: map[string]any{"md5": f.MD5},
		Values: Fields{
			"name":      f.Name,
			"directory": f.Directory,
			"size":      f.Size,
			"md5":       f.MD5,
			"type":      f.Type,
			"mtime":     mtime,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}

// FileLocation records that a given file is present on a given host.
type FileLocation struct {
	UUID     string
	HostUUID string
	FileUUID string
}

// UpsertFileLocation inserts or updates a file_locations row; an
// unregistered HostUUID silently no-ops per §4.D.3.
func UpsertFileLocation(ctx context.Context, ex *sqlexec.Executor, hostExists HostExistsFunc, fl FileLocation) (Result, error) {
	if !ValidUUID(fl.HostUUID) || !ValidUUID(fl.FileUUID) {
		return Result{}, fmt.Errorf("upsert: host_uuid and file_uuid must be valid UUIDs")
	}

	ok, err := hostExists(ctx, ex, fl.HostUUID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	spec := Spec{
		Table:      "file_locations",
		HistoryOK:  true,
		UUIDColumn: "file_location_uuid",
		UUID:       fl.UUID,
		NaturalKey: map[string]any{"host_uuid": fl.HostUUID, "file_uuid": fl.FileUUID},
		Values: Fields{
			"host_uuid": fl.HostUUID,
			"file_uuid": fl.FileUUID,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}
