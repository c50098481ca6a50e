// Package anvilconf reads and edits anvil.conf, the line-oriented
// "key = value" file that carries this toolkit's domain configuration:
// peer definitions, archive thresholds, and lock lease ages. Unlike the
// process-level settings in envconfig, anvil.conf is meant to be hand-edited
// by an administrator and then left alone by the tools that read it — so
// File.Set and File.Save preserve comments, blank lines, and key ordering
// instead of reserializing the whole document.
package anvilconf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// entry is one physical line: either a parsed "key = value" pair or a
// passthrough line (comment, blank, or unparsable) kept verbatim.
type entry struct {
	key       string
	value     string
	raw       string
	isKeyLine bool
}

// File is an in-memory, order-preserving view of an anvil.conf document.
type File struct {
	path    string
	entries []entry
	index   map[string]int // key -> index into entries, for O(1) lookup/update
}

// Load parses the anvil.conf file at path. A missing file is not an error;
// it is treated as an empty document so that first-run bootstrapping can
// call Save to create it.
func Load(path string) (*File, error) {
	f := &File{path: path, index: make(map[string]int)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			f.entries = append(f.entries, entry{raw: line})
			continue
		}

		k, v, ok := splitKV(line)
		if !ok {
			f.entries = append(f.entries, entry{raw: line})
			continue
		}

		f.index[k] = len(f.entries)
		f.entries = append(f.entries, entry{key: k, value: v, isKeyLine: true})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}

	return f, nil
}

func splitKV(line string) (key, value string, ok bool) {
	eq := strings.Index(line, "=")
	if eq < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:eq])
	value = strings.TrimSpace(line[eq+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// Get returns the raw string value for key, or ok=false if unset.
func (f *File) Get(key string) (string, bool) {
	i, ok := f.index[key]
	if !ok {
		return "", false
	}
	return f.entries[i].value, true
}

// GetDefault returns the value for key, or def if unset.
func (f *File) GetDefault(key, def string) string {
	if v, ok := f.Get(key); ok {
		return v
	}
	return def
}

// GetInt parses key as an integer, or returns def if unset or unparsable.
func (f *File) GetInt(key string, def int) int {
	v, ok := f.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetBool parses key as a boolean ("1"/"0"/"true"/"false"), or returns def
// if unset or unparsable.
func (f *File) GetBool(key string, def bool) bool {
	v, ok := f.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Keys returns every configured key with the given prefix, in file order.
// Used to enumerate repeated groups like peer definitions ("database::<uuid>::*").
func (f *File) Keys(prefix string) []string {
	var keys []string
	for _, e := range f.entries {
		if e.isKeyLine && strings.HasPrefix(e.key, prefix) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Set updates key's value in place if it already exists, preserving its
// line position; otherwise it appends a new "key = value" line at the end
// of the file. Set does not write to disk — call Save to persist.
func (f *File) Set(key, value string) {
	if i, ok := f.index[key]; ok {
		f.entries[i].value = value
		return
	}
	f.index[key] = len(f.entries)
	f.entries = append(f.entries, entry{key: key, value: value, isKeyLine: true})
}

// Save atomically rewrites the file: it writes to a temporary file in the
// same directory and renames it over path, so a reader never observes a
// partially written document. Comments and non-key lines are written back
// verbatim; key lines are written as "key = value".
func (f *File) Save() error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".anvil.conf.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	w := bufio.NewWriter(tmp)
	for _, e := range f.entries {
		if e.isKeyLine {
			fmt.Fprintf(w, "%s = %s\n", e.key, e.value)
		} else {
			fmt.Fprintln(w, e.raw)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("renaming %s over %s: %w", tmpPath, f.path, err)
	}
	return nil
}

// Peer is one configured database peer, parsed out of the repeated
// "database::<uuid>::*" key group per §6.
type Peer struct {
	UUID        string
	Host        string
	Port        int
	Name        string
	User        string
	Password    string
	PingTimeout int // seconds
}

// Peers returns every peer defined in the file, in the order their
// "database::<uuid>::host" key first appears.
func (f *File) Peers() []Peer {
	seen := make(map[string]bool)
	var order []string
	for _, k := range f.Keys("database::") {
		parts := strings.SplitN(k, "::", 3)
		if len(parts) != 3 {
			continue
		}
		uuid := parts[1]
		if !seen[uuid] {
			seen[uuid] = true
			order = append(order, uuid)
		}
	}

	peers := make([]Peer, 0, len(order))
	for _, uuid := range order {
		peers = append(peers, Peer{
			UUID:        uuid,
			Host:        f.GetDefault("database::"+uuid+"::host", ""),
			Port:        f.GetInt("database::"+uuid+"::port", 5432),
			Name:        f.GetDefault("database::"+uuid+"::name", "anvil"),
			User:        f.GetDefault("database::"+uuid+"::user", "anvil"),
			Password:    f.GetDefault("database::"+uuid+"::password", ""),
			PingTimeout: f.GetInt("database::"+uuid+"::ping", 10),
		})
	}
	return peers
}

// Archive settings, read from the "sys::database::archive::*" key group
// per §6.
type Archive struct {
	Trigger   int
	Count     int
	Division  int
	Directory string
	Compress  bool
}

// ArchiveSettings returns the configured archiver thresholds, defaulting
// to the values named in §4.G when unset.
func (f *File) ArchiveSettings() Archive {
	return Archive{
		Trigger:   f.GetInt("sys::database::archive::trigger", 20000),
		Count:     f.GetInt("sys::database::archive::count", 10000),
		Division:  f.GetInt("sys::database::archive::division", 25000),
		Directory: f.GetDefault("sys::database::archive::directory", "/usr/local/anvil/archives"),
		Compress:  f.GetBool("sys::database::archive::compress", true),
	}
}

// DatabaseSettings holds the scalar "sys::database::*" keys that are not
// part of the archiver or peer groups.
type DatabaseSettings struct {
	LockingReapAge           int
	LogTransactions          bool
	MaximumBatchSize         int
	FailedConnectionLogLevel string
}

// DatabaseSettings returns the configured sys::database::* scalars,
// defaulting conservatively when unset.
func (f *File) DatabaseSettings() DatabaseSettings {
	return DatabaseSettings{
		LockingReapAge:           f.GetInt("sys::database::locking_reap_age", 300),
		LogTransactions:          f.GetBool("sys::database::log_transactions", false),
		MaximumBatchSize:         f.GetInt("sys::database::maximum_batch_size", 25000),
		FailedConnectionLogLevel: f.GetDefault("sys::database::failed_connection_log_level", "warn"),
	}
}

// LockingReapAge returns the duration, in seconds, after which a lock with
// no observed heartbeat is considered stale and eligible for reaping.
func (f *File) LockingReapAge() int {
	return f.DatabaseSettings().LockingReapAge
}
