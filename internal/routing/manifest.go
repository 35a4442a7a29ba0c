package routing

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DictFileExt is the on-disk extension for a dictionary blob.
	DictFileExt = ".dict"
	// ManifestExt is the on-disk extension for a manifest.
	ManifestExt = ".mf"

	defaultNamespace = "default"
)

// manifestRecord is the parsed, still-relative form of a manifest file
// (spec §6): a line-oriented `key = value` text file.
type manifestRecord struct {
	id           uint16
	hasID        bool
	dictFile     string
	namespaces   []string
	created      time.Time
	level        int
	signature    string
	retired      time.Time
	manifestPath string
}

func parseManifestFile(path string) (*manifestRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("routing: open manifest %s: %w", path, err)
	}
	defer f.Close()

	rec := &manifestRecord{manifestPath: path}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		switch key {
		case "id":
			if val != "" {
				n, err := strconv.ParseUint(val, 10, 16)
				if err != nil || n == 0 {
					return nil, fmt.Errorf("routing: manifest %s: invalid id %q", path, val)
				}
				rec.id = uint16(n)
				rec.hasID = true
			}
		case "dict_file":
			rec.dictFile = val
		case "namespaces":
			if val != "" {
				parts := strings.Split(val, ",")
				for _, p := range parts {
					p = strings.TrimSpace(p)
					if p != "" {
						rec.namespaces = append(rec.namespaces, p)
					}
				}
			}
		case "created":
			if val != "" {
				t, err := time.Parse(time.RFC3339, val)
				if err != nil {
					return nil, fmt.Errorf("routing: manifest %s: invalid created %q: %w", path, val, err)
				}
				rec.created = t.UTC()
			}
		case "level":
			if val != "" {
				n, err := strconv.Atoi(val)
				if err != nil {
					return nil, fmt.Errorf("routing: manifest %s: invalid level %q", path, val)
				}
				rec.level = n
			}
		case "signature":
			rec.signature = val
		case "retired":
			if val != "" {
				t, err := time.Parse(time.RFC3339, val)
				if err != nil {
					return nil, fmt.Errorf("routing: manifest %s: invalid retired %q: %w", path, val, err)
				}
				rec.retired = t.UTC()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("routing: read manifest %s: %w", path, err)
	}

	if rec.dictFile == "" {
		return nil, fmt.Errorf("routing: manifest %s missing dict_file", path)
	}
	if len(rec.namespaces) == 0 {
		rec.namespaces = []string{defaultNamespace}
	}
	return rec, nil
}

// resolveDictPath resolves dict_file relative to the manifest's directory.
func (r *manifestRecord) resolveDictPath() string {
	if filepath.IsAbs(r.dictFile) {
		return r.dictFile
	}
	return filepath.Join(filepath.Dir(r.manifestPath), r.dictFile)
}

// serialize renders the manifest back into `key = value` text.
func (r *manifestRecord) serialize() []byte {
	var b strings.Builder
	if r.hasID {
		fmt.Fprintf(&b, "id = %d\n", r.id)
	} else {
		b.WriteString("id = \n")
	}
	fmt.Fprintf(&b, "dict_file = %s\n", r.dictFile)
	fmt.Fprintf(&b, "namespaces = %s\n", strings.Join(r.namespaces, ","))
	if !r.created.IsZero() {
		fmt.Fprintf(&b, "created = %s\n", r.created.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("created = \n")
	}
	fmt.Fprintf(&b, "level = %d\n", r.level)
	fmt.Fprintf(&b, "signature = %s\n", r.signature)
	if !r.retired.IsZero() {
		fmt.Fprintf(&b, "retired = %s\n", r.retired.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("retired = \n")
	}
	return []byte(b.String())
}

// writeManifestAtomic durably (re)writes a manifest file: write to a
// temp file in the same directory, fsync it, rename over the target,
// then fsync the containing directory (spec §6 "Writes are atomic").
func writeManifestAtomic(path string, rec *manifestRecord) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("routing: create temp manifest in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(rec.serialize()); err != nil {
		tmp.Close()
		return fmt.Errorf("routing: write temp manifest %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("routing: fsync temp manifest %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("routing: close temp manifest %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("routing: rename manifest into place %s: %w", path, err)
	}
	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		dirF.Close()
	}
	return nil
}

// WriteDictionaryAtomic writes a new dictionary blob + manifest pair
// atomically into dir. Used by the trainer (C8) when publishing a
// freshly trained dictionary. An id of 0 writes the manifest without an
// id, so the next Scan assigns one.
func WriteDictionaryAtomic(dir, baseName string, dictBytes []byte, id uint16, namespaces []string, created time.Time, level int, signature string) (dictPath, manifestPath string, err error) {
	dictPath = filepath.Join(dir, baseName+DictFileExt)
	manifestPath = filepath.Join(dir, baseName+ManifestExt)

	if err := writeFileAtomic(dictPath, dictBytes); err != nil {
		return "", "", err
	}

	rec := &manifestRecord{
		id:         id,
		hasID:      id != 0,
		dictFile:   baseName + DictFileExt,
		namespaces: namespaces,
		created:    created.UTC(),
		level:      level,
		signature:  signature,
		manifestPath: manifestPath,
	}
	if err := writeManifestAtomic(manifestPath, rec); err != nil {
		return "", "", err
	}
	return dictPath, manifestPath, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".blob-*.tmp")
	if err != nil {
		return fmt.Errorf("routing: create temp blob in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("routing: write temp blob %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("routing: fsync temp blob %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("routing: close temp blob %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("routing: rename blob into place %s: %w", path, err)
	}
	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		dirF.Close()
	}
	return nil
}
