package system

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"infrasys/serialize"
	"infrasys/timeseries"
	"infrasys/timeseries/manager"
	"infrasys/timeseries/metadata"
)

// timeSeriesMetadataFile is the fixed filename the metadata index is copied
// to inside every sidecar directory.
const timeSeriesMetadataFile = "time_series_metadata.db"

// SaveOptions configures Save.
type SaveOptions struct {
	// Zip packs the saved tree into <dir>.zip and removes the loose
	// directory afterward.
	Zip bool

	// Overwrite replaces an existing saved system at the destination.
	// Without it, Save fails with ErrFileExists and leaves the
	// destination untouched.
	Overwrite bool
}

// Save writes the system to dir as <name>.json plus a <name>_time_series/
// sidecar directory, where <name> is the system's own Name (falling back
// to its UUID if Name is empty).
func (s *System) Save(ctx context.Context, dir string, opts SaveOptions) error {
	stem := s.name
	if stem == "" {
		stem = s.uuid.String()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("system: creating %q: %w", dir, err)
	}

	jsonPath := filepath.Join(dir, stem+".json")
	if _, err := os.Stat(jsonPath); err == nil {
		if !opts.Overwrite {
			return fmt.Errorf("%w: %q", timeseries.ErrFileExists, jsonPath)
		}
		if err := os.Remove(jsonPath); err != nil {
			return fmt.Errorf("system: removing %q: %w", jsonPath, err)
		}
	}

	tsDirName := stem + "_time_series"
	tsDir := filepath.Join(dir, tsDirName)
	// Saving back into the directory the system was opened from must not
	// clear the sidecar: the live backend payload already lives there.
	inPlace := s.tsDir != "" && filepath.Clean(tsDir) == filepath.Clean(s.tsDir)
	if opts.Overwrite && !inPlace {
		if err := os.RemoveAll(tsDir); err != nil {
			return fmt.Errorf("system: clearing %q: %w", tsDir, err)
		}
	}
	if err := os.MkdirAll(tsDir, 0o755); err != nil {
		return fmt.Errorf("system: creating %q: %w", tsDir, err)
	}

	backendKind := s.backendKind
	if !inPlace {
		if err := s.metaIndex.Serialize(ctx, filepath.Join(tsDir, timeSeriesMetadataFile)); err != nil {
			return err
		}
		if s.backend.TimeSeriesDirectory() != "" {
			if err := s.backend.Serialize(ctx, tsDir); err != nil {
				return fmt.Errorf("system: serializing %s backend: %w", s.backendKind, err)
			}
		} else {
			// A purely in-memory backend has no payload of its own to
			// copy; its arrays are exported as Arrow files so Open can
			// read them back, and the document records the backend they
			// now live in.
			fileBackend, err := timeseries.NewBackend("arrow", tsDir)
			if err != nil {
				return fmt.Errorf("system: constructing arrow backend for save: %w", err)
			}
			if err := s.ts.CopyAllTo(ctx, fileBackend); err != nil {
				return fmt.Errorf("system: exporting in-memory time series: %w", err)
			}
			backendKind = "arrow"
		}
	}

	meta := serialize.SystemMeta{
		Name:                s.name,
		Description:         s.description,
		UUID:                s.uuid,
		DataFormatVersion:   s.dataFormatVersion,
		TimeSeriesDirectory: tsDirName,
		TimeSeriesBackend:   backendKind,
	}
	data, err := serialize.ToJSON(s.reg, s.attrs, meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("system: writing %q: %w", jsonPath, err)
	}

	if !opts.Zip {
		return nil
	}

	zipPath := strings.TrimSuffix(dir, string(filepath.Separator)) + ".zip"
	if err := zipDirectory(dir, zipPath); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func zipDirectory(dir, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("system: creating %q: %w", zipPath, err)
	}
	defer out.Close()

	w := zip.NewWriter(out)
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(entry, src)
		return err
	})
	if walkErr != nil {
		w.Close()
		return fmt.Errorf("system: zipping %q: %w", dir, walkErr)
	}
	return w.Close()
}

// OpenOptions configures Open.
type OpenOptions struct {
	// ReadOnly opens the system in read-only mode.
	ReadOnly bool

	// Upgrade is forwarded to serialize.FromJSON for documents whose
	// data_format_version does not match serialize.FormatVersion.
	Upgrade serialize.UpgradeHandler
}

// Open reads a system previously written by Save. path may point at a
// <stem>.json file directly, or at a <dir>.zip archive produced by
// Save with SaveOptions{Zip: true}; a bare directory is rejected since the stem is not
// otherwise recoverable.
func Open(ctx context.Context, path string, opts OpenOptions) (*System, error) {
	if strings.HasSuffix(path, ".zip") {
		return openZip(ctx, path, opts)
	}
	return openJSONFile(ctx, path, opts)
}

func openZip(ctx context.Context, zipPath string, opts OpenOptions) (*System, error) {
	workDir, err := os.MkdirTemp("", "infrasys-open-*")
	if err != nil {
		return nil, fmt.Errorf("system: creating scratch directory: %w", err)
	}
	if err := unzipTo(zipPath, workDir); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(workDir, "*.json"))
	if err != nil || len(matches) != 1 {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("system: %q does not contain exactly one top-level JSON document", zipPath)
	}
	s, err := openJSONFile(ctx, matches[0], opts)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	// The extracted tree is transient; Close removes it with the rest of
	// the system's scratch state.
	s.scratchDir = workDir
	return s, nil
}

func unzipTo(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("system: opening %q: %w", zipPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.Create(target)
		if err != nil {
			src.Close()
			return err
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func openJSONFile(ctx context.Context, jsonPath string, opts OpenOptions) (*System, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("system: reading %q: %w", jsonPath, err)
	}

	reg, attrs, meta, err := serialize.FromJSON(data, serialize.FromJSONOptions{Upgrade: opts.Upgrade})
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(jsonPath)
	tsDir := meta.TimeSeriesDirectory
	if tsDir != "" {
		tsDir = filepath.Join(dir, tsDir)
	}

	kind := meta.TimeSeriesBackend
	if kind == "" {
		kind = DefaultBackend
	}
	backend, err := timeseries.NewBackend(kind, tsDir)
	if err != nil {
		return nil, fmt.Errorf("system: constructing %s backend: %w", kind, err)
	}

	metaDBPath := ":memory:"
	if tsDir != "" {
		metaDBPath = filepath.Join(tsDir, timeSeriesMetadataFile)
	}
	idx, err := metadata.Open(ctx, metaDBPath)
	if err != nil {
		return nil, fmt.Errorf("system: opening metadata index: %w", err)
	}

	s := &System{
		uuid:              meta.UUID,
		name:              meta.Name,
		description:       meta.Description,
		dataFormatVersion: meta.DataFormatVersion,
		reg:               reg,
		attrs:             attrs,
		ts:                manager.New(backend, idx),
		backendKind:       kind,
		backend:           backend,
		metaIndex:         idx,
		tsDir:             tsDir,
	}
	if err := s.restoreTimeSeriesTrackers(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if opts.ReadOnly {
		s.SetReadOnly(true)
	}
	return s, nil
}
