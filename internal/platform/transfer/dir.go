// Package transfer moves X12 files between this service and a
// clearinghouse. Outbound 837P files are put into an outbox; inbound
// acknowledgments, status responses and remittances are listed and fetched
// from an inbox.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidName is returned for file names that are empty, hidden or
// contain a path separator.
var ErrInvalidName = errors.New("transfer: invalid file name")

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || isHidden(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func isHidden(name string) bool { return strings.HasPrefix(name, ".") }

// isPartial reports names that writers use while a file is still being
// written.
func isPartial(name string) bool {
	return strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part")
}

// DirChannel exchanges files through two local directories, typically a
// mounted SFTP drop.
type DirChannel struct {
	inbound  string
	outbound string
}

// NewDirChannel roots the inbox and outbox at root/inbound and root/outbound
// (relative names) and creates them if needed.
func NewDirChannel(root, inbound, outbound string) (*DirChannel, error) {
	if root == "" {
		return nil, errors.New("transfer: root directory is required")
	}
	d := &DirChannel{inbound: resolve(root, inbound), outbound: resolve(root, outbound)}
	for _, dir := range []string{d.inbound, d.outbound} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return d, nil
}

func resolve(root, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// InboundDir is the directory List and Fetch read from.
func (d *DirChannel) InboundDir() string { return d.inbound }

// OutboundDir is the directory Put writes to.
func (d *DirChannel) OutboundDir() string { return d.outbound }

// Put writes payload under name in the outbound directory. The file
// appears under its final name only once completely written.
func (d *DirChannel) Put(ctx context.Context, name string, payload []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.outbound, "."+name+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.outbound, name)); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// List returns the regular files waiting in the inbound directory, sorted
// by name. Hidden and partially written files are skipped.
func (d *DirChannel) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.inbound)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.inbound, err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || isHidden(name) || isPartial(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Fetch reads one inbound file.
func (d *DirChannel) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(d.inbound, name))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	return b, nil
}
