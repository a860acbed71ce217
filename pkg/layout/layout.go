// Package layout manages the host directories the lifecycle engine mounts
// into every container: a per-container volume directory (bind-mounted to
// /home/container) and a per-container data directory (bind-mounted to
// /app/data, where the generated entrypoint and install scripts live).
// Adapted from the teacher's local volume driver, simplified to the single
// local-bind-mount layout this daemon needs — no multi-driver abstraction,
// since lightd only ever talks to one host filesystem.
package layout

import (
	"os"
	"path/filepath"

	"github.com/lightdaemon/lightd/pkg/lightderr"
)

// Layout resolves volume and container-data paths under a storage base
// directory.
type Layout struct {
	volumesPath    string
	containersPath string
}

// New builds a Layout rooted at the given volumes/containers paths,
// creating them if absent.
func New(volumesPath, containersPath string) (*Layout, error) {
	if err := os.MkdirAll(volumesPath, 0755); err != nil {
		return nil, lightderr.Wrap(lightderr.IO, "create volumes directory", err)
	}
	if err := os.MkdirAll(containersPath, 0755); err != nil {
		return nil, lightderr.Wrap(lightderr.IO, "create containers directory", err)
	}
	return &Layout{volumesPath: volumesPath, containersPath: containersPath}, nil
}

// VolumePath returns the host path bind-mounted to /home/container.
func (l *Layout) VolumePath(volumeID string) string {
	return filepath.Join(l.volumesPath, volumeID)
}

// ContainerDataPath returns the host path bind-mounted to /app/data.
func (l *Layout) ContainerDataPath(internalID string) string {
	return filepath.Join(l.containersPath, internalID)
}

// EnsureVolume creates a container's volume directory if absent.
func (l *Layout) EnsureVolume(volumeID string) (string, error) {
	path := l.VolumePath(volumeID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", lightderr.Wrap(lightderr.IO, "create volume directory", err)
	}
	return path, nil
}

// EnsureContainerData creates a container's data directory if absent.
func (l *Layout) EnsureContainerData(internalID string) (string, error) {
	path := l.ContainerDataPath(internalID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", lightderr.Wrap(lightderr.IO, "create container data directory", err)
	}
	return path, nil
}

// WriteEntrypoint writes the generated entrypoint script for a container,
// overwriting any existing one.
func (l *Layout) WriteEntrypoint(internalID, script string) error {
	path := filepath.Join(l.ContainerDataPath(internalID), "entrypoint.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return lightderr.Wrap(lightderr.IO, "write entrypoint script", err)
	}
	return nil
}

// WriteInstallScript writes an optional one-shot install script for a
// container.
func (l *Layout) WriteInstallScript(internalID, script string) error {
	path := filepath.Join(l.ContainerDataPath(internalID), "install.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return lightderr.Wrap(lightderr.IO, "write install script", err)
	}
	return nil
}

// DeleteContainerData removes a container's data directory entirely, e.g.
// on container delete.
func (l *Layout) DeleteContainerData(internalID string) error {
	if err := os.RemoveAll(l.ContainerDataPath(internalID)); err != nil {
		return lightderr.Wrap(lightderr.IO, "delete container data directory", err)
	}
	return nil
}
