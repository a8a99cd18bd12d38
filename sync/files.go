package sync

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
)

//go:embed defaults.yaml
var defaultSettings []byte

// SettingsFile is one YAML layer of Settings.
type SettingsFile struct {
	Name   string
	Reader *bytes.Reader
	Length int
}

// DefaultSettingsFile returns the embedded defaults layer.
func DefaultSettingsFile() SettingsFile {
	return SettingsFile{
		Name:   "defaults.yaml",
		Reader: bytes.NewReader(defaultSettings),
		Length: len(defaultSettings),
	}
}

// SettingsFileFromBytes wraps b as a settings layer.
func SettingsFileFromBytes(name string, b []byte) SettingsFile {
	return SettingsFile{Name: name, Reader: bytes.NewReader(b), Length: len(b)}
}

// MustFindSettingsFile reads an operator supplied settings layer from disk.
func MustFindSettingsFile(path string) (SettingsFile, error) {
	var result SettingsFile
	b, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("failed to read settings file %w", err)
	}
	return SettingsFileFromBytes(path, b), nil
}
