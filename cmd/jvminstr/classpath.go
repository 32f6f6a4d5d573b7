package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"jvminstr/internal/classfile"
	"jvminstr/internal/profile"
)

// classArg checks the single .class argument of a pass command.
func classArg(args []string) (string, error) {
	if len(args) != 1 || !strings.HasSuffix(args[0], ".class") {
		return "", errUsage
	}
	return args[0], nil
}

// locate resolves a class argument on the class path. "pkg.Test.class",
// "pkg/Test.class" and a direct file path all name the same class.
func locate(classpath, arg string) (string, error) {
	if fi, err := os.Stat(arg); err == nil && !fi.IsDir() {
		return arg, nil
	}
	name := strings.TrimSuffix(arg, ".class")
	rel := filepath.FromSlash(strings.ReplaceAll(name, ".", "/")) + ".class"
	for _, dir := range filepath.SplitList(classpath) {
		if dir == "" {
			dir = "."
		}
		path := filepath.Join(dir, rel)
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("class %s not found on class path %q", name, classpath)
}

func readClass(path string) (*classfile.Class, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	c, err := classfile.Parse(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return c, len(data), nil
}

// writeClass serializes c next to path and renames it into place, so a
// failed write leaves the original file untouched.
func writeClass(path string, c *classfile.Class) (int, error) {
	data, err := c.Bytes()
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jvminstr-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"path": path, "size": humanize.Bytes(uint64(len(data)))}).Debug("wrote class")
	return len(data), nil
}

// loadProfile returns the --profile file, the nearest jvminstr.toml above
// dir, or the defaults.
func loadProfile(dir string) (*profile.Profile, error) {
	if path := viper.GetString("profile"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		p, err := profile.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		p.Dir = filepath.Dir(path)
		return p, nil
	}
	p, err := profile.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = profile.Default()
	}
	return p, nil
}
