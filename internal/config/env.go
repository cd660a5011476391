package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Secret returns the trimmed value of the named environment variable.
func Secret(name string) string {
	if name == "" {
		return ""
	}
	val, _ := os.LookupEnv(name)
	return strings.TrimSpace(val)
}
