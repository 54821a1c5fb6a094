// Package envload locates and loads the nearest .env file so provider
// API keys travel with the project instead of the shell.
package envload

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadNearest walks from the working directory upward and loads the
// first .env file it finds. Existing environment variables are never
// overridden. Returns the loaded path, or empty when no file exists.
func LoadNearest() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return LoadFrom(wd)
}

// LoadFrom walks from dir upward looking for a .env file.
func LoadFrom(dir string) (string, error) {
	for {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return "", err
			}
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
