//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default is what a bare `mage` runs.
var Default = Build

// Build writes the claridad binary to bin/.
func Build() error {
	fmt.Println("building claridad")
	return sh.Run("go", "build", "-o", "./bin/claridad", "./cmd/claridad")
}

// Install puts bin/claridad in /usr/local/bin.
func Install() error {
	mg.Deps(Build)
	fmt.Println("installing to /usr/local/bin")
	return sh.Run("cp", "bin/claridad", "/usr/local/bin/claridad")
}

// Serve runs `claridad serve` from the repository root, so a claridad.hcl
// there is picked up.
func Serve() error {
	mg.Deps(Build)
	return sh.RunV("./bin/claridad", "serve")
}

// Test runs every package's tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// TestRace is Test with the race detector on.
func TestRace() error {
	return sh.RunV("go", "test", "-race", "-timeout", "120s", "./...")
}

// TestServer runs the HTTP and UI tests.
func TestServer() error {
	return sh.RunV("go", "test", "-timeout", "30s", "-run", "^Test(Upload|Query|UI)", "./server")
}

// Clean deletes bin/ and the local database with its WAL files.
func Clean() error {
	for _, p := range []string{"bin", "claridad.db", "claridad.db-wal", "claridad.db-shm"} {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return nil
}

// Tidy syncs go.mod with the imports.
func Tidy() error {
	return sh.Run("go", "mod", "tidy")
}

// Check runs Fmt and Vet.
func Check() {
	mg.Deps(Fmt, Vet)
}

func Fmt() error {
	return sh.RunV("go", "fmt", "./...")
}

func Vet() error {
	return sh.RunV("go", "vet", "./...")
}
