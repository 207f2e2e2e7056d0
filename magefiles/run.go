//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

var examples = []string{"sprites", "skinned_mesh", "overlay"}

// Runs the sprite and tile map example.
func (Run) Sprites() error {
	return runExample("sprites")
}

// Runs the skinned mesh example.
func (Run) Skinned() error {
	return runExample("skinned_mesh")
}

// Runs the GUI overlay example.
func (Run) Overlay() error {
	return runExample("overlay")
}

func runExample(name string) error {
	mg.Deps(Build.Shaders)
	fmt.Printf("Run %s...\n", name)
	_, err := executeCmd("go", withArgs("run", "examples/"+name+".go"), withStream())
	return err
}
