//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every package of the module.
func (Build) Lib() error {
	_, err := executeCmd("go", withArgs("build", "./..."), withStream())
	return err
}

// Compiles each example program into bin/.
func (Build) Examples() error {
	for _, name := range examples {
		if _, err := executeCmd("go", withArgs("build", "-o", "bin/"+name, "examples/"+name+".go"), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Preprocesses every engine shader and compiles it to SPIR-V with naga.
func (Build) Shaders() error {
	_, err := executeCmd("go", withArgs("test", "./engine/renderer/shader/", "-run", "TestEngineShadersCompile", "-v"), withStream())
	return err
}
