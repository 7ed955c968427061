// Package checkpointer implements the saving of snapshots of
// serializable objects, such as the actor of an agent, to disk
package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Serializable is an object that can be saved/serialized
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Checkpointer checkpoints/saves serializable objects. The step is the
// number of environment steps taken when the checkpoint is requested.
type Checkpointer interface {
	Checkpoint(step int, object Serializable) error
}

// Save gob encodes object to the file filename. The file is replaced
// atomically so that a reader never observes a partial snapshot.
func Save(filename string, object Serializable) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp*")
	if err != nil {
		return fmt.Errorf("save: could not create file: %v", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(object); err != nil {
		tmp.Close()
		return fmt.Errorf("save: could not encode: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// Load decodes the snapshot in the file filename into object
func Load(filename string, object Serializable) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("load: could not open file: %v", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(object); err != nil {
		return fmt.Errorf("load: could not decode: %v", err)
	}
	return nil
}
