package authority

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
)

const (
	// IdentityFile is the name of the file, in the data directory, that
	// describes the unit a node signs for.
	IdentityFile = "authority.json"
)

// Identity is the on-disk description of an authority.
type Identity struct {
	Unit        string      `json:"unit"`
	Certificate Certificate `json:"certificate"`
	Hierarchy   Hierarchy   `json:"hierarchy"`
}

// LoadIdentity reads authority.json from dir.
func LoadIdentity(dir string) (*Identity, error) {
	buf, err := ioutil.ReadFile(filepath.Join(dir, IdentityFile))
	if err != nil {
		return nil, err
	}

	var id Identity
	if err := json.Unmarshal(buf, &id); err != nil {
		return nil, err
	}

	return &id, nil
}

// WriteIdentity writes id to authority.json in dir.
func WriteIdentity(dir string, id *Identity) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	buf, err := json.MarshalIndent(id, "", "\t")
	if err != nil {
		return err
	}

	return ioutil.WriteFile(filepath.Join(dir, IdentityFile), buf, 0644)
}
