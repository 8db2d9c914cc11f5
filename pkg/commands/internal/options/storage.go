package options

import (
	"github.com/urfave/cli/v3"
)

const (
	// StorageFlagCategory is the category of the storage flags.
	StorageFlagCategory = "[Storage]"

	// DefaultStorageDir is the default root of the local content store.
	DefaultStorageDir = "storage"

	// DefaultMappingFile is the default path of the mapping index file.
	DefaultMappingFile = "image_mapping.json"
)

// NewStorageOptions returns a new *StorageOptions with default values.
func NewStorageOptions() *StorageOptions {
	return &StorageOptions{
		StorageDir:  DefaultStorageDir,
		MappingFile: DefaultMappingFile,
	}
}

// StorageOptions defines the options for the local content store and the
// mapping index.
type StorageOptions struct {
	// StorageDir is the root directory of the local blob and manifest store.
	StorageDir string

	// MappingFile is the path of the mapping index JSON file.
	MappingFile string

	// StrictMapping makes a malformed mapping file fatal at startup instead
	// of starting over with an empty index.
	StrictMapping bool
}

// Flags returns the []cli.Flag related to current options.
func (o *StorageOptions) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage-dir",
			Usage:       "root directory of the local blob and manifest store",
			Sources:     cli.EnvVars("PINCER_STORAGE_DIR", "STORAGE_DIR"),
			Value:       o.StorageDir,
			Destination: &o.StorageDir,
			Category:    StorageFlagCategory,
		},
		&cli.StringFlag{
			Name:        "mapping-file",
			Usage:       "path of the mapping index JSON file",
			Sources:     cli.EnvVars("PINCER_MAPPING_FILE", "MAPPING_FILE"),
			Value:       o.MappingFile,
			Destination: &o.MappingFile,
			Category:    StorageFlagCategory,
		},
		&cli.BoolFlag{
			Name:        "strict-mapping",
			Usage:       "fail startup when the mapping file is malformed",
			Sources:     cli.EnvVars("PINCER_STRICT_MAPPING"),
			Value:       o.StrictMapping,
			Destination: &o.StrictMapping,
			Category:    StorageFlagCategory,
		},
	}
}
