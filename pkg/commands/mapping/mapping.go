// Package mapping provides commands to inspect and edit the image mapping
// index that records which content id backs each pushed image.
package mapping

import (
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/pincer/pkg/commands/internal/options"
	imagemapping "github.com/wuxler/pincer/pkg/mapping"
)

// New creates a new MappingCommand.
func New() *MappingCommand {
	return &MappingCommand{
		MappingFile: options.DefaultMappingFile,
	}
}

// MappingCommand retains the common flags for mapping subcommands.
type MappingCommand struct {
	MappingFile string
}

// ToCLI tranforms to a *cli.Command.
func (c *MappingCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:    "mapping",
		Aliases: []string{"map"},
		Usage:   "Inspect and edit the image mapping index",
		Flags:   c.Flags(),
		Commands: []*cli.Command{
			NewShowCommand(c).ToCLI(),
			NewResolveCommand(c).ToCLI(),
			NewRemoveCommand(c).ToCLI(),
		},
	}
}

// Flags defines the flags related to the current command.
func (c *MappingCommand) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mapping-file",
			Usage:       "path to the image mapping index file",
			Sources:     cli.EnvVars("PINCER_MAPPING_FILE", "MAPPING_FILE"),
			Destination: &c.MappingFile,
			Value:       c.MappingFile,
		},
	}
}

// LoadIndex opens the mapping index file and loads its current content.
func (c *MappingCommand) LoadIndex() (*imagemapping.Index, error) {
	index := imagemapping.NewIndex(afero.NewOsFs(), c.MappingFile)
	if err := index.Load(); err != nil {
		return nil, err
	}
	return index, nil
}

// cutReference splits "image:tag" or "image@digest" into the image name and
// the reference. ok reports whether a reference was present at all.
func cutReference(target string) (image, reference string, ok bool) {
	if image, reference, ok = strings.Cut(target, "@"); ok {
		return image, reference, true
	}
	return strings.Cut(target, ":")
}
