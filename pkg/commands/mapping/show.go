package mapping

import (
	"context"
	"slices"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/pincer/pkg/cmdhelper"
	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/ocispec"
)

// NewShowCommand returns a ShowCommand with default values.
func NewShowCommand(parent *MappingCommand) *ShowCommand {
	return &ShowCommand{
		MappingCommand: parent,
		Output:         "text",
	}
}

// ShowCommand prints the content of the mapping index.
type ShowCommand struct {
	*MappingCommand
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// ToCLI transforms to a *cli.Command.
func (c *ShowCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:            "show",
		Aliases:         []string{"list", "ls"},
		HideHelpCommand: true,
		Usage:           "Show the images recorded in the mapping index",
		UsageText: `pincer mapping show [OPTIONS]

# List all images with their references and backing content ids
$ pincer mapping show

# Dump the raw mapping index as JSON
$ pincer mapping show --output json
`,
		Flags:  c.Flags(),
		Before: cli.BeforeFunc(cmdhelper.NoArgs()),
		Action: c.Run,
	}
}

// Flags defines the flags related to the current command.
func (c *ShowCommand) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       `output format, one of "text" or "json"`,
			Destination: &c.Output,
			Value:       c.Output,
		},
	}
}

// Run is the main function for the current command
func (c *ShowCommand) Run(ctx context.Context, cmd *cli.Command) error {
	index, err := c.LoadIndex()
	if err != nil {
		return err
	}
	tree := index.Snapshot()

	switch c.Output {
	case "json":
		content, err := cmdhelper.PrettifyJSON(tree)
		if err != nil {
			return err
		}
		cmdhelper.Fprintf(cmd.Writer, "%s", string(content))
		return nil
	case "text":
	default:
		return errdefs.Newf(errdefs.ErrInvalidParameter, "unknown output format %q", c.Output)
	}

	images := tree.Images()
	if len(images) == 0 {
		cmdhelper.Fprintf(cmd.Writer, "No images recorded in %s", c.MappingFile)
		return nil
	}
	slices.Sort(images)
	for _, image := range images {
		cmdhelper.Fprintf(cmd.Writer, "%s", image)
		manifests := tree.Manifests(image)
		references := lo.Keys(manifests)
		slices.Sort(references)
		for _, reference := range references {
			contentRef := manifests[reference]
			location := "remote"
			if ocispec.IsDigest(contentRef) {
				location = "local"
			}
			cmdhelper.Fprintf(cmd.Writer, "  %s -> %s (%s)", reference, contentRef, location)
		}
		if count := len(tree.Blobs(image)); count > 0 {
			cmdhelper.Fprintf(cmd.Writer, "  %d blob(s) tracked", count)
		}
	}
	return nil
}
