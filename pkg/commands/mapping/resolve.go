package mapping

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/pincer/pkg/cmdhelper"
	"github.com/wuxler/pincer/pkg/errdefs"
)

// NewResolveCommand returns a ResolveCommand with default values.
func NewResolveCommand(parent *MappingCommand) *ResolveCommand {
	return &ResolveCommand{MappingCommand: parent}
}

// ResolveCommand looks up the content id recorded for an image reference.
type ResolveCommand struct {
	*MappingCommand
}

// ToCLI transforms to a *cli.Command.
func (c *ResolveCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:            "resolve",
		HideHelpCommand: true,
		Usage:           "Resolve an image reference to its backing content id",
		UsageText: `pincer mapping resolve IMAGE[:TAG|@DIGEST]

# Resolve the content id recorded for a tag
$ pincer mapping resolve app:v1

# The tag defaults to "latest" when omitted
$ pincer mapping resolve app
`,
		ArgsUsage: "IMAGE[:TAG|@DIGEST]",
		Before:    cmdhelper.BeforeFunc(cmdhelper.ExactArgs(1)),
		Action:    c.Run,
	}
}

// Run is the main function for the current command
func (c *ResolveCommand) Run(ctx context.Context, cmd *cli.Command) error {
	target := cmd.Args().First()
	image, reference, ok := cutReference(target)
	if !ok {
		reference = "latest"
	}

	index, err := c.LoadIndex()
	if err != nil {
		return err
	}
	contentRef, found := index.LookupManifest(image, reference)
	if !found {
		return errdefs.Newf(errdefs.ErrNotFound, "no mapping entry for %q", target)
	}
	cmdhelper.Fprintf(cmd.Writer, "%s", contentRef)
	return nil
}
