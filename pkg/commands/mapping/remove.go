package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/pincer/pkg/cmdhelper"
	"github.com/wuxler/pincer/pkg/errdefs"
	imagemapping "github.com/wuxler/pincer/pkg/mapping"
)

// NewRemoveCommand returns a RemoveCommand with default values.
func NewRemoveCommand(parent *MappingCommand) *RemoveCommand {
	return &RemoveCommand{MappingCommand: parent}
}

// RemoveCommand deletes entries from the mapping index. The content the
// entries point at is left untouched, locally and remotely.
type RemoveCommand struct {
	*MappingCommand
	Force bool `json:"force,omitempty" yaml:"force,omitempty"`
}

// ToCLI transforms to a *cli.Command.
func (c *RemoveCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:    "remove",
		Aliases: []string{"rm", "del", "delete"},
		Usage:   "Remove an image or a single reference from the mapping index",
		UsageText: `pincer mapping remove [OPTIONS] IMAGE[:TAG|@DIGEST]

# Remove a single tag entry
$ pincer mapping remove app:latest

# Remove an image with all its references and tracked blobs
$ pincer mapping remove app
`,
		ArgsUsage: "IMAGE[:TAG|@DIGEST]",
		Flags:     c.Flags(),
		Before:    cli.BeforeFunc(cmdhelper.ExactArgs(1)),
		Action:    c.Run,
	}
}

// Flags defines the flags related to the current command.
func (c *RemoveCommand) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "force",
			Aliases:     []string{"f"},
			Usage:       "force to run, ignore prompt and not found error",
			Destination: &c.Force,
			Value:       c.Force,
		},
	}
}

// Run is the main function for the current command
func (c *RemoveCommand) Run(ctx context.Context, cmd *cli.Command) error {
	target := cmd.Args().First()
	image, reference, hasReference := cutReference(target)

	index, err := c.LoadIndex()
	if err != nil {
		return err
	}
	tree := index.Snapshot()

	exists := false
	if hasReference {
		_, exists = index.LookupManifest(image, reference)
	} else {
		exists = lo.Contains(tree.Images(), image)
	}
	if !exists {
		if c.Force {
			cmdhelper.Fprintf(cmd.Writer, "Skip, missing %q which is not found", target)
			return nil
		}
		return errdefs.Newf(errdefs.ErrNotFound, "no mapping entry for %q", target)
	}

	confirmed := true
	if !c.Force {
		prompt := &promptui.Prompt{
			Label:     fmt.Sprintf("Are you sure to remove %q from the mapping index", target),
			Default:   "N",
			IsConfirm: true,
		}
		userInput, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrAbort) {
				return nil
			}
			return err
		}
		confirmed = strings.EqualFold(userInput, "y")
	}
	if !confirmed {
		return nil
	}

	removed := 0
	err = index.Mutate(func(tree imagemapping.Tree) error {
		if hasReference {
			count, err := tree.RemoveManifest(image, reference)
			removed = count
			return err
		}
		removed = tree.RemoveImage(image)
		return nil
	})
	if err != nil {
		return err
	}
	cmdhelper.Fprintf(cmd.Writer, "Removed %d entry(s) for %q", removed, target)
	return nil
}
