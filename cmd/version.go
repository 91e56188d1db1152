package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/minutes/pkg/buildinfo"
)

var versionRemote bool

// NewVersionCommand creates the version command.
func NewVersionCommand(deps *CommandDeps) *cobra.Command {
	deps = deps.orDefault()

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit hash, and build time of the minutes binary.

Use --remote to also query the API server's /version endpoint.

Examples:
  minutes version
  minutes version --remote
  minutes version --remote --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}
	cmd.Flags().BoolVar(&versionRemote, "remote", false, "Also query the API server")
	return cmd
}

func runVersion(ctx context.Context, out io.Writer, deps *CommandDeps) error {
	local := buildinfo.Get("minutes")
	infos := []buildinfo.Info{local}
	var remoteErr error

	if versionRemote {
		cfg, c, err := deps.connect()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		remote, err := c.Version(ctx)
		if err != nil {
			remoteErr = err
		} else {
			infos = append(infos, *remote)
		}
		format, err := resolveFormat(cfg, "")
		if err != nil {
			return err
		}
		if ok, err := writeStructured(out, format, infos); ok {
			if err != nil {
				return err
			}
			return remoteErr
		}
	}

	fmt.Fprintf(out, "minutes version %s\n", local.Version)
	fmt.Fprintf(out, "  commit:     %s\n", local.Commit)
	fmt.Fprintf(out, "  built:      %s\n", local.BuildTime)
	fmt.Fprintf(out, "  go:         %s\n", local.GoVersion)
	if len(infos) > 1 {
		r := infos[1]
		fmt.Fprintf(out, "\nserver %s version %s (%s, %s)\n", r.ServiceName, r.Version, r.Commit, r.BuildTime)
	}
	if remoteErr != nil {
		fmt.Fprintf(out, "\nserver: unreachable (%v)\n", remoteErr)
	}
	return nil
}
