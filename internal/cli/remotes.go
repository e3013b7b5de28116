package cli

import (
	"github.com/dl-alexandre/pdsync/internal/rclone"
	"github.com/dl-alexandre/pdsync/internal/sync/inventory"
	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
	"github.com/spf13/cobra"
)

var remotesCmd = &cobra.Command{
	Use:   "remotes",
	Short: "Inspect rclone remotes",
}

var remotesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the remotes configured in rclone",
	Args:  cobra.NoArgs,
	RunE:  runRemotesList,
}

var remotesTestCmd = &cobra.Command{
	Use:   "test [name]",
	Short: "Check that a remote answers with valid credentials",
	Long:  "Check that a remote answers with valid credentials. Defaults to the configured remote.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRemotesTest,
}

func init() {
	remotesCmd.AddCommand(remotesListCmd)
	remotesCmd.AddCommand(remotesTestCmd)
	rootCmd.AddCommand(remotesCmd)
}

func runRemotesList(cmd *cobra.Command, args []string) error {
	out := newOutput()
	svc := newServices(cfg, logger)

	remotes, err := svc.client.ListRemotes(cmd.Context())
	if err != nil {
		return fail(out, "remotes.list", err)
	}
	resp := &types.RemoteListResponse{Remotes: make([]types.RemoteInfo, 0, len(remotes))}
	for _, r := range remotes {
		resp.Remotes = append(resp.Remotes, types.RemoteInfo{Name: r.Name, Type: r.Type, Proton: inventory.IsProton(r.Type)})
	}
	return out.WriteSuccess("remotes.list", resp)
}

func runRemotesTest(cmd *cobra.Command, args []string) error {
	out := newOutput()
	svc := newServices(cfg, logger)
	ctx := cmd.Context()

	name := cfg.RemoteName
	if len(args) == 1 {
		name = args[0]
	} else {
		if err := resolveRemote(ctx, svc, out); err != nil {
			return fail(out, "remotes.test", err)
		}
		name = cfg.RemoteName
	}
	if rclone.RemoteName(name) == "" {
		return fail(out, "remotes.test", utils.Errorf(utils.ErrCodeInvalidArgument, "no remote given and none configured"))
	}
	result := &types.RemoteTestResponse{Remote: rclone.RemotePath(name)}

	if v, err := svc.client.Version(ctx); err == nil {
		result.RcloneVersion = v
	} else {
		return fail(out, "remotes.test", err)
	}
	if typ, err := svc.client.RemoteType(ctx, name); err == nil {
		result.Type = typ
	} else {
		return fail(out, "remotes.test", err)
	}
	if err := svc.client.CheckRemote(ctx, name); err != nil {
		return fail(out, "remotes.test", err)
	}
	result.Reachable = true
	return out.WriteSuccess("remotes.test", result)
}
