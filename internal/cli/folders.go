package cli

import (
	"github.com/dl-alexandre/pdsync/internal/config"
	"github.com/dl-alexandre/pdsync/internal/rclone"
	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
	"github.com/spf13/cobra"
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Choose which remote folders are mirrored",
}

var foldersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote folders and whether the current policy syncs them",
	Args:  cobra.NoArgs,
	RunE:  runFoldersList,
}

var foldersModeCmd = &cobra.Command{
	Use:   "mode <full|include|exclude>",
	Short: "Set the folder selection mode",
	Long: `Set the folder selection mode.

  full     mirror the whole remote
  include  mirror only the folders on the include list
  exclude  mirror everything except the folders on the exclude list`,
	Args: cobra.ExactArgs(1),
	RunE: runFoldersMode,
}

var foldersIncludeCmd = &cobra.Command{
	Use:   "include",
	Short: "Manage the include list",
}

var foldersExcludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Manage the exclude list",
}

var foldersMaxDepth int

func init() {
	foldersListCmd.Flags().IntVar(&foldersMaxDepth, "max-depth", utils.DefaultListMaxDepth, "How many levels of folders to list")

	for _, list := range []struct {
		parent *cobra.Command
		which  config.FolderList
	}{
		{foldersIncludeCmd, config.Included},
		{foldersExcludeCmd, config.Excluded},
	} {
		which := list.which
		list.parent.AddCommand(&cobra.Command{
			Use:   "add <path>...",
			Short: "Add remote folders to the " + string(which) + " list",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return editFolders(which, args, true)
			},
		})
		list.parent.AddCommand(&cobra.Command{
			Use:   "remove <path>...",
			Short: "Remove remote folders from the " + string(which) + " list",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return editFolders(which, args, false)
			},
		})
		list.parent.AddCommand(&cobra.Command{
			Use:   "show",
			Short: "Show the " + string(which) + " list",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return newOutput().WriteSuccess("folders."+string(which)+".show", folderPolicyResponse(cfg))
			},
		})
	}

	foldersCmd.AddCommand(foldersListCmd)
	foldersCmd.AddCommand(foldersModeCmd)
	foldersCmd.AddCommand(foldersIncludeCmd)
	foldersCmd.AddCommand(foldersExcludeCmd)
	rootCmd.AddCommand(foldersCmd)
}

func runFoldersList(cmd *cobra.Command, args []string) error {
	out := newOutput()
	svc := newServices(cfg, logger)
	if err := resolveRemote(cmd.Context(), svc, out); err != nil {
		return fail(out, "folders.list", err)
	}
	filters, err := filter.Build(cfg.Policy())
	if err != nil {
		// an include policy with no folders yet still lists the remote
		filters = filter.NewArgs()
		out.AddWarning(utils.CodeOf(err), err.Error(), "warning")
	}

	resp := &types.FolderListResponse{
		Remote:  rclone.RemotePath(cfg.RemoteName),
		Mode:    string(cfg.SyncMode),
		Folders: []types.RemoteFolder{},
	}
	for folder, err := range svc.client.ListFolders(cmd.Context(), cfg.RemoteName, foldersMaxDepth) {
		if err != nil {
			return fail(out, "folders.list", err)
		}
		resp.Folders = append(resp.Folders, types.RemoteFolder{
			Path:   folder,
			Synced: folderSynced(filters, folder),
		})
	}
	return out.WriteSuccess("folders.list", resp)
}

func runFoldersMode(cmd *cobra.Command, args []string) error {
	out := newOutput()
	if err := cfg.Set("syncMode", args[0]); err != nil {
		return fail(out, "folders.mode", err)
	}
	if _, err := filter.Build(cfg.Policy()); err != nil {
		out.AddWarning(utils.CodeOf(err), err.Error(), "warning")
	}
	if err := saveConfig(); err != nil {
		return fail(out, "folders.mode", err)
	}
	return out.WriteSuccess("folders.mode", folderPolicyResponse(cfg))
}

func editFolders(which config.FolderList, paths []string, add bool) error {
	out := newOutput()
	command := "folders." + string(which)
	if add {
		command += ".add"
	} else {
		command += ".remove"
	}

	for _, p := range paths {
		var changed bool
		var err error
		if add {
			changed, err = cfg.AddFolder(which, p)
		} else {
			changed, err = cfg.RemoveFolder(which, p)
		}
		if err != nil {
			return fail(out, command, err)
		}
		if !changed {
			out.AddWarning("UNCHANGED", p+": nothing to do", "info")
		}
	}
	if string(cfg.SyncMode) != string(which) {
		out.AddWarning("MODE_MISMATCH", "sync mode is "+string(cfg.SyncMode)+"; run 'pdsync folders mode "+string(which)+"' to use this list", "warning")
	}
	if err := saveConfig(); err != nil {
		return fail(out, command, err)
	}
	return out.WriteSuccess(command, folderPolicyResponse(cfg))
}

// folderSynced reports whether files directly inside folder pass the filters.
func folderSynced(filters filter.Args, folder string) bool {
	return filters.Allows(folder + "/file")
}

func saveConfig() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	return cfg.SaveTo(path)
}

func folderPolicyResponse(c *config.Config) *types.FolderPolicyResponse {
	return &types.FolderPolicyResponse{
		Mode:     string(c.SyncMode),
		Included: append([]string{}, c.IncludedFolders...),
		Excluded: append([]string{}, c.ExcludedFolders...),
	}
}
